package task

import "go.mongodb.org/mongo-driver/v2/bson"

// NewID returns a fresh task id.
func NewID() string { return bson.NewObjectID().Hex() }

// ValidID reports whether s is a well-formed task id.
func ValidID(s string) bool {
	_, err := bson.ObjectIDFromHex(s)
	return err == nil
}

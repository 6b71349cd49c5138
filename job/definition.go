package job

import "context"

// Definition binds a job name to a typed handler. T must be
// JSON-serializable.
type Definition[T any] struct {
	Name    string
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler}
}

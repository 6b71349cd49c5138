// Package mongo implements task.Store, job.Store and dlq.Store on MongoDB
// using the official v2 driver.
//
// Tasks live in the "tasks" collection shared with the agents that create
// chat and mailcast tasks, so task documents keep their camelCase field
// names and ObjectID keys. Scheduler jobs and dead letters use their own
// collections.
//
// The caller owns the client lifecycle:
//
//	client, _ := mongodriver.Connect(options.Client().ApplyURI(dsn))
//	store := mongo.New(client.Database("broadcast"))
//	store.Migrate(ctx)
package mongo

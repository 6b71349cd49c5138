// Package stream wires the service to NATS JetStream.
//
// It owns the connection, provisions the streams, the durable outcome
// consumer and the state bucket, and adapts JetStream pull consumers to
// the consumer.Source contract. It also carries the publisher used for
// agent control messages and dead-letter replay, and the progress
// listener that feeds per-recipient outcomes into campaign counters.
//
// Subjects:
//
//	v1.tasks.updates.{agentId}       per-task outcome events (durable consumer)
//	v1.broadcasts.progress.{agentId} per-recipient progress signals
//	v1.broadcast.control.{agentId}   control messages to an agent
package stream

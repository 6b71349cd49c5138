// Package dlq holds dead letters: scheduler jobs that exhausted their
// retries and outcome messages the consumer gave up on after their final
// delivery. Entries can be listed, purged and replayed.
package dlq

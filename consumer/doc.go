// Package consumer drains per-task outcome events from a durable stream
// into the task store.
//
// Events are buffered in memory keyed by task id, so a task that reports
// twice before a flush is written once with its latest status. The buffer
// is flushed as a single bulk write when it reaches the batch size or when
// the batch timeout has elapsed since the first buffered event, whichever
// comes first.
//
// Messages are acknowledged once buffered. A message that cannot be
// decoded is negatively acknowledged for redelivery until its final
// delivery, at which point it is acknowledged, logged and recorded as a
// dead letter so the stream is never blocked by one bad payload.
//
// Shutdown stops fetching and flushes the buffer synchronously; it is the
// only path that must not lose buffered updates. Fetched but not yet
// acknowledged messages are redelivered by the broker.
package consumer

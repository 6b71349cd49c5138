// Package broadcast is the orchestration core for multi-channel message
// broadcasts. It tracks each campaign's lifecycle under concurrent updates
// and drains per-recipient delivery outcomes into durable task storage.
//
// # Architecture
//
// The core is split the same way the runtime is:
//
//   - state: the broadcast state machine, the progress accumulator and the
//     versioned (compare-and-swap) store contract.
//   - consumer: the durable outcome consumer that batches task updates from
//     the broker stream into the task store.
//   - task: per-recipient task records and the bulk update contract.
//   - campaign: the creation path, cross-campaign policy and user-facing
//     lifecycle operations (pause, resume, cancel).
//
// Backends live under store/ (memory, mongo, redis, natskv, dynamo,
// postgres). The delayed start signal runs on the job/worker packages, a
// database-polling scheduler.
//
// All entity IDs that this service mints use TypeID: type-prefixed,
// K-sortable, UUIDv7-based identifiers.
package broadcast

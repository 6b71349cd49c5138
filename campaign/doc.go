// Package campaign implements the broadcast campaign lifecycle on top of
// the state machine: creation with the per-agent scheduling policy,
// preview, pause, resume, cancel and status, the scheduled start signal
// and a periodic sweep that finishes campaigns whose tasks are all done.
//
// Campaigns are created SCHEDULED. The start job registered by
// [Service.Register] moves them to PROCESSING at their scheduled time and
// tells the sending agent to begin. Outcome counters are advanced by the
// progress listener in package stream; [Sweeper] repairs campaigns whose
// final progress signal was lost.
package campaign

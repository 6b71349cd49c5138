package consumer

import "fmt"

// Action is what the consumer does with a message after handling it.
type Action uint8

const (
	// ActionAck acknowledges a message that was buffered.
	ActionAck Action = iota
	// ActionRetry negatively acknowledges for redelivery.
	ActionRetry
	// ActionDrop acknowledges a message that will never be processed.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDrop:
		return "drop"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Result is the outcome of handling one message.
type Result struct {
	Action Action
	Err    error
}

// Ok reports a message that was buffered.
func Ok() Result { return Result{Action: ActionAck} }

// Retry reports a failure worth another delivery.
func Retry(err error) Result { return Result{Action: ActionRetry, Err: err} }

// Drop reports a failure that no redelivery can fix.
func Drop(err error) Result { return Result{Action: ActionDrop, Err: err} }

// settle turns a failed result into Drop once the message has reached its
// final allowed delivery. deliveries is 1-based, so with maxDeliver 3 the
// first two attempts are retried and the third is dropped.
func settle(r Result, deliveries uint64, maxDeliver int) Result {
	if r.Action == ActionRetry && maxDeliver > 0 && deliveries >= uint64(maxDeliver) {
		return Drop(r.Err)
	}
	return r
}

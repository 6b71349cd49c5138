package broadcast

import "errors"

var (
	// State errors.
	ErrNotFound             = errors.New("broadcast: state not found")
	ErrInvalidTransition    = errors.New("broadcast: invalid status transition")
	ErrConcurrencyConflict  = errors.New("broadcast: concurrent update conflict")
	ErrConcurrencyExhausted = errors.New("broadcast: concurrent update retries exhausted")

	// Campaign policy errors.
	ErrScheduleConflict    = errors.New("broadcast: another broadcast is scheduled within 7 days")
	ErrMaxActiveBroadcasts = errors.New("broadcast: maximum active broadcasts reached for agent")
	ErrNoContacts          = errors.New("broadcast: no contacts found for the specified tags")
	ErrInvalidRequest      = errors.New("broadcast: invalid request")

	// Task errors.
	ErrInvalidTaskID = errors.New("broadcast: invalid task id")
	ErrTaskNotFound  = errors.New("broadcast: task not found")

	// Scheduler errors.
	ErrJobNotFound      = errors.New("broadcast: job not found")
	ErrJobAlreadyExists = errors.New("broadcast: job already exists")
	ErrDLQNotFound      = errors.New("broadcast: dlq entry not found")

	// Consumer errors.
	ErrConsumerClosed = errors.New("broadcast: consumer closed")
)

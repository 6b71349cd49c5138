package stream

import "strings"

// Subject prefixes.
const (
	TaskUpdatesPrefix = "v1.tasks.updates"
	MailcastPrefix    = "v1.tasks.mailcast"
	ProgressPrefix    = "v1.broadcasts.progress"
	ControlPrefix     = "v1.broadcast.control"
	BroadcastsPrefix  = "v1.broadcasts"
	MailcastsPrefix   = "v1.mailcasts"
)

// TaskUpdateSubject returns the subject an agent reports task outcomes on.
func TaskUpdateSubject(agentID string) string {
	return TaskUpdatesPrefix + "." + agentID
}

// ProgressSubject returns the subject an agent reports recipient progress on.
func ProgressSubject(agentID string) string {
	return ProgressPrefix + "." + agentID
}

// ControlSubject returns the subject an agent listens to for control
// messages.
func ControlSubject(agentID string) string {
	return ControlPrefix + "." + agentID
}

// wildcard returns the single-token wildcard subject under prefix.
func wildcard(prefix string) string {
	return prefix + ".*"
}

// AgentFromSubject extracts the trailing agent token of a subject.
func AgentFromSubject(subject string) string {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 {
		return ""
	}
	return subject[i+1:]
}

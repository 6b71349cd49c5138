package redis

// All keys are prefixed with "broadcast:" to avoid collisions.
const keyPrefix = "broadcast:"

// Hash fields of a state entry.
const (
	fieldValue    = "value"
	fieldRevision = "rev"
)

// stateKey returns the Hash key for a campaign: broadcast:state:{agentId}.{batchId}
func stateKey(key string) string { return keyPrefix + "state:" + key }

// agentIndexKey returns the Set of state keys held for an agent.
func agentIndexKey(agentID string) string { return keyPrefix + "agent:" + agentID }

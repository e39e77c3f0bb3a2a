package rpc

import "github.com/google/uuid"

// NewAgentID generates a random identifier for an agent that has no
// configured agent_id, stable for the lifetime of this process.
func NewAgentID() string {
	return uuid.NewString()
}

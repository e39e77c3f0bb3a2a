package rpc

import "github.com/opslink/states-agent/pkg/types"

// Empty is the JSON-codec analogue of google.protobuf.Empty.
type Empty struct{}

// LoadRequest carries the Manager's load(version, states) call.
type LoadRequest struct {
	Version string       `json:"version"`
	States  []types.State `json:"states,omitempty"`
}

// AbortRequest carries the Manager's abort(kill, end) call.
type AbortRequest struct {
	Kill bool `json:"kill"`
	End  bool `json:"end"`
}

// StateDoneRequest carries the Manager's state_done(sid) call.
type StateDoneRequest struct {
	SID string `json:"sid"`
}

// IsWaitingResponse answers is_waiting().
type IsWaitingResponse struct {
	Waiting bool `json:"waiting"`
}

// SendRequest carries the worker's outbound state-log report.
type SendRequest struct {
	Record types.StateLogRecord `json:"record"`
}

// SendResponse answers Send; Accepted=false tells the caller to retry.
type SendResponse struct {
	Accepted bool `json:"accepted"`
}

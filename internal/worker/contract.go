package worker

import (
	"context"

	"github.com/opslink/states-agent/pkg/types"
)

// StateExecutor adapts and runs one state; internal/executor.Executor is
// the shipped implementation, consumed here through a narrow interface so
// it can be swapped for a different adaptor/runner pair without touching
// the worker.
type StateExecutor interface {
	// Adapt lowers a state descriptor into a runnable, opaque value.
	Adapt(state types.State) (any, error)
	// Execute runs a previously adapted value. An error here becomes a
	// FAIL result whose comment is the error text.
	Execute(ctx context.Context, module string, adapted any) (types.StateResult, error)
	// OSType reports a stable host OS identifier.
	OSType() string
}

// Manager is the external collaborator that carries recipes, acks, and log
// uploads between the agent and its backend.
type Manager interface {
	// Send attempts best-effort delivery of record; false means retry.
	Send(record types.StateLogRecord) bool
	// Stop idempotently tears down the Manager connection.
	Stop()
}

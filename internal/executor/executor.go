// Package executor implements the State Executor contract: adapting a raw
// state descriptor into a runnable form and executing it. The states worker
// treats this package as a pluggable boundary — see worker.StateExecutor.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/opslink/states-agent/pkg/types"
)

// ErrUnknownModule is returned by Adapt when no registered module handles
// the state's Module field.
var ErrUnknownModule = fmt.Errorf("unknown module")

// Module adapts and runs one kind of state. Adapt should do cheap,
// local validation only; Execute does the actual work. Both run inside the
// Child Executor's isolated process.
type Module interface {
	// Adapt validates parameter shape and returns a value later handed
	// back to Execute unchanged. An Adapt error becomes a FAIL result
	// whose comment is the error text.
	Adapt(parameter map[string]any) (any, error)
	// Execute performs the state's work. An Execute error becomes a FAIL
	// result whose comment is the error text. A hard abort kills the
	// child's process group; ctx is not cancelled by it.
	Execute(ctx context.Context, adapted any) (types.StateResult, error)
}

// Executor is the concrete State Executor: a registry of Modules plus the
// os_type observer required by the contract.
type Executor struct {
	modules map[string]Module
}

// New builds an Executor pre-registered with the modules this repository
// ships: "shell" and the two builtins remain the worker package's concern
// (meta.wait and meta.comment never reach here).
func New() *Executor {
	e := &Executor{modules: make(map[string]Module)}
	e.Register("shell", ShellModule{})
	return e
}

// Register adds or replaces the Module handling a given state Module name.
func (e *Executor) Register(name string, m Module) {
	e.modules[name] = m
}

// Adapt implements the State Executor contract's adapt operation.
func (e *Executor) Adapt(state types.State) (any, error) {
	m, ok := e.modules[state.Module]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, state.Module)
	}
	return m.Adapt(state.Parameter)
}

// Execute implements the State Executor contract's execute operation.
// module must be the same State.Module that produced adapted via Adapt.
func (e *Executor) Execute(ctx context.Context, module string, adapted any) (types.StateResult, error) {
	m, ok := e.modules[module]
	if !ok {
		return types.StateResult{}, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}
	return m.Execute(ctx, adapted)
}

// OSType implements the State Executor contract's os_type observer.
func (e *Executor) OSType() string {
	return runtime.GOOS
}

// ShellModule runs parameter["cmd"] through /bin/sh -c. It is the one
// concrete module this repository ships, standing in for the original's
// call into an external state runner — a single external-command boundary,
// matching the scope the original's state/runner.py had (one call out to
// a separate subsystem, nothing more).
type ShellModule struct{}

type shellAdapted struct {
	cmd string
}

func (ShellModule) Adapt(parameter map[string]any) (any, error) {
	raw, ok := parameter["cmd"]
	if !ok {
		return nil, fmt.Errorf("shell: missing required parameter %q", "cmd")
	}
	cmd, ok := raw.(string)
	if !ok || cmd == "" {
		return nil, fmt.Errorf("shell: parameter %q must be a non-empty string", "cmd")
	}
	return shellAdapted{cmd: cmd}, nil
}

func (ShellModule) Execute(ctx context.Context, adapted any) (types.StateResult, error) {
	a, ok := adapted.(shellAdapted)
	if !ok {
		return types.StateResult{}, fmt.Errorf("shell: execute called with mismatched adapted value")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", a.cmd)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := types.StateResult{
		Success: err == nil,
		OutLog:  stdout.String(),
		Comment: stderr.String(),
	}
	if err != nil {
		if result.Comment == "" {
			result.Comment = err.Error()
		}
		return result, nil
	}
	if result.Comment == "" {
		result.Comment = "shell command succeeded"
	}
	return result, nil
}

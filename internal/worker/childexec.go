// ============================================================================
// Child Executor - per-state process isolation
// ============================================================================
//
// File: childexec.go
// Purpose: supervise exactly one state in a freshly spawned child process,
// able to hard-terminate it (and any grandchildren) via a process-group
// signal.
//
// Grounded on the group-kill pattern used by external process supervisors:
// put the child in its own process group with SysProcAttr{Setpgid: true},
// then signal the whole group with syscall.Kill(-pgid, sig) so a module
// that itself shells out cannot survive a hard abort. Plain cmd.Process.Kill
// only signals the immediate child, leaving orphaned grandchildren running.
//
// Since the states this worker runs are Go code linked into this same
// binary (internal/executor), "spawn a child process" means re-executing
// this binary with a hidden subcommand that performs exactly one state and
// reports the result over its stdout pipe — the Go analogue of forking a
// worker process, used by several self-reexec tools in the ecosystem.
// ============================================================================

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/opslink/states-agent/pkg/types"
)

// ReexecSubcommand is the hidden argv[1] this binary recognizes as "act as
// a Child Executor for one state, read it from stdin, write the result to
// stdout, exit." cmd/statesagent wires this to RunChildMain.
const ReexecSubcommand = "__exec_state"

// childKillRetry is the cadence of the group-kill retry loop: a bounded
// 100ms retry until the process group vanishes.
const childKillRetry = 100 * time.Millisecond

// ChildExecutor supervises a single spawned child process running one
// state. At most one ChildExecutor is ever running at a time (Invariant 1).
type ChildExecutor struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	pid    int
}

// StartChildExecutor spawns a child process to run state, re-executing the
// current binary with ReexecSubcommand. The state descriptor (already
// watch-preprocessed by the caller) is written to the child's stdin as
// JSON.
func StartChildExecutor(state types.State) (*ChildExecutor, error) {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("childexec: marshal state: %w", err)
	}

	c := &ChildExecutor{cmd: exec.Command(self, ReexecSubcommand)}
	c.cmd.Stdin = bytes.NewReader(payload)
	c.cmd.Stdout = &c.stdout
	c.cmd.Stderr = &c.stdout
	// Put the child in its own process group so a hard abort can signal
	// the whole subtree, not just this one process.
	c.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.cmd.Start(); err != nil {
		return nil, fmt.Errorf("childexec: start: %w", err)
	}
	c.pid = c.cmd.Process.Pid
	return c, nil
}

// Wait blocks until the child exits and returns its reported result.
// A non-zero exit with no parseable result is treated as an unclassified
// child crash.
func (c *ChildExecutor) Wait() types.StateResult {
	err := c.cmd.Wait()

	var result types.StateResult
	if decodeErr := json.Unmarshal(c.stdout.Bytes(), &result); decodeErr != nil {
		comment := "Internal error: child produced no result"
		if err != nil {
			comment = fmt.Sprintf("Internal error: %v", err)
		}
		return types.StateResult{Success: false, Comment: comment}
	}
	return result
}

// Kill group-signals the child with SIGKILL in a retry loop until the
// process group becomes unreachable. Safe to call concurrently with Wait
// returning naturally.
func (c *ChildExecutor) Kill() {
	groupKillRetryLoop(c.pid)
}

// groupKillRetryLoop signals the process group led by pid with SIGKILL
// until the group is gone, polling at childKillRetry cadence. Shared by
// ChildExecutor and the recipe-delay sleeper, both of which are started
// with Setpgid so pid is also their process group id.
func groupKillRetryLoop(pid int) {
	if pid <= 0 {
		return
	}
	for {
		pgid, err := syscall.Getpgid(pid)
		if err != nil {
			// ESRCH: the process (and with it, the group leader) is gone.
			return
		}
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		if err := syscall.Kill(pid, 0); err != nil {
			return
		}
		time.Sleep(childKillRetry)
	}
}

// RunChildMain is the entry point cmd/statesagent invokes when re-executed
// with ReexecSubcommand. It reads a state descriptor from stdin, runs it
// through ex (handling the meta.comment builtin inline; meta.wait never
// reaches here, see waitbarrier.go), and writes the StateResult to stdout
// as JSON. Returns a process exit code.
func RunChildMain(ctx context.Context, ex StateExecutor, stdin []byte, stdout *os.File) int {
	var state types.State
	if err := json.Unmarshal(stdin, &state); err != nil {
		writeResult(stdout, types.StateResult{Success: false, Comment: fmt.Sprintf("Internal error: %v", err)})
		return 1
	}

	result := runStateInChild(ctx, ex, state)
	writeResult(stdout, result)
	if !result.Success {
		return 1
	}
	return 0
}

func runStateInChild(ctx context.Context, ex StateExecutor, state types.State) types.StateResult {
	if state.Module == "meta.comment" {
		return types.StateResult{Success: true, Comment: "no-op"}
	}

	adapted, err := ex.Adapt(state)
	if err != nil {
		return types.StateResult{Success: false, Comment: err.Error()}
	}

	result, err := ex.Execute(ctx, state.Module, adapted)
	if err != nil {
		return types.StateResult{Success: false, Comment: err.Error()}
	}
	return result
}

func writeResult(w *os.File, result types.StateResult) {
	enc := json.NewEncoder(w)
	_ = enc.Encode(result)
}

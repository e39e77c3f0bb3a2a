// ============================================================================
// States Worker - recipe loop, dispatch, retry and abort state machine
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Purpose: execute an ordered recipe of declarative states one at a time,
// each in a supervised child process, coordinating with a Manager for
// cross-host synchronisation and tolerating mid-execution reload, abort,
// and kill.
//
// Concurrency model: a single mutex + condition variable pair. The worker
// never holds the mutex while blocked on a child's Wait() — acquiring it
// there would deadlock a concurrent hard abort.
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opslink/states-agent/internal/checksum"
	"github.com/opslink/states-agent/internal/metrics"
	"github.com/opslink/states-agent/internal/moduleset"
	"github.com/opslink/states-agent/pkg/types"
)

const (
	// waitState is the pause between two successful states in the same
	// recipe cycle.
	waitState = 1 * time.Second
	// waitStateRetry is the pause before restarting a recipe from state 0
	// after a failure.
	waitStateRetry = 2 * time.Second
	// waitResend is the pause between retries of a rejected Send.
	waitResend = 2 * time.Second
	// recipeCountReset bounds recipeCount; any monotonically increasing
	// tag with a staleness check would serve equally.
	recipeCountReset = 4096
)

// Config bundles the worker's fixed dependencies and settings. The State
// Executor itself is not one of them: states run in a re-executed child
// process (see childexec.go), so the executor is wired in cmd/statesagent's
// ReexecSubcommand branch, not here.
type Config struct {
	AgentID      string
	Manager      Manager
	Modules      *moduleset.ModuleSet
	Checksums    *checksum.Store
	Metrics      *metrics.Collector
	DelaySeconds int // salt.delay, already converted to seconds
}

// Worker is the States Worker: process-wide, single instance.
type Worker struct {
	mu   sync.Mutex
	cond *sync.Cond

	agentID      string
	manager      Manager
	modules      *moduleset.ModuleSet
	checksums    *checksum.Store
	metrics      *metrics.Collector
	delaySeconds int
	log          *slog.Logger

	version      string
	states       []types.State
	status       int
	run          bool
	abortMode    types.AbortMode
	endRequested bool
	recipeCount  int
	doneSet      map[string]bool
	waitingSID   string

	executing *ChildExecutor
	delay     *recipeDelay
}

// New builds a Worker from cfg. Call Run in its own goroutine to start the
// recipe loop; the worker is idle (waiting for the first Load) until then.
func New(cfg Config) *Worker {
	w := &Worker{
		agentID:      cfg.AgentID,
		manager:      cfg.Manager,
		modules:      cfg.Modules,
		checksums:    cfg.Checksums,
		metrics:      cfg.Metrics,
		delaySeconds: cfg.DelaySeconds,
		doneSet:      make(map[string]bool),
		log:          slog.Default().With("component", "states_worker"),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Load atomically replaces the active Recipe. A call with no states only
// changes version and resumes the previously loaded recipe.
func (w *Worker) Load(version string, states []types.State) error {
	if states != nil && len(states) == 0 {
		return ErrInvalidRecipe
	}

	w.mu.Lock()
	if states != nil {
		w.states = deepCopyStates(states)
		w.status = 0
	}
	w.version = version
	w.recipeCount = (w.recipeCount + 1) % recipeCountReset
	w.run = true
	w.abortMode = types.AbortNone
	w.endRequested = false
	w.cond.Broadcast()
	w.mu.Unlock()

	w.log.Info("recipe loaded", "version", version, "states", len(states))
	return nil
}

func deepCopyStates(states []types.State) []types.State {
	out := make([]types.State, len(states))
	for i, s := range states {
		cp := s
		cp.Parameter = make(map[string]any, len(s.Parameter))
		for k, v := range s.Parameter {
			cp.Parameter[k] = v
		}
		out[i] = cp
	}
	return out
}

func abortRank(m types.AbortMode) int {
	switch m {
	case types.AbortHard:
		return 2
	case types.AbortSoft:
		return 1
	default:
		return 0
	}
}

// Abort requests termination. kill=false is a soft abort (finish the
// current state, then stop); kill=true is a hard abort (terminate the
// current state's child immediately). end=true additionally stops the
// Manager once the worker exits. Idempotent: a call that does not escalate
// the abort mode is a no-op beyond latching end.
func (w *Worker) Abort(kill, end bool) {
	requested := types.AbortSoft
	if kill {
		requested = types.AbortHard
	}

	w.mu.Lock()
	if w.abortMode != types.AbortNone && abortRank(requested) <= abortRank(w.abortMode) {
		if end {
			w.endRequested = true
		}
		w.mu.Unlock()
		return
	}

	w.abortMode = requested
	if end {
		w.endRequested = true
	}
	w.run = false
	executing := w.executing
	delay := w.delay
	w.cond.Broadcast()
	w.mu.Unlock()

	// A recipe delay is cut short on any abort, soft or hard: soft abort
	// still has to let the worker's outer loop observe run==false instead
	// of sitting out the rest of salt.delay. Only the currently executing
	// state's child is spared on a soft abort, so it can finish.
	if delay != nil {
		delay.Kill()
	}
	if kill && executing != nil {
		executing.Kill()
	}
}

// Kill hard-stops the current state execution without terminating the
// worker's outer loop; equivalent to Abort(kill=true, end=false) scoped to
// the current state.
func (w *Worker) Kill() {
	w.mu.Lock()
	executing := w.executing
	w.mu.Unlock()
	if executing != nil {
		executing.Kill()
	}
}

// StateDone records that external state sid has completed, waking any
// local Wait Barrier blocked on it.
func (w *Worker) StateDone(sid string) {
	w.mu.Lock()
	w.doneSet[sid] = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// IsWaiting reports whether the worker is currently blocked in a Wait
// Barrier.
func (w *Worker) IsWaiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waitingSID != ""
}

// GetVersion reports the active recipe version and worker status.
func (w *Worker) GetVersion() types.VersionReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return types.VersionReport{
		Version:     w.version,
		RecipeCount: w.recipeCount,
		Running:     w.run,
		Waiting:     w.waitingSID != "",
		Aborted:     w.abortMode != types.AbortNone,
	}
}

// SetManager hot-swaps the Manager connection without restarting the
// worker, matching the original's manager-replacement behavior.
func (w *Worker) SetManager(m Manager) {
	w.mu.Lock()
	w.manager = m
	w.mu.Unlock()
}

// IsRunning reports whether the worker is actively executing a recipe.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.run
}

// Aborted reports whether an abort has been requested for the current (or
// most recent) cycle.
func (w *Worker) Aborted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.abortMode != types.AbortNone
}

// Run is the outer driver: wait for a recipe, execute it to completion or
// abort, reset, and wait again — until an abort with end=true is observed.
// Run is intended to be called once, in its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	for {
		w.mu.Lock()
		for !w.run {
			if w.abortMode != types.AbortNone && w.endRequested {
				w.mu.Unlock()
				if w.manager != nil {
					w.manager.Stop()
				}
				return
			}
			w.cond.Wait()
		}
		w.mu.Unlock()

		w.runCycle(ctx)

		w.mu.Lock()
		w.status = 0
		w.run = false
		endNow := w.abortMode != types.AbortNone && w.endRequested
		w.mu.Unlock()
		if endNow {
			if w.manager != nil {
				w.manager.Stop()
			}
			return
		}
	}
}

// runCycle executes the main loop against the currently loaded recipe
// until it finishes, fails terminally, or an abort is observed.
func (w *Worker) runCycle(ctx context.Context) {
	for {
		w.mu.Lock()
		if !w.run {
			w.mu.Unlock()
			return
		}
		if len(w.states) == 0 {
			w.run = false
			w.mu.Unlock()
			return
		}
		if w.status == 0 {
			if err := w.modules.Reload(); err != nil {
				w.mu.Unlock()
				w.reportSynthetic(w.firstState(), "Can't load states modules.")
				w.mu.Lock()
				w.run = false
				w.mu.Unlock()
				return
			}
		}

		state := w.states[w.status]
		version := w.version
		recipeCountAtDispatch := w.recipeCount
		w.mu.Unlock()

		result := w.dispatchState(ctx, state)

		w.mu.Lock()
		stillFresh := w.run && w.recipeCount == recipeCountAtDispatch
		w.mu.Unlock()
		if stillFresh {
			w.send(types.StateLogRecord{
				AgentID:     w.agentID,
				RecipeVer:   version,
				RecipeCount: recipeCountAtDispatch,
				StateID:     state.ID,
				Module:      state.Module,
				Success:     result.Success,
				Comment:     result.Comment,
				OutLog:      result.OutLog,
				Timestamp:   time.Now(),
			})
		}
		w.recordMetric(state, result)

		if result.Success {
			if !w.advanceOrWrap() {
				return
			}
			continue
		}

		w.mu.Lock()
		aborting := w.abortMode != types.AbortNone
		w.mu.Unlock()
		if aborting {
			return
		}
		w.mu.Lock()
		w.status = 0
		w.mu.Unlock()
		time.Sleep(waitStateRetry)
	}
}

func (w *Worker) firstState() types.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.states) == 0 {
		return types.State{}
	}
	return w.states[0]
}

// advanceOrWrap moves status forward after a successful state, or runs the
// recipe delay and wraps back to 0 after the last state. Returns false if
// the cycle should stop (an abort was observed).
func (w *Worker) advanceOrWrap() bool {
	w.mu.Lock()
	next := w.status + 1
	isLast := next >= len(w.states)
	w.mu.Unlock()

	if !isLast {
		time.Sleep(waitState)
		w.mu.Lock()
		w.status = next
		aborting := w.abortMode != types.AbortNone
		w.mu.Unlock()
		return !aborting
	}

	w.runRecipeDelay()
	w.mu.Lock()
	w.status = 0
	aborting := w.abortMode != types.AbortNone
	w.mu.Unlock()
	return !aborting
}

// runRecipeDelay blocks for delaySeconds via a group-killable sleeper
// child, skipping entirely when the delay is zero.
func (w *Worker) runRecipeDelay() {
	if w.delaySeconds <= 0 {
		return
	}
	d, err := startRecipeDelay(w.delaySeconds)
	if err != nil {
		w.log.Error("recipe delay failed to start", "error", err)
		return
	}
	w.mu.Lock()
	w.delay = d
	w.mu.Unlock()

	start := time.Now()
	d.Wait()
	elapsed := time.Since(start)

	w.mu.Lock()
	w.delay = nil
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.ObserveRecipeDelay(elapsed.Seconds())
	}
}

// dispatchState runs one state: builtins are special-cased, everything
// else is watch-preprocessed and handed to a freshly spawned Child
// Executor.
func (w *Worker) dispatchState(ctx context.Context, state types.State) types.StateResult {
	switch state.Module {
	case "meta.wait":
		return w.execWaitBarrier(state.ID)
	case "meta.comment":
		return types.StateResult{Success: true, Comment: "no-op"}
	}

	preprocessed, err := preprocessWatch(w.checksums, state)
	if err != nil {
		return types.StateResult{Success: false, Comment: err.Error()}
	}

	child, err := StartChildExecutor(preprocessed)
	if err != nil {
		return types.StateResult{Success: false, Comment: fmt.Sprintf("Internal error: %v", err)}
	}

	w.mu.Lock()
	w.executing = child
	w.mu.Unlock()

	result := child.Wait()

	w.mu.Lock()
	w.executing = nil
	w.mu.Unlock()

	return result
}

// send implements the network relay: retry until success, until run
// becomes false, or until recipeCount changes out from under it (the
// recipe was replaced and the report is stale).
func (w *Worker) send(record types.StateLogRecord) {
	for {
		w.mu.Lock()
		stillFresh := w.run && w.recipeCount == record.RecipeCount
		manager := w.manager
		w.mu.Unlock()
		if !stillFresh {
			return
		}
		if manager == nil {
			w.log.Warn("send retrying", "error", ErrNoManager, "state_id", record.StateID)
			time.Sleep(waitResend)
			continue
		}
		if manager.Send(record) {
			return
		}
		time.Sleep(waitResend)
	}
}

// reportSynthetic sends a synthetic FAIL report for a state that could not
// even be dispatched (module load failure).
func (w *Worker) reportSynthetic(state types.State, comment string) {
	w.mu.Lock()
	version := w.version
	recipeCount := w.recipeCount
	w.mu.Unlock()

	w.send(types.StateLogRecord{
		AgentID:     w.agentID,
		RecipeVer:   version,
		RecipeCount: recipeCount,
		StateID:     state.ID,
		Module:      state.Module,
		Success:     false,
		Comment:     comment,
		Timestamp:   time.Now(),
	})
}

func (w *Worker) recordMetric(state types.State, result types.StateResult) {
	if w.metrics == nil {
		return
	}
	w.metrics.RecordState(state.Module, result.Success)
}

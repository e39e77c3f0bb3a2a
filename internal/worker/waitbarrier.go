// ============================================================================
// Wait Barrier - cross-host rendezvous via meta.wait
// ============================================================================
//
// File: waitbarrier.go
// Purpose: block a state on another host announcing a named sid complete.
//
// This runs in the parent (worker) goroutine rather than a spawned Child
// Executor: meta.wait needs to observe done_set updates the control
// surface's StateDone makes, and in Go the simplest correct way to share
// that view is to not cross a process boundary for it at all. This loses
// child-process isolation for exactly one builtin, which is an accepted
// trade.
// ============================================================================

package worker

import "github.com/opslink/states-agent/pkg/types"

// execWaitBarrier blocks until sid is recorded done or run becomes false,
// implementing the wait protocol on top of the worker's own mutex/cond pair.
func (w *Worker) execWaitBarrier(sid string) types.StateResult {
	if sid == "" {
		return types.StateResult{Success: false, Comment: ErrWaitFormat.Error()}
	}

	if w.metrics != nil {
		w.metrics.SetWaiting(true)
		defer w.metrics.SetWaiting(false)
	}

	w.mu.Lock()
	w.waitingSID = sid
	for !w.doneSet[sid] && w.run {
		w.cond.Wait()
	}
	success := w.doneSet[sid]
	w.waitingSID = ""
	w.mu.Unlock()

	if success {
		return types.StateResult{Success: true}
	}
	return types.StateResult{Success: false}
}

package worker

// ============================================================================
// States Worker Test File
// Purpose: verify the recipe loop, abort/kill behavior, wait barrier
// liveness, and stale-report dropping against spec scenarios S1-S6.
//
// Uses the TestMain self-reexec pattern (the same one os/exec's own tests
// use): when this test binary is re-invoked with ReexecSubcommand, it acts
// as a Child Executor instead of running the test suite.
// ============================================================================

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslink/states-agent/internal/checksum"
	"github.com/opslink/states-agent/internal/executor"
	"github.com/opslink/states-agent/internal/metrics"
	"github.com/opslink/states-agent/internal/moduleset"
	"github.com/opslink/states-agent/pkg/types"
)

// gaugeValue reads a single-sample gauge's current value straight off the
// default Prometheus registry, without internal/metrics exposing its
// private fields.
func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func histogramCount(t *testing.T, name string) uint64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == ReexecSubcommand {
		data, _ := io.ReadAll(os.Stdin)
		code := RunChildMain(context.Background(), executor.New(), data, os.Stdout)
		os.Exit(code)
	}
	os.Exit(m.Run())
}

// fakeManager records every Send in order; reject optionally rejects
// the first N sends to exercise the relay's retry loop.
type fakeManager struct {
	mu      sync.Mutex
	records []types.StateLogRecord
	stopped bool
	reject  int
}

func (f *fakeManager) Send(record types.StateLogRecord) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject > 0 {
		f.reject--
		return false
	}
	f.records = append(f.records, record)
	return true
}

func (f *fakeManager) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeManager) snapshot() []types.StateLogRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.StateLogRecord, len(f.records))
	copy(out, f.records)
	return out
}

func newTestWorker(t *testing.T, mgr Manager) *Worker {
	t.Helper()
	dir := t.TempDir()
	return New(Config{
		AgentID:      "test-agent",
		Manager:      mgr,
		Modules:      moduleset.New(moduleset.Config{}),
		Checksums:    checksum.NewStore(dir + "/checksums.json"),
		DelaySeconds: 0,
	})
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// TestHappyRecipe is S1: two meta.comment states, delay=0, expect the
// recipe to wrap and repeat within a few seconds.
func TestHappyRecipe(t *testing.T) {
	mgr := &fakeManager{}
	w := newTestWorker(t, mgr)
	go w.Run(context.Background())

	require.NoError(t, w.Load("v1", []types.State{
		{ID: "a", Module: "meta.comment"},
		{ID: "b", Module: "meta.comment"},
	}))

	ok := waitUntil(t, 4*time.Second, func() bool {
		return len(mgr.snapshot()) >= 4
	})
	require.True(t, ok, "expected at least 4 reports within 4s")

	records := mgr.snapshot()
	assert.Equal(t, "a", records[0].StateID)
	assert.True(t, records[0].Success)
	assert.Equal(t, "b", records[1].StateID)
	assert.True(t, records[1].Success)
	assert.Equal(t, "a", records[2].StateID)
	assert.Equal(t, "b", records[3].StateID)

	w.Abort(true, true)
}

// TestHardAbortBoundedKill is S3/property-2: a hard abort must terminate a
// sleep-forever state within 2s and leave no executing/delay handle.
func TestHardAbortBoundedKill(t *testing.T) {
	mgr := &fakeManager{}
	w := newTestWorker(t, mgr)
	go w.Run(context.Background())

	require.NoError(t, w.Load("v1", []types.State{
		{ID: "slow", Module: "shell", Parameter: map[string]any{"cmd": "sleep 60"}},
	}))

	time.Sleep(200 * time.Millisecond)
	start := time.Now()
	w.Abort(true, true)

	ok := waitUntil(t, 2*time.Second, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.executing == nil && w.delay == nil
	})
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)

	for _, r := range mgr.snapshot() {
		assert.NotEqual(t, "slow", r.StateID, "no report should be delivered for the killed state")
	}
}

// TestSoftAbortCutsShortRecipeDelay ensures a soft abort wakes the worker
// out of a long recipe delay instead of waiting out the full interval,
// matching the CLI shutdown path (w.Abort(false, true)).
func TestSoftAbortCutsShortRecipeDelay(t *testing.T) {
	mgr := &fakeManager{}
	dir := t.TempDir()
	w := New(Config{
		AgentID:      "test-agent",
		Manager:      mgr,
		Modules:      moduleset.New(moduleset.Config{}),
		Checksums:    checksum.NewStore(dir + "/checksums.json"),
		DelaySeconds: 3600,
	})
	go w.Run(context.Background())

	require.NoError(t, w.Load("v1", []types.State{
		{ID: "a", Module: "meta.comment"},
	}))

	ok := waitUntil(t, 2*time.Second, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.delay != nil
	})
	require.True(t, ok, "worker should enter the recipe delay after the only state succeeds")

	start := time.Now()
	w.Abort(false, true)

	ok = waitUntil(t, 2*time.Second, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.run && w.delay == nil
	})
	assert.True(t, ok, "soft abort must interrupt an hour-long recipe delay, not wait it out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestMetricsWiredForWaitBarrierAndRecipeDelay confirms wait_barrier_active
// and recipe_delay_seconds, not just states_executed_total, actually move
// as the worker hits the events they describe.
func TestMetricsWiredForWaitBarrierAndRecipeDelay(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	prometheus.DefaultGatherer = prometheus.DefaultRegisterer.(*prometheus.Registry)
	col := metrics.NewCollector()

	mgr := &fakeManager{}
	dir := t.TempDir()
	w := New(Config{
		AgentID:      "test-agent",
		Manager:      mgr,
		Modules:      moduleset.New(moduleset.Config{}),
		Checksums:    checksum.NewStore(dir + "/checksums.json"),
		Metrics:      col,
		DelaySeconds: 1,
	})
	go w.Run(context.Background())

	require.NoError(t, w.Load("v1", []types.State{
		{ID: "w", Module: "meta.wait"},
	}))

	require.True(t, waitUntil(t, 1*time.Second, w.IsWaiting))
	assert.Equal(t, float64(1), gaugeValue(t, "wait_barrier_active"))

	w.StateDone("w")
	require.True(t, waitUntil(t, 1*time.Second, func() bool { return !w.IsWaiting() }))
	assert.Equal(t, float64(0), gaugeValue(t, "wait_barrier_active"))

	require.True(t, waitUntil(t, 1*time.Second, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.delay != nil
	}))
	require.True(t, waitUntil(t, 3*time.Second, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.delay == nil
	}))
	assert.Equal(t, uint64(1), histogramCount(t, "recipe_delay_seconds"))

	w.Abort(true, true)
}

// TestWaitBarrierLiveness is S4: a meta.wait state succeeds once
// StateDone is called while running, and is_waiting toggles accordingly.
func TestWaitBarrierLiveness(t *testing.T) {
	mgr := &fakeManager{}
	w := newTestWorker(t, mgr)
	go w.Run(context.Background())

	require.NoError(t, w.Load("v1", []types.State{
		{ID: "w", Module: "meta.wait"},
	}))

	ok := waitUntil(t, 1*time.Second, w.IsWaiting)
	require.True(t, ok, "worker should report waiting before state_done")

	w.StateDone("w")

	ok = waitUntil(t, 2*time.Second, func() bool {
		for _, r := range mgr.snapshot() {
			if r.StateID == "w" {
				return true
			}
		}
		return false
	})
	require.True(t, ok)
	assert.False(t, w.IsWaiting())

	records := mgr.snapshot()
	assert.True(t, records[0].Success)

	w.Abort(true, true)
}

// TestWaitBarrierAbortedFails ensures an abort while waiting releases the
// barrier rather than leaving it hanging forever. The barrier's FAIL result
// is not observed here: run is already false, so it is never reported.
func TestWaitBarrierAbortedFails(t *testing.T) {
	mgr := &fakeManager{}
	w := newTestWorker(t, mgr)
	go w.Run(context.Background())

	require.NoError(t, w.Load("v1", []types.State{
		{ID: "w", Module: "meta.wait"},
	}))

	require.True(t, waitUntil(t, 1*time.Second, w.IsWaiting))

	w.Abort(false, true)

	ok := waitUntil(t, 1*time.Second, func() bool { return !w.IsWaiting() })
	assert.True(t, ok)
}

// TestStaleReportDropped is S6: a load mid-retry invalidates the earlier
// recipe's in-flight report.
func TestStaleReportDropped(t *testing.T) {
	mgr := &fakeManager{reject: 1000}
	w := newTestWorker(t, mgr)
	go w.Run(context.Background())

	require.NoError(t, w.Load("v1", []types.State{
		{ID: "a", Module: "meta.comment"},
	}))

	time.Sleep(200 * time.Millisecond)

	require.NoError(t, w.Load("v2", []types.State{
		{ID: "z", Module: "meta.comment"},
	}))

	mgr.mu.Lock()
	mgr.reject = 0
	mgr.mu.Unlock()

	ok := waitUntil(t, 3*time.Second, func() bool {
		for _, r := range mgr.snapshot() {
			if r.RecipeVer == "v2" {
				return true
			}
		}
		return false
	})
	require.True(t, ok)

	for _, r := range mgr.snapshot() {
		assert.NotEqual(t, "v1", r.RecipeVer, "stale v1 report must never be delivered")
	}

	w.Abort(true, true)
}

// TestRetryOnFailure is S2: a state that fails twice then succeeds should
// report FAIL, FAIL, SUCCESS, with at least waitStateRetry between FAILs.
func TestRetryOnFailure(t *testing.T) {
	dir := t.TempDir()
	counter := dir + "/attempts"

	mgr := &fakeManager{}
	w := newTestWorker(t, mgr)
	go w.Run(context.Background())

	// Fails (exit 1) on the first two invocations, succeeds on the third.
	cmd := "n=$(cat " + counter + " 2>/dev/null || echo 0); n=$((n+1)); echo $n > " + counter + "; [ $n -ge 3 ]"
	require.NoError(t, w.Load("v1", []types.State{
		{ID: "x", Module: "shell", Parameter: map[string]any{"cmd": cmd}},
	}))

	ok := waitUntil(t, 8*time.Second, func() bool {
		return len(mgr.snapshot()) >= 3
	})
	require.True(t, ok, "expected 3 reports (fail, fail, success) within 8s")

	records := mgr.snapshot()
	assert.Equal(t, "x", records[0].StateID)
	assert.False(t, records[0].Success)
	assert.Equal(t, "x", records[1].StateID)
	assert.False(t, records[1].Success)
	assert.Equal(t, "x", records[2].StateID)
	assert.True(t, records[2].Success)
	assert.GreaterOrEqual(t, records[1].Timestamp.Sub(records[0].Timestamp), waitStateRetry-50*time.Millisecond)

	w.Abort(true, true)
}

func TestLoadRejectsEmptyStates(t *testing.T) {
	mgr := &fakeManager{}
	w := newTestWorker(t, mgr)
	err := w.Load("v1", []types.State{})
	assert.ErrorIs(t, err, ErrInvalidRecipe)
}

func TestAbortIdempotentSoftAfterHard(t *testing.T) {
	mgr := &fakeManager{}
	w := newTestWorker(t, mgr)
	w.Abort(true, false)
	w.mu.Lock()
	mode := w.abortMode
	w.mu.Unlock()
	assert.Equal(t, types.AbortHard, mode)

	w.Abort(false, false)
	w.mu.Lock()
	mode = w.abortMode
	w.mu.Unlock()
	assert.Equal(t, types.AbortHard, mode, "soft abort after hard must not de-escalate")
}

func TestGetVersionReflectsState(t *testing.T) {
	mgr := &fakeManager{}
	w := newTestWorker(t, mgr)
	go w.Run(context.Background())

	require.NoError(t, w.Load("v7", []types.State{{ID: "a", Module: "meta.comment"}}))
	time.Sleep(50 * time.Millisecond)

	report := w.GetVersion()
	assert.Equal(t, "v7", report.Version)

	w.Abort(true, true)
}

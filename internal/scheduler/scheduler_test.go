package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"simorchestrator/internal/apperrors"
	"simorchestrator/internal/run"
	"simorchestrator/internal/testutil"
)

func testConfig() Config {
	return Config{
		MaxConcurrentRuns: 3,
		Workers:           5,
		SetupTimeout:      time.Second,
		LivenessInterval:  5 * time.Millisecond,
		ControlTimeout:    time.Second,
	}
}

func newTestScheduler(t *testing.T, cfg Config, listeners ...Listener) (*Scheduler, *fakeEngine, *recordingStore) {
	t.Helper()
	eng := newFakeEngine()
	store := &recordingStore{}
	s := New(cfg, eng, store, nil, listeners...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, eng, store
}

func pendingRun(id string) *run.Run {
	return &run.Run{ID: id, ModelName: "harbour", State: run.StatePending}
}

func wait(t *testing.T, f *Future) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("future did not resolve: %v", err)
	}
	return o
}

func terminalCount(states []run.State) int {
	n := 0
	for _, s := range states {
		if s.IsTerminal() {
			n++
		}
	}
	return n
}

func TestSubmit_RunsToFinish(t *testing.T) {
	t.Parallel()
	s, eng, store := newTestScheduler(t, testConfig())

	f, err := s.Submit(context.Background(), pendingRun("run-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got, ok := s.Active("run-1"); !ok || got.State != run.StateRunning || got.StartedAt == nil {
		t.Fatalf("expected active RUNNING run with startedAt, got %+v", got)
	}

	eng.handle("run-1").finish()
	o := wait(t, f)
	if o.State != run.StateFinished || o.Reason != nil {
		t.Errorf("expected clean FINISHED outcome, got %+v", o)
	}

	final := store.last("run-1")
	if final.State != run.StateFinished || final.EndedAt == nil {
		t.Errorf("expected FINISHED with endedAt, got %s endedAt=%v", final.State, final.EndedAt)
	}
	if _, ok := s.Active("run-1"); ok {
		t.Error("finished run must not keep a slot")
	}
	if s.Stats().Active != 0 {
		t.Errorf("expected 0 active runs, got %d", s.Stats().Active)
	}
	if eng.handle("run-1").closes.Load() != 1 {
		t.Errorf("expected engine instance closed once, got %d", eng.handle("run-1").closes.Load())
	}
}

func TestSubmit_InjectsRunIDIntoAgentParameters(t *testing.T) {
	t.Parallel()
	s, eng, _ := newTestScheduler(t, testConfig())

	r := pendingRun("run-agent")
	r.AgentParameters = []byte(`{"agents":3,"runId": null}`)
	if _, err := s.Submit(context.Background(), r); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	got := string(eng.handle("run-agent").params.Agent)
	if got != `{"agents":3,"runId":"run-agent"}` {
		t.Errorf("unexpected agent parameters %s", got)
	}
}

func TestSubmit_CeilingOfOne(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxConcurrentRuns = 1
	s, eng, store := newTestScheduler(t, cfg)
	ctx := context.Background()

	first, err := s.Submit(ctx, pendingRun("a"))
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	before := store.count()
	if _, err := s.Submit(ctx, pendingRun("b")); !errors.Is(err, apperrors.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if store.count() != before {
		t.Error("rejected run must not be written")
	}
	if eng.setups.Load() != 1 {
		t.Errorf("expected 1 engine setup, got %d", eng.setups.Load())
	}

	eng.handle("a").finish()
	wait(t, first)

	if _, err := s.Submit(ctx, pendingRun("b")); err != nil {
		t.Fatalf("Submit after release failed: %v", err)
	}
}

func TestSubmit_ConcurrentSubmittersRespectCeiling(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Workers = 20
	s, _, _ := newTestScheduler(t, cfg)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), pendingRun(string(rune('a'+i))))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, apperrors.ErrCapacityExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 3 {
		t.Errorf("expected exactly 3 admitted runs, got %d", accepted.Load())
	}
	if rejected.Load() != 17 {
		t.Errorf("expected 17 rejections, got %d", rejected.Load())
	}
	if got := len(s.Snapshots()); got != 3 {
		t.Errorf("expected 3 live slots, got %d", got)
	}
}

func TestSubmit_PoolSaturated(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxConcurrentRuns = 5
	cfg.Workers = 1
	s, _, _ := newTestScheduler(t, cfg)
	ctx := context.Background()

	if _, err := s.Submit(ctx, pendingRun("a")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	_, err := s.Submit(ctx, pendingRun("b"))
	if !errors.Is(err, apperrors.ErrPoolSaturated) {
		t.Fatalf("expected ErrPoolSaturated, got %v", err)
	}
	stats := s.Stats()
	if stats.Active != 1 {
		t.Errorf("pool rejection must release admission, active=%d", stats.Active)
	}
	if !stats.Saturated {
		t.Error("expected saturated pool")
	}
}

func TestSubmit_SetupFailure(t *testing.T) {
	t.Parallel()
	s, eng, store := newTestScheduler(t, testConfig())
	eng.setupErr = errors.New("image not found")

	f, err := s.Submit(context.Background(), pendingRun("run-1"))
	if !errors.Is(err, apperrors.ErrEngineSetupFailed) {
		t.Fatalf("expected ErrEngineSetupFailed, got %v", err)
	}

	o := wait(t, f)
	if o.State != run.StateError {
		t.Errorf("expected ERROR outcome, got %s", o.State)
	}
	final := store.last("run-1")
	if final == nil || final.State != run.StateError || final.EndedAt == nil {
		t.Fatalf("expected persisted ERROR with endedAt, got %+v", final)
	}
	if final.Description == "" {
		t.Error("expected failure reason in description")
	}
	if _, ok := s.Active("run-1"); ok {
		t.Error("failed setup must not leave a slot")
	}
	if s.Stats().Active != 0 {
		t.Errorf("expected admission released, active=%d", s.Stats().Active)
	}
}

func TestSubmit_RejectsIllegalStartState(t *testing.T) {
	t.Parallel()
	s, eng, _ := newTestScheduler(t, testConfig())

	r := pendingRun("run-1")
	r.State = run.StateCancelled
	_, err := s.Submit(context.Background(), r)
	if !errors.Is(err, apperrors.ErrConflict) || !errors.Is(err, run.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition conflict, got %v", err)
	}
	if eng.setups.Load() != 0 {
		t.Error("engine must not be set up for an illegal start")
	}
}

func TestSubmit_DuplicateRunIsConflict(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t, testConfig())
	ctx := context.Background()

	if _, err := s.Submit(ctx, pendingRun("dup")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	_, err := s.Submit(ctx, pendingRun("dup"))
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if s.Stats().Active != 1 {
		t.Errorf("duplicate must release its admission, active=%d", s.Stats().Active)
	}
}

func TestEngineCrash_FailsRun(t *testing.T) {
	t.Parallel()
	s, eng, store := newTestScheduler(t, testConfig())

	f, _ := s.Submit(context.Background(), pendingRun("run-1"))
	eng.handle("run-1").crash(errors.New("segfault"))

	o := wait(t, f)
	if o.State != run.StateError || o.Reason == nil {
		t.Fatalf("expected ERROR with reason, got %+v", o)
	}
	if final := store.last("run-1"); final.State != run.StateError {
		t.Errorf("expected persisted ERROR, got %s", final.State)
	}
}

func TestStop_CancelsRun(t *testing.T) {
	t.Parallel()
	s, _, store := newTestScheduler(t, testConfig())
	ctx := context.Background()

	f, _ := s.Submit(ctx, pendingRun("run-1"))
	ok, err := s.RequestStop(ctx, "run-1")
	if !ok || err != nil {
		t.Fatalf("expected stop accepted, got %v %v", ok, err)
	}

	o := wait(t, f)
	if o.State != run.StateCancelled {
		t.Errorf("expected CANCELLED, got %s", o.State)
	}
	if final := store.last("run-1"); final.EndedAt == nil {
		t.Error("expected endedAt on cancelled run")
	}
	if s.Stats().Active != 0 {
		t.Errorf("expected slot released, active=%d", s.Stats().Active)
	}
}

func TestStop_EngineFailureStillReclaimsSlot(t *testing.T) {
	t.Parallel()
	s, eng, store := newTestScheduler(t, testConfig())
	ctx := context.Background()

	f, _ := s.Submit(ctx, pendingRun("run-1"))
	h := eng.handle("run-1")
	h.mu.Lock()
	h.stopErr = errors.New("daemon unreachable")
	h.mu.Unlock()

	ok, err := s.RequestStop(ctx, "run-1")
	if !ok || err != nil {
		t.Fatalf("expected stop accepted, got %v %v", ok, err)
	}
	wait(t, f)

	final := store.last("run-1")
	if final.State != run.StateCancelled {
		t.Errorf("expected CANCELLED, got %s", final.State)
	}
	if final.Description == "" {
		t.Error("expected engine stop failure in description")
	}
	if s.Stats().Active != 0 {
		t.Errorf("expected slot released, active=%d", s.Stats().Active)
	}
}

func TestStop_RacingCompletionPersistsOnce(t *testing.T) {
	t.Parallel()
	for i := 0; i < 25; i++ {
		s, eng, store := newTestScheduler(t, testConfig())
		ctx := context.Background()

		f, err := s.Submit(ctx, pendingRun("race"))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		h := eng.handle("race")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.finish()
		}()
		go func() {
			defer wg.Done()
			_, _ = s.RequestStop(ctx, "race")
		}()
		wg.Wait()

		o := wait(t, f)
		if o.State != run.StateFinished && o.State != run.StateCancelled {
			t.Fatalf("unexpected outcome %s", o.State)
		}
		testutil.MustEventuallyEqual(t, 0, func() int { return s.Stats().Active })
		if n := terminalCount(store.states("race")); n != 1 {
			t.Fatalf("expected exactly one terminal persist, got %d (%v)", n, store.states("race"))
		}
	}
}

func TestControl_InactiveRunTouchesNothing(t *testing.T) {
	t.Parallel()
	s, _, store := newTestScheduler(t, testConfig())
	ctx := context.Background()

	verbs := map[string]func(context.Context, string) (bool, error){
		"stop":   s.RequestStop,
		"pause":  s.RequestPause,
		"resume": s.RequestResume,
		"reset":  s.RequestReset,
	}
	for name, verb := range verbs {
		ok, err := verb(ctx, "missing")
		if ok || !errors.Is(err, apperrors.ErrNotActive) {
			t.Errorf("%s: expected false, ErrNotActive, got %v %v", name, ok, err)
		}
	}
	if store.count() != 0 {
		t.Errorf("expected no store writes, got %d", store.count())
	}
}

func TestPauseResume_KeepsEngineInstance(t *testing.T) {
	t.Parallel()
	s, eng, store := newTestScheduler(t, testConfig())
	ctx := context.Background()

	f, _ := s.Submit(ctx, pendingRun("run-1"))
	testutil.MustWaitFor(t, func() bool {
		h := eng.handle("run-1")
		return h != nil && h.State() != 0
	})

	if ok, err := s.RequestPause(ctx, "run-1"); !ok || err != nil {
		t.Fatalf("pause failed: %v %v", ok, err)
	}
	if got, _ := s.Active("run-1"); got.State != run.StatePaused {
		t.Errorf("expected PAUSED, got %s", got.State)
	}
	if _, err := s.RequestPause(ctx, "run-1"); !errors.Is(err, run.ErrIllegalTransition) {
		t.Errorf("expected illegal transition pausing a paused run, got %v", err)
	}

	if ok, err := s.RequestResume(ctx, "run-1"); !ok || err != nil {
		t.Fatalf("resume failed: %v %v", ok, err)
	}
	if eng.setups.Load() != 1 {
		t.Errorf("pause/resume must not set up a new engine instance, setups=%d", eng.setups.Load())
	}

	eng.handle("run-1").finish()
	wait(t, f)

	want := []run.State{run.StateRunning, run.StatePaused, run.StateRunning, run.StateFinished}
	got := store.states("run-1")
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestPause_EngineRejection(t *testing.T) {
	t.Parallel()
	s, eng, _ := newTestScheduler(t, testConfig())
	ctx := context.Background()

	_, _ = s.Submit(ctx, pendingRun("run-1"))
	h := eng.handle("run-1")
	h.mu.Lock()
	h.pauseErr = errors.New("not now")
	h.mu.Unlock()

	ok, err := s.RequestPause(ctx, "run-1")
	if ok || !errors.Is(err, apperrors.ErrEngineTransitionRejected) {
		t.Fatalf("expected ErrEngineTransitionRejected, got %v %v", ok, err)
	}
	if got, _ := s.Active("run-1"); got.State != run.StateRunning {
		t.Errorf("rejected pause must leave run RUNNING, got %s", got.State)
	}
}

func TestReset_ReleasesSlotAndAllowsRestart(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxConcurrentRuns = 1
	s, eng, store := newTestScheduler(t, cfg)
	ctx := context.Background()

	f, _ := s.Submit(ctx, pendingRun("run-1"))
	if ok, err := s.RequestReset(ctx, "run-1"); !ok || err != nil {
		t.Fatalf("reset failed: %v %v", ok, err)
	}

	o := wait(t, f)
	if o.State != run.StateIdle {
		t.Fatalf("expected IDLE outcome, got %s", o.State)
	}
	idle := store.last("run-1")
	if idle.State != run.StateIdle || idle.EndedAt != nil {
		t.Fatalf("expected IDLE without endedAt, got %s endedAt=%v", idle.State, idle.EndedAt)
	}
	if s.Stats().Active != 0 {
		t.Fatalf("IDLE must not occupy the ceiling, active=%d", s.Stats().Active)
	}

	if _, err := s.Submit(ctx, idle); err != nil {
		t.Fatalf("restart from IDLE failed: %v", err)
	}
	if eng.setups.Load() != 2 {
		t.Errorf("restart must set up a fresh engine instance, setups=%d", eng.setups.Load())
	}
}

func TestSupervisor_Timeout(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.RunTimeout = 50 * time.Millisecond
	s, _, store := newTestScheduler(t, cfg)

	f, _ := s.Submit(context.Background(), pendingRun("slow"))
	o := wait(t, f)

	if o.State != run.StateError || !errors.Is(o.Reason, apperrors.ErrTimeout) {
		t.Fatalf("expected ERROR timeout, got %+v", o)
	}
	final := store.last("slow")
	if final.State != run.StateError || final.EndedAt == nil {
		t.Errorf("expected persisted ERROR with endedAt, got %+v", final)
	}
	if s.Stats().Active != 0 {
		t.Errorf("expected slot released, active=%d", s.Stats().Active)
	}
}

func TestSupervisor_PausedTimeDoesNotCount(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.RunTimeout = 150 * time.Millisecond
	s, eng, _ := newTestScheduler(t, cfg)
	ctx := context.Background()

	f, _ := s.Submit(ctx, pendingRun("run-1"))
	testutil.MustWaitFor(t, func() bool { return eng.handle("run-1").State() != 0 })
	if ok, err := s.RequestPause(ctx, "run-1"); !ok {
		t.Fatalf("pause failed: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if _, ok := s.Active("run-1"); !ok {
		t.Fatal("paused run must not time out")
	}

	if ok, err := s.RequestResume(ctx, "run-1"); !ok {
		t.Fatalf("resume failed: %v", err)
	}
	o := wait(t, f)
	if !errors.Is(o.Reason, apperrors.ErrTimeout) {
		t.Errorf("expected timeout after resume, got %+v", o)
	}
}

func TestSupervisor_StuckRun(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.LivenessThreshold = 3
	s, _, _ := newTestScheduler(t, cfg)

	f, _ := s.Submit(context.Background(), pendingRun("stuck"))
	o := wait(t, f)

	if o.State != run.StateError || !errors.Is(o.Reason, apperrors.ErrStuck) {
		t.Fatalf("expected ERROR stuck, got %+v", o)
	}
}

func TestSupervisor_AdvancingRunIsNotStuck(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.LivenessThreshold = 3
	s, eng, _ := newTestScheduler(t, cfg)

	stop := make(chan struct{})
	defer close(stop)
	eng.configure = func(h *fakeHandle) {
		go func() {
			ticker := time.NewTicker(time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					h.mu.Lock()
					h.simTime++
					h.mu.Unlock()
				}
			}
		}()
	}

	_, _ = s.Submit(context.Background(), pendingRun("busy"))
	time.Sleep(100 * time.Millisecond)
	if _, ok := s.Active("busy"); !ok {
		t.Fatal("advancing run must stay active")
	}
}

func TestSupervisor_PublishesPort(t *testing.T) {
	t.Parallel()
	s, eng, store := newTestScheduler(t, testConfig())
	eng.configure = func(h *fakeHandle) { h.port = 8081 }

	_, _ = s.Submit(context.Background(), pendingRun("run-1"))
	testutil.MustWaitFor(t, func() bool {
		last := store.last("run-1")
		return last != nil && last.Port != nil
	})
	if got, _ := s.Active("run-1"); got.Port == nil || *got.Port != 8081 {
		t.Errorf("expected port 8081 on live snapshot, got %v", got.Port)
	}
}

func TestListener_SeesTransitions(t *testing.T) {
	t.Parallel()
	l := &recordingListener{}
	s, eng, _ := newTestScheduler(t, testConfig(), l)

	f, _ := s.Submit(context.Background(), pendingRun("run-1"))
	eng.handle("run-1").finish()
	wait(t, f)

	got := l.snapshot()
	want := []string{"PENDING>RUNNING", "RUNNING>FINISHED"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestShutdown_StopsActiveRuns(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	store := &recordingStore{}
	s := New(testConfig(), eng, store, nil)
	ctx := context.Background()

	a, _ := s.Submit(ctx, pendingRun("a"))
	b, _ := s.Submit(ctx, pendingRun("b"))

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	for _, f := range []*Future{a, b} {
		o, ok := f.Outcome()
		if !ok || o.State != run.StateCancelled {
			t.Errorf("expected CANCELLED outcome after shutdown, got %+v (resolved=%v)", o, ok)
		}
	}
	if _, err := s.Submit(ctx, pendingRun("c")); !errors.Is(err, apperrors.ErrPoolSaturated) {
		t.Errorf("expected submit after shutdown to be refused, got %v", err)
	}
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown should be a no-op, got %v", err)
	}
}

func queueConfig(workers, queue int) Config {
	cfg := testConfig()
	cfg.MaxConcurrentRuns = workers + queue + 2
	cfg.Workers = workers
	cfg.QueueSize = queue
	return cfg
}

func TestSubmit_BoundedQueue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		workers int
		queue   int
	}{
		{"one worker one queued", 1, 1},
		{"two workers three queued", 2, 3},
		{"no queue", 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _, _ := newTestScheduler(t, queueConfig(tt.workers, tt.queue))
			ctx := context.Background()

			var ids []string
			for i := 0; i < tt.workers+tt.queue; i++ {
				id := string(rune('a' + i))
				if _, err := s.Submit(ctx, pendingRun(id)); err != nil {
					t.Fatalf("Submit %s failed: %v", id, err)
				}
				ids = append(ids, id)
			}
			if _, err := s.Submit(ctx, pendingRun("overflow")); !errors.Is(err, apperrors.ErrPoolSaturated) {
				t.Fatalf("expected ErrPoolSaturated past workers+queue, got %v", err)
			}

			testutil.MustEventuallyEqual(t, tt.workers, func() int { return s.Stats().BusyWorkers })
			testutil.MustEventuallyEqual(t, tt.queue, func() int { return s.Stats().Queued })
			if !s.Stats().Saturated {
				t.Error("expected saturated pool")
			}

			for _, id := range ids {
				if ok, err := s.RequestStop(ctx, id); !ok {
					t.Fatalf("stop %s failed: %v", id, err)
				}
			}
			testutil.MustEventuallyEqual(t, 0, func() int { return s.Stats().Queued })
			testutil.MustEventuallyEqual(t, false, func() bool { return s.Stats().Saturated })
			if _, err := s.Submit(ctx, pendingRun("after")); err != nil {
				t.Errorf("expected submit to succeed once the queue drained, got %v", err)
			}
		})
	}
}

func TestStop_QueuedRunNeverAdvances(t *testing.T) {
	t.Parallel()
	s, eng, store := newTestScheduler(t, queueConfig(1, 1))
	ctx := context.Background()

	a, _ := s.Submit(ctx, pendingRun("a"))
	b, err := s.Submit(ctx, pendingRun("b"))
	if err != nil {
		t.Fatalf("Submit b failed: %v", err)
	}
	testutil.MustEventuallyEqual(t, 1, func() int { return s.Stats().BusyWorkers })

	if ok, err := s.RequestStop(ctx, "b"); !ok {
		t.Fatalf("stop of queued run failed: %v", err)
	}
	if o := wait(t, b); o.State != run.StateCancelled {
		t.Fatalf("expected CANCELLED, got %+v", o)
	}
	if final := store.last("b"); final.State != run.StateCancelled {
		t.Errorf("expected persisted CANCELLED, got %s", final.State)
	}
	if s.Stats().Queued != 1 {
		t.Errorf("expected stale job to stay queued behind a, got %d", s.Stats().Queued)
	}

	eng.handle("a").finish()
	wait(t, a)
	testutil.MustEventuallyEqual(t, 0, func() int { return s.Stats().Queued })
	testutil.MustEventuallyEqual(t, 0, func() int { return s.Stats().BusyWorkers })
	if n := eng.handle("b").advances.Load(); n != 0 {
		t.Errorf("stopped queued run must not advance, got %d advances", n)
	}
}

func TestSubmit_StopAndResubmitDoesNotBlock(t *testing.T) {
	t.Parallel()
	s, eng, _ := newTestScheduler(t, queueConfig(1, 1))
	ctx := context.Background()

	a, _ := s.Submit(ctx, pendingRun("a"))
	testutil.MustEventuallyEqual(t, 1, func() int { return s.Stats().BusyWorkers })

	for _, id := range []string{"b", "c"} {
		if _, err := s.Submit(ctx, pendingRun(id)); err != nil && !errors.Is(err, apperrors.ErrPoolSaturated) {
			t.Fatalf("Submit %s: unexpected error %v", id, err)
		}
		if _, err := s.RequestStop(ctx, id); err != nil && !errors.Is(err, apperrors.ErrNotActive) {
			t.Fatalf("stop %s: unexpected error %v", id, err)
		}
	}

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err = s.Submit(ctx, pendingRun("d"))
	}()
	testutil.MustBeClosed(t, done, 2*time.Second)
	if !errors.Is(err, apperrors.ErrPoolSaturated) {
		t.Fatalf("expected ErrPoolSaturated while a holds the worker, got %v", err)
	}

	eng.handle("a").finish()
	wait(t, a)
	testutil.MustWaitFor(t, func() bool {
		_, err := s.Submit(ctx, pendingRun("d"))
		return err == nil
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestSupervisor_QueuedTimeDoesNotCount(t *testing.T) {
	t.Parallel()
	cfg := queueConfig(1, 1)
	cfg.RunTimeout = time.Hour
	s, eng, _ := newTestScheduler(t, cfg)
	ctx := context.Background()

	a, _ := s.Submit(ctx, pendingRun("a"))
	if _, err := s.Submit(ctx, pendingRun("b")); err != nil {
		t.Fatalf("Submit b failed: %v", err)
	}
	testutil.MustEventuallyEqual(t, 1, func() int { return s.Stats().BusyWorkers })
	sl, ok := s.registry.get("b")
	if !ok || sl == nil {
		t.Fatal("expected a live slot for b")
	}
	elapsed := func() time.Duration {
		sl.mu.Lock()
		defer sl.mu.Unlock()
		return sl.elapsed(s.now())
	}

	time.Sleep(30 * time.Millisecond)
	if d := elapsed(); d != 0 {
		t.Fatalf("queued run must not accumulate running time, got %v", d)
	}
	if _, err := s.RequestPause(ctx, "b"); !errors.Is(err, apperrors.ErrEngineTransitionRejected) {
		t.Errorf("expected pause of a queued run to be rejected by the engine, got %v", err)
	}

	eng.handle("a").finish()
	wait(t, a)
	testutil.MustWaitForCount(t, &eng.handle("b").advances, 1)
	testutil.MustWaitFor(t, func() bool { return elapsed() > 0 })
}

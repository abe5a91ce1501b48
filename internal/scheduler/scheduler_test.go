package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/bridge"
	"github.com/cadencehq/cadence/internal/coordinator"
	"github.com/cadencehq/cadence/internal/task"
)

// fakeRunner scripts execution outcomes and records every request.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []coordinator.Request
	outcome  func(req coordinator.Request) (task.Outcome, error)
	gate     chan struct{} // when set, each call blocks until a receive
	inflight chan struct{} // signalled when a call starts
}

func (r *fakeRunner) ExecuteTask(_ context.Context, req coordinator.Request) (task.Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()

	if r.inflight != nil {
		r.inflight <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.outcome != nil {
		return r.outcome(req)
	}
	return task.Outcome{TaskID: req.TaskID, Completed: true}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRunner) call(i int) coordinator.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *task.Store) {
	t.Helper()
	store := task.NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	s := New(store, runner, bridge.New())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, store
}

func createTask(t *testing.T, store *task.Store, cfg task.Config) task.Task {
	t.Helper()
	tk, err := task.New(cfg)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	if err := store.Create(tk); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return tk
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartTask_FirstFireImmediate(t *testing.T) {
	runner := &fakeRunner{}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{Prompt: "poll the feed", IntervalMinutes: 60})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitFor(t, func() bool { return runner.callCount() >= 1 })

	req := runner.call(0)
	if !req.IsFirstExecution || req.ExecutionNumber != 1 {
		t.Fatalf("first request: %+v", req)
	}
	if req.Prompt != "poll the feed" {
		t.Fatalf("prompt: %q", req.Prompt)
	}

	waitFor(t, func() bool {
		got, _ := store.Get(tk.ID)
		return got.ExecutionCount == 1
	})
}

func TestStartTask_RejectsStoppedTask(t *testing.T) {
	runner := &fakeRunner{}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{Prompt: "p", IntervalMinutes: 60})
	_ = store.Stop(tk.ID, task.ExitReasonUserStopped)

	if err := s.StartTask(tk.ID); !errors.Is(err, task.ErrTaskNotRunnable) {
		t.Fatalf("got %v, want ErrTaskNotRunnable", err)
	}
	if runner.callCount() != 0 {
		t.Fatal("a stopped task must never fire")
	}
}

func TestStartTask_IdempotentWhileArmed(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), inflight: make(chan struct{}, 1)}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{Prompt: "p", IntervalMinutes: 60})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	<-runner.inflight
	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("second StartTask must be a no-op: %v", err)
	}

	close(runner.gate)
	waitFor(t, func() bool { return runner.callCount() == 1 })
	if runner.callCount() != 1 {
		t.Fatalf("double arm fired twice: %d calls", runner.callCount())
	}
}

func TestRun_MaxExecutionsStopsAndDisarms(t *testing.T) {
	runner := &fakeRunner{}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{
		Prompt:          "p",
		IntervalMinutes: 60,
		EndConditions:   task.EndConditions{MaxExecutions: 1},
	})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	waitFor(t, func() bool {
		got, _ := store.Get(tk.ID)
		return got.Status == task.StatusStopped
	})
	got, _ := store.Get(tk.ID)
	if got.ExitReason != task.ExitReasonMaxExecutions || got.ExecutionCount != 1 {
		t.Fatalf("after final execution: %+v", got)
	}
	waitFor(t, func() bool { return !s.Armed(tk.ID) })
}

func TestRun_AgentExitStopsWithFreeText(t *testing.T) {
	runner := &fakeRunner{outcome: func(req coordinator.Request) (task.Outcome, error) {
		return task.Outcome{TaskID: req.TaskID, Completed: true, AgentRequestedExit: true, ExitFreeText: "all chores done"}, nil
	}}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{
		Prompt:          "p",
		IntervalMinutes: 60,
		EndConditions:   task.EndConditions{AgentCanExit: true},
	})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitFor(t, func() bool {
		got, _ := store.Get(tk.ID)
		return got.Status == task.StatusStopped
	})
	got, _ := store.Get(tk.ID)
	if got.ExitReason != "all chores done" {
		t.Fatalf("exit reason: %q", got.ExitReason)
	}
}

func TestRun_TimeoutDoesNotCount(t *testing.T) {
	runner := &fakeRunner{outcome: func(req coordinator.Request) (task.Outcome, error) {
		return task.Outcome{TaskID: req.TaskID, TimedOut: true, Error: "timeout"}, nil
	}}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{Prompt: "p", IntervalMinutes: 60})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitFor(t, func() bool { return runner.callCount() >= 1 })

	// Give the loop a moment to apply the outcome, then check nothing moved.
	waitFor(t, func() bool { return s.Armed(tk.ID) })
	got, _ := store.Get(tk.ID)
	if got.ExecutionCount != 0 {
		t.Fatalf("a timed-out cycle must not count, got %d", got.ExecutionCount)
	}
	if got.Status != task.StatusRunning {
		t.Fatalf("status: %s", got.Status)
	}
	if got.LastError != "" {
		t.Fatalf("timeout must not set last error, got %q", got.LastError)
	}
}

func TestRun_EngineErrorRecordsLastErrorAndContinues(t *testing.T) {
	runner := &fakeRunner{outcome: func(req coordinator.Request) (task.Outcome, error) {
		return task.Outcome{TaskID: req.TaskID, Error: "generation failed"}, nil
	}}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{Prompt: "p", IntervalMinutes: 60})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitFor(t, func() bool {
		got, _ := store.Get(tk.ID)
		return got.LastError == "generation failed"
	})

	got, _ := store.Get(tk.ID)
	if got.Status != task.StatusRunning {
		t.Fatalf("a handled failure must not stop the task: %s", got.Status)
	}
	if got.ExecutionCount != 1 {
		t.Fatalf("a handled failure still counts as an attempt, got %d", got.ExecutionCount)
	}
	if !s.Armed(tk.ID) {
		t.Fatal("loop must stay armed after a handled failure")
	}
}

func TestRun_TransportErrorBacksOffWithoutCounting(t *testing.T) {
	runner := &fakeRunner{outcome: func(coordinator.Request) (task.Outcome, error) {
		return task.Outcome{}, errors.New("connection refused")
	}}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{Prompt: "p", IntervalMinutes: 60})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitFor(t, func() bool { return runner.callCount() >= 1 })

	got, _ := store.Get(tk.ID)
	if got.ExecutionCount != 0 || got.Status != task.StatusRunning {
		t.Fatalf("unreachable host must not count or stop: %+v", got)
	}
	if !s.Armed(tk.ID) {
		t.Fatal("loop must stay armed through the backoff")
	}
}

func TestRun_UserStopDuringFireWins(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), inflight: make(chan struct{}, 1)}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{Prompt: "p", IntervalMinutes: 60})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	<-runner.inflight

	// Stop lands while the fire is in flight; the fire still completes and
	// is counted, but the loop must observe the stop and tear down.
	_ = store.Stop(tk.ID, task.ExitReasonUserStopped)
	close(runner.gate)

	waitFor(t, func() bool { return !s.Armed(tk.ID) })
	got, _ := store.Get(tk.ID)
	if got.Status != task.StatusStopped || got.ExitReason != task.ExitReasonUserStopped {
		t.Fatalf("after racing stop: %+v", got)
	}
	if got.ExecutionCount != 1 {
		t.Fatalf("the in-flight fire still counts, got %d", got.ExecutionCount)
	}
}

func TestRun_SharedTaskAdoptsSession(t *testing.T) {
	runner := &fakeRunner{outcome: func(req coordinator.Request) (task.Outcome, error) {
		return task.Outcome{TaskID: req.TaskID, Completed: true, SessionKey: "sess-adopted"}, nil
	}}
	s, store := newTestScheduler(t, runner)
	tk := createTask(t, store, task.Config{Prompt: "p", IntervalMinutes: 60, RunMode: task.RunModeShared})

	if err := s.StartTask(tk.ID); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitFor(t, func() bool {
		got, _ := store.Get(tk.ID)
		return got.SessionRef == "sess-adopted"
	})
}

func TestStart_ResumesPersistedRunningTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")

	seed := task.NewStore(path)
	running, _ := task.New(task.Config{Prompt: "resume me", IntervalMinutes: 60})
	stopped, _ := task.New(task.Config{Prompt: "leave me", IntervalMinutes: 60})
	_ = seed.Create(running)
	_ = seed.Create(stopped)
	_ = seed.Stop(stopped.ID, task.ExitReasonUserStopped)
	if err := seed.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	runner := &fakeRunner{}
	s := New(task.NewStore(path), runner, bridge.New())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	waitFor(t, func() bool { return runner.callCount() >= 1 })
	if runner.call(0).TaskID != running.ID {
		t.Fatalf("resumed wrong task: %+v", runner.call(0))
	}
	if s.Armed(stopped.ID) {
		t.Fatal("stopped task must not be re-armed on startup")
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/bridge"
	"github.com/cadencehq/cadence/internal/coordinator"
	"github.com/cadencehq/cadence/internal/pkg/logs"
	"github.com/cadencehq/cadence/internal/task"
)

// Scheduler owns one timer loop per running task. A task's own fires are
// strictly serialized: the loop never re-arms until the previous fire's
// runner call has returned, which is the primary overlap guard. Different
// tasks run independently and may overlap each other.
type Scheduler struct {
	store  *task.Store
	runner Runner
	bus    bridge.Bus

	mu     sync.Mutex
	timers map[string]chan struct{} // taskID -> stop signal

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler over the given store and runner.
func New(store *task.Store, runner Runner, bus bridge.Bus) *Scheduler {
	return &Scheduler{
		store:  store,
		runner: runner,
		bus:    bus,
		timers: make(map[string]chan struct{}),
	}
}

// Start loads the store and re-arms timers for every task persisted as
// running, so a scheduler restart resumes where it left off.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.Load(); err != nil {
		return fmt.Errorf("load task store: %w", err)
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)

	resumed := 0
	for _, t := range s.store.List() {
		if t.Status != task.StatusRunning {
			continue
		}
		if err := s.StartTask(t.ID); err != nil {
			logs.CtxWarn(ctx, "[scheduler] resume task %s: %v", t.ID, err)
			continue
		}
		resumed++
	}
	logs.CtxInfo(ctx, "[scheduler] started, resumed %d running task(s)", resumed)
	return nil
}

// Stop cancels all timer loops and waits for in-flight fires to finish; a
// fire already in progress runs to completion and its outcome still lands
// in the store.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[scheduler] stop timed out waiting for running fires")
	}

	if err := s.store.Save(); err != nil {
		logs.CtxWarn(ctx, "[scheduler] save store on shutdown: %v", err)
	}
	logs.CtxInfo(ctx, "[scheduler] stopped")
}

// StartTask arms the task's timer. The first fire happens immediately so
// first and subsequent executions share one code path. Starting an
// already-armed task is a no-op.
func (s *Scheduler) StartTask(taskID string) error {
	t, err := s.store.Get(taskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusRunning {
		return fmt.Errorf("%w: %s is %s", task.ErrTaskNotRunnable, taskID, t.Status)
	}

	s.mu.Lock()
	if _, armed := s.timers[taskID]; armed {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	s.timers[taskID] = stop
	s.mu.Unlock()

	s.publish(bridge.Event{Name: bridge.EventSchedulerStarted, Data: bridge.SchedulerStarted{
		TaskID:          t.ID,
		IntervalMinutes: t.IntervalMinutes,
		ExecutionCount:  t.ExecutionCount,
	}})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.disarm(taskID)
		s.run(taskID, stop)
	}()
	return nil
}

// StopTask cancels the task's timer immediately. Safe to call when no timer
// is armed. It does not abort a fire already in flight; that fire finishes
// and the loop then observes the stopped status and tears down.
func (s *Scheduler) StopTask(taskID string) {
	s.mu.Lock()
	stop, ok := s.timers[taskID]
	if ok {
		delete(s.timers, taskID)
	}
	s.mu.Unlock()
	if ok {
		close(stop)
	}
}

// Armed reports whether the task currently has a timer.
func (s *Scheduler) Armed(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[taskID]
	return ok
}

func (s *Scheduler) publish(e bridge.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(e)
}

func (s *Scheduler) disarm(taskID string) {
	s.mu.Lock()
	delete(s.timers, taskID)
	s.mu.Unlock()
}

// run is the per-task loop: reconcile, fire, evaluate, wait. There is no
// window in which a stopped task fires: the status is re-read from the
// store immediately before every fire.
func (s *Scheduler) run(taskID string, stop chan struct{}) {
	ctx := logs.SetLogID(s.runCtx, logs.NewLogID())
	consecutiveErr := 0

	for {
		t, err := s.store.Get(taskID)
		if err != nil {
			logs.CtxWarn(ctx, "[scheduler] task %s vanished from store: %v", taskID, err)
			return
		}
		if t.Status != task.StatusRunning {
			s.emitTerminal(ctx, &t, task.Outcome{TaskID: taskID})
			return
		}

		out, transportErr := s.fire(ctx, &t)
		now := time.Now()

		if transportErr != nil {
			consecutiveErr++
			logs.CtxWarn(ctx, "[scheduler] task %s: host unreachable (errors=%d): %v", taskID, consecutiveErr, transportErr)
			s.publish(bridge.Event{Name: bridge.EventExecutionError, Data: bridge.ExecutionComplete{
				TaskID: taskID, Success: false, ExecutionCount: t.ExecutionCount, Error: transportErr.Error(),
			}})
			if !s.wait(backoffDelay(consecutiveErr), stop) {
				return
			}
			continue
		}
		consecutiveErr = 0

		s.apply(ctx, &t, out, now)

		// Authoritative state after applying the outcome; a user stop that
		// raced the fire is visible here.
		t2, err := s.store.Get(taskID)
		if err != nil {
			return
		}
		if t2.Status != task.StatusRunning {
			s.emitTerminal(ctx, &t2, out)
			return
		}

		s.publish(bridge.Event{Name: bridge.EventExecutionComplete, Data: bridge.ExecutionComplete{
			TaskID:         taskID,
			Success:        out.Error == "",
			ExecutionCount: t2.ExecutionCount,
		}})

		delay, err := t2.NextFireDelay(now)
		if err != nil {
			logs.CtxWarn(ctx, "[scheduler] task %s: bad schedule, stopping: %v", taskID, err)
			_ = s.store.Stop(taskID, "invalid_schedule")
			_ = s.store.Save()
			return
		}
		if !s.wait(delay, stop) {
			return
		}
	}
}

// fire runs one execution via the runner, bracketed by the liveness flags.
func (s *Scheduler) fire(ctx context.Context, t *task.Task) (task.Outcome, error) {
	executionNumber := t.ExecutionCount + 1
	s.publish(bridge.Event{Name: bridge.EventExecutionStarting, Data: bridge.ExecutionStarting{
		TaskID:           t.ID,
		ExecutionNumber:  executionNumber,
		IsFirstExecution: t.ExecutionCount == 0,
	}})
	logs.CtxInfo(ctx, "[scheduler] task %s firing (execution #%d)", t.ID, executionNumber)

	s.store.MarkExecuting(t.ID)
	defer s.store.MarkComplete(t.ID)

	return s.runner.ExecuteTask(ctx, coordinator.Request{
		TaskID:           t.ID,
		Prompt:           t.Prompt,
		WorkspaceRef:     t.WorkspaceRef,
		SessionRef:       t.SessionRef,
		RunMode:          t.RunMode,
		AgentCanExit:     t.EndConditions.AgentCanExit,
		PermissionMode:   t.PermissionMode,
		ModelOverride:    t.ModelOverride,
		ProviderEnv:      t.ProviderEnv,
		IntervalMinutes:  t.IntervalMinutes,
		ExecutionNumber:  executionNumber,
		IsFirstExecution: t.ExecutionCount == 0,
	})
}

// apply writes the evaluator's decision back to the store.
func (s *Scheduler) apply(ctx context.Context, t *task.Task, out task.Outcome, now time.Time) {
	d := task.Evaluate(t, out, now)

	if d.ExecutionCountDelta > 0 {
		if err := s.store.IncrementExecution(t.ID, now); err != nil {
			logs.CtxWarn(ctx, "[scheduler] increment execution for %s: %v", t.ID, err)
		}
	}

	switch {
	case out.TimedOut:
		logs.CtxWarn(ctx, "[scheduler] task %s timed out, cycle skipped", t.ID)
	case out.Error != "":
		_ = s.store.SetLastError(t.ID, out.Error)
	default:
		_ = s.store.SetLastError(t.ID, "")
	}

	// A shared-context task with no stored session adopts the session its
	// first run landed in.
	if t.RunMode == task.RunModeShared && t.SessionRef == "" && out.SessionKey != "" {
		_ = s.store.SetSessionRef(t.ID, out.SessionKey)
	}

	if d.NextStatus == task.StatusStopped {
		if err := s.store.Stop(t.ID, d.ExitReason); err != nil {
			logs.CtxWarn(ctx, "[scheduler] stop task %s: %v", t.ID, err)
		}
	}

	if err := s.store.Save(); err != nil {
		logs.CtxWarn(ctx, "[scheduler] persist after fire %s: %v", t.ID, err)
	}
}

// emitTerminal sends the final lifecycle event for a task whose loop is
// tearing down.
func (s *Scheduler) emitTerminal(ctx context.Context, t *task.Task, out task.Outcome) {
	name := bridge.EventExecutionComplete
	if out.Error != "" && !out.TimedOut {
		name = bridge.EventExecutionError
	}
	s.publish(bridge.Event{Name: name, Data: bridge.ExecutionComplete{
		TaskID:         t.ID,
		Success:        out.Error == "",
		ExecutionCount: t.ExecutionCount,
		Stopped:        true,
		ExitReason:     t.ExitReason,
		Error:          out.Error,
	}})
	logs.CtxInfo(ctx, "[scheduler] task %s torn down (exit_reason=%q)", t.ID, t.ExitReason)
}

// wait blocks for the delay, returning false if the timer was stopped or
// the scheduler is shutting down.
func (s *Scheduler) wait(delay time.Duration, stop chan struct{}) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-s.runCtx.Done():
		return false
	}
}

// IsNotRunnable reports whether err is the start-rejection error.
func IsNotRunnable(err error) bool {
	return errors.Is(err, task.ErrTaskNotRunnable)
}

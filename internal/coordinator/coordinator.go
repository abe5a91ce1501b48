package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/bridge"
	"github.com/cadencehq/cadence/internal/engine"
	"github.com/cadencehq/cadence/internal/pkg/logs"
	"github.com/cadencehq/cadence/internal/pkg/metrics"
	"github.com/cadencehq/cadence/internal/queue"
	"github.com/cadencehq/cadence/internal/task"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultWaitCeiling  = 60 * time.Minute
)

// Request carries everything one scheduled fire needs: the coordinator is
// stateless across fires and reads nothing from the task store.
type Request struct {
	TaskID           string       `json:"task_id"`
	Prompt           string       `json:"prompt"`
	WorkspaceRef     string       `json:"workspace_ref,omitempty"`
	SessionRef       string       `json:"session_ref,omitempty"`
	RunMode          task.RunMode `json:"run_mode,omitempty"`
	AgentCanExit     bool         `json:"agent_can_exit,omitempty"`
	PermissionMode   string       `json:"permission_mode,omitempty"`
	ModelOverride    string       `json:"model,omitempty"`
	ProviderEnv      string       `json:"provider_env,omitempty"`
	IntervalMinutes  int          `json:"interval_minutes,omitempty"`
	ExecutionNumber  int          `json:"execution_number,omitempty"`
	IsFirstExecution bool         `json:"is_first_execution,omitempty"`
}

// Options tune the synchronous wait.
type Options struct {
	PollInterval time.Duration
	WaitCeiling  time.Duration
}

// Coordinator binds one scheduled fire to a concrete session, pushes the
// instruction through the admission queue, waits for the session to go
// idle, and extracts the outcome signal from the reply.
type Coordinator struct {
	engine    engine.Engine
	queues    *queue.Manager
	extractor OutcomeExtractor
	bus       bridge.Bus

	pollInterval time.Duration
	waitCeiling  time.Duration
}

// New wires a coordinator. bus may be nil when no observer cares.
func New(eng engine.Engine, queues *queue.Manager, extractor OutcomeExtractor, bus bridge.Bus, opts Options) *Coordinator {
	if extractor == nil {
		extractor = NewMarkerExtractor()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ceiling := opts.WaitCeiling
	if ceiling <= 0 {
		ceiling = defaultWaitCeiling
	}
	return &Coordinator{
		engine:       eng,
		queues:       queues,
		extractor:    extractor,
		bus:          bus,
		pollInterval: poll,
		waitCeiling:  ceiling,
	}
}

// ExecuteSync runs one scheduled execution to completion, timeout, or
// failure. It always returns a structured outcome and never lets an error
// or panic escape: the scheduler's loop must survive any single bad
// execution.
func (c *Coordinator) ExecuteSync(ctx context.Context, req Request) (out task.Outcome) {
	out = task.Outcome{TaskID: req.TaskID, StartedAt: time.Now()}

	// The task context must not outlive this execution on any path.
	defer c.engine.ClearTaskContext()
	defer func() {
		if r := recover(); r != nil {
			logs.CtxError(ctx, "[coordinator] panic in execute for task %s: %v", req.TaskID, r)
			out.Completed = false
			out.Error = fmt.Sprintf("panic: %v", r)
		}
		c.count(out)
	}()

	sessionKey, fallback, err := c.bindSession(ctx, req)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.SessionKey = sessionKey
	out.SessionFallback = fallback

	c.engine.SetTaskContext(engine.TaskContext{
		TaskID:       req.TaskID,
		AgentCanExit: req.AgentCanExit,
		SessionKey:   sessionKey,
	})

	if err := c.engine.AppendSystemNote(sessionKey, c.systemNote(req)); err != nil {
		logs.CtxWarn(ctx, "[coordinator] append system note for task %s: %v", req.TaskID, err)
	}

	// The user's literal prompt goes through the queue unmodified; wrapping
	// it in a template would pollute the conversation history.
	q := c.queues.ForSession(sessionKey)
	res, err := q.Submit(req.Prompt, nil)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	waited, done := c.waitIdle(ctx, q, res.QueueID)
	metrics.IdleWaitSeconds.Observe(waited.Seconds())
	if !done {
		// Only this task's item is removed; user messages queued behind it
		// are preserved.
		q.Expire(res.QueueID)
		out.TimedOut = true
		out.Error = "timeout"
		return out
	}

	out.Completed = true
	if reply, ok := c.engine.LatestReply(sessionKey); ok {
		out.AgentRequestedExit, out.ExitFreeText = c.extractor.Extract(reply)
		if out.AgentRequestedExit && !req.AgentCanExit {
			// The marker is noise when the capability was never granted.
			logs.CtxDebug(ctx, "[coordinator] task %s reply carries exit marker but agent_can_exit=false, ignoring", req.TaskID)
			out.AgentRequestedExit = false
			out.ExitFreeText = ""
		}
	}
	return out
}

// CheckCompletion inspects the latest reply of the engine's current session
// without side effects.
func (c *Coordinator) CheckCompletion(_ context.Context) (bool, string) {
	reply, ok := c.engine.LatestReply(c.engine.CurrentSessionKey())
	if !ok {
		return false, ""
	}
	return c.extractor.Extract(reply)
}

// bindSession resolves which session this execution runs in, per run mode.
func (c *Coordinator) bindSession(ctx context.Context, req Request) (sessionKey string, fallback bool, err error) {
	if req.RunMode == task.RunModeFresh {
		key, err := c.engine.CreateSession(ctx, req.WorkspaceRef)
		if err != nil {
			return "", false, fmt.Errorf("create session: %w", err)
		}
		return key, false, nil
	}

	current := c.engine.CurrentSessionKey()
	if req.SessionRef == "" || req.SessionRef == current {
		// Switching to the already-current session risks aborting an
		// in-flight generation, so it is skipped outright.
		return current, false, nil
	}

	if err := c.engine.SwitchSession(ctx, req.SessionRef); err != nil {
		// Deliberate non-fatal degradation: run in whatever session is
		// active, but make the fallback observable.
		logs.CtxWarn(ctx, "[coordinator] switch to session %s failed, falling back to %s: %v", req.SessionRef, current, err)
		c.debugEvent(req.TaskID, fmt.Sprintf("session switch to %s failed, using %s", req.SessionRef, current))
		return current, true, nil
	}
	return req.SessionRef, false, nil
}

// waitIdle polls the admission queue until this execution's item is done or
// the ceiling passes. The queue is the only authority on in-flight state.
func (c *Coordinator) waitIdle(ctx context.Context, q *queue.Queue, queueID string) (time.Duration, bool) {
	start := time.Now()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(c.waitCeiling)
	defer deadline.Stop()

	for {
		if _, live := q.ItemState(queueID); !live {
			return time.Since(start), true
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return time.Since(start), false
		case <-ctx.Done():
			return time.Since(start), false
		}
	}
}

func (c *Coordinator) systemNote(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled task %s fires every %s. This is execution #%d.",
		req.TaskID, humanInterval(req.IntervalMinutes), req.ExecutionNumber)
	if req.IsFirstExecution {
		b.WriteString(" This is the first execution.")
	}
	if req.AgentCanExit {
		b.WriteString(" When the task's goal is satisfied you may invoke the exit_task capability to end the schedule.")
	}
	return b.String()
}

func humanInterval(minutes int) string {
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

func (c *Coordinator) debugEvent(taskID, msg string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bridge.Event{Name: bridge.EventDebug, Data: bridge.Debug{TaskID: taskID, Message: msg}})
}

func (c *Coordinator) count(out task.Outcome) {
	switch {
	case out.TimedOut:
		metrics.ExecutionsTotal.WithLabelValues("timeout").Inc()
	case out.Error != "":
		metrics.ExecutionsTotal.WithLabelValues("error").Inc()
	default:
		metrics.ExecutionsTotal.WithLabelValues("completed").Inc()
	}
}

package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// MinIntervalMinutes is the floor applied to IntervalMinutes on create.
const MinIntervalMinutes = 1

// Status is the lifecycle state of a task. Transitions are one-way:
// running -> stopped. A stopped task is terminal; resuming means creating
// a new task.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// RunMode controls which conversation context repeated executions use.
type RunMode string

const (
	// RunModeShared reuses one conversation across executions.
	RunModeShared RunMode = "shared_context"
	// RunModeFresh creates a brand-new session for every execution.
	RunModeFresh RunMode = "fresh_context"
)

// Exit reasons written by the evaluator and the stop command.
const (
	ExitReasonDeadline      = "deadline"
	ExitReasonMaxExecutions = "max_executions"
	ExitReasonAgentExit     = "agent_exit"
	ExitReasonUserStopped   = "stopped_by_user"
)

// EndConditions bound a task's lifetime. All three are optional; a task
// with none set runs until stopped externally.
type EndConditions struct {
	Deadline      *time.Time `json:"deadline,omitempty"`
	MaxExecutions int        `json:"max_executions,omitempty"`
	AgentCanExit  bool       `json:"agent_can_exit"`
}

// Task is a persisted recurring instruction plus its live status.
type Task struct {
	ID              string        `json:"id"`
	WorkspaceRef    string        `json:"workspace_ref"`
	SessionRef      string        `json:"session_ref,omitempty"`
	Prompt          string        `json:"prompt"`
	IntervalMinutes int           `json:"interval_minutes"`
	CronExpr        string        `json:"cron_expr,omitempty"` // optional 5-field override of the fixed interval
	EndConditions   EndConditions `json:"end_conditions"`
	RunMode         RunMode       `json:"run_mode"`
	Status          Status        `json:"status"`
	ExecutionCount  int           `json:"execution_count"`
	CreatedAt       time.Time     `json:"created_at"`
	LastExecutedAt  *time.Time    `json:"last_executed_at,omitempty"`
	NotifyEnabled   bool          `json:"notify_enabled"`
	ExitReason      string        `json:"exit_reason,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	ModelOverride   string        `json:"model_override,omitempty"`
	PermissionMode  string        `json:"permission_mode,omitempty"`
	ProviderEnv     string        `json:"provider_env,omitempty"`

	// Executing is a liveness flag toggled around each execution attempt.
	// It is diagnostic only and never used for mutual exclusion.
	Executing bool `json:"-"`
}

// Config is the user-supplied portion of a task.
type Config struct {
	WorkspaceRef    string
	SessionRef      string
	Prompt          string
	IntervalMinutes int
	CronExpr        string
	EndConditions   EndConditions
	RunMode         RunMode
	NotifyEnabled   bool
	ModelOverride   string
	PermissionMode  string
	ProviderEnv     string
}

// cronParser accepts standard 5-field expressions (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New builds a running task from a config, clamping the interval to the
// floor and validating the optional cron expression.
func New(cfg Config) (Task, error) {
	if strings.TrimSpace(cfg.Prompt) == "" {
		return Task{}, fmt.Errorf("task prompt is required")
	}

	mode := cfg.RunMode
	if mode == "" {
		mode = RunModeShared
	}
	switch mode {
	case RunModeShared, RunModeFresh:
	default:
		return Task{}, fmt.Errorf("unknown run mode: %s", mode)
	}

	interval := cfg.IntervalMinutes
	if interval < MinIntervalMinutes {
		interval = MinIntervalMinutes
	}

	if cfg.CronExpr != "" {
		if _, err := cronParser.Parse(cfg.CronExpr); err != nil {
			return Task{}, fmt.Errorf("parse cron expression %q: %w", cfg.CronExpr, err)
		}
	}
	if cfg.EndConditions.MaxExecutions < 0 {
		return Task{}, fmt.Errorf("max executions must be >= 1 when set")
	}

	return Task{
		ID:              uuid.New().String(),
		WorkspaceRef:    cfg.WorkspaceRef,
		SessionRef:      cfg.SessionRef,
		Prompt:          cfg.Prompt,
		IntervalMinutes: interval,
		CronExpr:        cfg.CronExpr,
		EndConditions:   cfg.EndConditions,
		RunMode:         mode,
		Status:          StatusRunning,
		CreatedAt:       time.Now(),
		NotifyEnabled:   cfg.NotifyEnabled,
		ModelOverride:   cfg.ModelOverride,
		PermissionMode:  cfg.PermissionMode,
		ProviderEnv:     cfg.ProviderEnv,
	}, nil
}

// Interval returns the fixed period between fires.
func (t *Task) Interval() time.Duration {
	return time.Duration(t.IntervalMinutes) * time.Minute
}

// NextFireDelay returns how long to wait after `from` until the next fire.
// The cron expression, when present, overrides the fixed interval.
func (t *Task) NextFireDelay(from time.Time) (time.Duration, error) {
	if t.CronExpr == "" {
		return t.Interval(), nil
	}
	sched, err := cronParser.Parse(t.CronExpr)
	if err != nil {
		return 0, fmt.Errorf("parse cron expression %q: %w", t.CronExpr, err)
	}
	return sched.Next(from).Sub(from), nil
}

// HumanInterval renders the schedule for the system note shown to the agent,
// e.g. "15 minutes" or "cron 0 9 * * *".
func (t *Task) HumanInterval() string {
	if t.CronExpr != "" {
		return "cron " + t.CronExpr
	}
	if t.IntervalMinutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", t.IntervalMinutes)
}

// Unbounded reports whether no end condition is set. This is an accepted
// posture, not an error; the task runs until stopped externally.
func (t *Task) Unbounded() bool {
	ec := t.EndConditions
	return ec.Deadline == nil && ec.MaxExecutions == 0 && !ec.AgentCanExit
}

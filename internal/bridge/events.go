package bridge

// Stable event names pushed to observers. Delivery is at-least-once and may
// duplicate; consumers reconcile against the task store rather than trusting
// payloads alone.
const (
	EventSchedulerStarted  = "cron:scheduler-started"
	EventExecutionStarting = "cron:execution-starting"
	EventExecutionComplete = "cron:execution-complete"
	EventExecutionError    = "cron:execution-error"
	EventDebug             = "cron:debug"
)

// SchedulerStarted is the payload for cron:scheduler-started.
type SchedulerStarted struct {
	TaskID          string `json:"task_id"`
	IntervalMinutes int    `json:"interval_minutes"`
	ExecutionCount  int    `json:"execution_count"`
}

// ExecutionStarting is the payload for cron:execution-starting.
type ExecutionStarting struct {
	TaskID           string `json:"task_id"`
	ExecutionNumber  int    `json:"execution_number"`
	IsFirstExecution bool   `json:"is_first_execution"`
}

// ExecutionComplete is the payload for cron:execution-complete and, with
// Error set, cron:execution-error.
type ExecutionComplete struct {
	TaskID         string `json:"task_id"`
	Success        bool   `json:"success"`
	ExecutionCount int    `json:"execution_count"`
	Stopped        bool   `json:"stopped,omitempty"`
	ExitReason     string `json:"exit_reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Debug is the payload for cron:debug.
type Debug struct {
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message"`
}

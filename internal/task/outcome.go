package task

import "time"

// Outcome is the ephemeral result of one execution attempt. It is produced
// by the execution coordinator and consumed by Evaluate; it is never
// persisted.
type Outcome struct {
	TaskID             string    `json:"task_id"`
	StartedAt          time.Time `json:"started_at"`
	Completed          bool      `json:"completed"`
	TimedOut           bool      `json:"timed_out"`
	AgentRequestedExit bool      `json:"agent_requested_exit"`
	ExitFreeText       string    `json:"exit_free_text,omitempty"`
	SessionKey         string    `json:"session_key,omitempty"` // session the run actually executed in
	SessionFallback    bool      `json:"session_fallback,omitempty"`
	Error              string    `json:"error,omitempty"`
}

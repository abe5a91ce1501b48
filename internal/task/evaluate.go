package task

import "time"

// Decision is the result of evaluating a task's end conditions against one
// execution outcome.
type Decision struct {
	NextStatus          Status
	ExecutionCountDelta int
	ExitReason          string
}

// Evaluate maps (task, outcome) to a continue/stop decision. It is pure: the
// caller applies the decision to the store.
//
// A timed-out cycle is skipped entirely: no count increment and no stop, so
// a slow engine can never terminate a task by itself. Otherwise the attempt
// counts (success or handled failure) and end conditions are checked in
// fixed priority: deadline, then max executions, then agent-requested exit.
// Externally imposed limits win over the agent's self-reported exit.
func Evaluate(t *Task, out Outcome, now time.Time) Decision {
	if out.TimedOut {
		return Decision{NextStatus: StatusRunning}
	}

	d := Decision{
		NextStatus:          StatusRunning,
		ExecutionCountDelta: 1,
	}
	count := t.ExecutionCount + d.ExecutionCountDelta

	ec := t.EndConditions
	switch {
	case ec.Deadline != nil && !now.Before(*ec.Deadline):
		d.NextStatus = StatusStopped
		d.ExitReason = ExitReasonDeadline
	case ec.MaxExecutions > 0 && count >= ec.MaxExecutions:
		d.NextStatus = StatusStopped
		d.ExitReason = ExitReasonMaxExecutions
	case ec.AgentCanExit && out.AgentRequestedExit:
		d.NextStatus = StatusStopped
		d.ExitReason = out.ExitFreeText
		if d.ExitReason == "" {
			d.ExitReason = ExitReasonAgentExit
		}
	}
	return d
}

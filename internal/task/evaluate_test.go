package task

import (
	"testing"
	"time"
)

func TestEvaluate_CountsNormalCycle(t *testing.T) {
	tk := Task{ID: "t1", Status: StatusRunning}

	d := Evaluate(&tk, Outcome{Completed: true}, time.Now())
	if d.NextStatus != StatusRunning {
		t.Fatalf("NextStatus: got %s", d.NextStatus)
	}
	if d.ExecutionCountDelta != 1 {
		t.Fatalf("ExecutionCountDelta: got %d, want 1", d.ExecutionCountDelta)
	}
}

func TestEvaluate_HandledFailureStillCounts(t *testing.T) {
	tk := Task{ID: "t1", Status: StatusRunning}

	d := Evaluate(&tk, Outcome{Error: "engine exploded"}, time.Now())
	if d.ExecutionCountDelta != 1 {
		t.Fatalf("a handled failure must count, got delta %d", d.ExecutionCountDelta)
	}
	if d.NextStatus != StatusRunning {
		t.Fatalf("NextStatus: got %s", d.NextStatus)
	}
}

func TestEvaluate_TimeoutSkipsCycle(t *testing.T) {
	dl := time.Now().Add(-time.Hour)
	tk := Task{
		ID:             "t1",
		Status:         StatusRunning,
		ExecutionCount: 2,
		EndConditions:  EndConditions{Deadline: &dl, MaxExecutions: 3},
	}

	// Even with every end condition already met, a timed-out cycle neither
	// counts nor stops the task.
	d := Evaluate(&tk, Outcome{TimedOut: true}, time.Now())
	if d.ExecutionCountDelta != 0 {
		t.Fatalf("timeout must not count, got delta %d", d.ExecutionCountDelta)
	}
	if d.NextStatus != StatusRunning {
		t.Fatalf("timeout must not stop the task, got %s", d.NextStatus)
	}
}

func TestEvaluate_MaxExecutionsExact(t *testing.T) {
	tk := Task{ID: "t1", Status: StatusRunning, EndConditions: EndConditions{MaxExecutions: 3}}

	for i := 0; i < 2; i++ {
		d := Evaluate(&tk, Outcome{Completed: true}, time.Now())
		if d.NextStatus != StatusRunning {
			t.Fatalf("execution %d should not stop a max=3 task", i+1)
		}
		tk.ExecutionCount += d.ExecutionCountDelta
	}

	d := Evaluate(&tk, Outcome{Completed: true}, time.Now())
	if d.NextStatus != StatusStopped || d.ExitReason != ExitReasonMaxExecutions {
		t.Fatalf("third execution of max=3: got status=%s reason=%q", d.NextStatus, d.ExitReason)
	}
}

func TestEvaluate_DeadlineBeatsMaxExecutions(t *testing.T) {
	dl := time.Now().Add(-time.Minute)
	tk := Task{
		ID:             "t1",
		Status:         StatusRunning,
		ExecutionCount: 2,
		EndConditions:  EndConditions{Deadline: &dl, MaxExecutions: 3},
	}

	d := Evaluate(&tk, Outcome{Completed: true}, time.Now())
	if d.ExitReason != ExitReasonDeadline {
		t.Fatalf("deadline must win over max executions, got %q", d.ExitReason)
	}
}

func TestEvaluate_MaxExecutionsBeatsAgentExit(t *testing.T) {
	tk := Task{
		ID:             "t1",
		Status:         StatusRunning,
		ExecutionCount: 2,
		EndConditions:  EndConditions{MaxExecutions: 3, AgentCanExit: true},
	}

	d := Evaluate(&tk, Outcome{Completed: true, AgentRequestedExit: true, ExitFreeText: "done early"}, time.Now())
	if d.ExitReason != ExitReasonMaxExecutions {
		t.Fatalf("max executions must win over agent exit, got %q", d.ExitReason)
	}
}

func TestEvaluate_AgentExit(t *testing.T) {
	tk := Task{ID: "t1", Status: StatusRunning, EndConditions: EndConditions{AgentCanExit: true}}

	d := Evaluate(&tk, Outcome{Completed: true, AgentRequestedExit: true, ExitFreeText: "inbox is empty"}, time.Now())
	if d.NextStatus != StatusStopped || d.ExitReason != "inbox is empty" {
		t.Fatalf("got status=%s reason=%q", d.NextStatus, d.ExitReason)
	}

	// No free text falls back to the canonical reason.
	tk2 := Task{ID: "t2", Status: StatusRunning, EndConditions: EndConditions{AgentCanExit: true}}
	d = Evaluate(&tk2, Outcome{Completed: true, AgentRequestedExit: true}, time.Now())
	if d.ExitReason != ExitReasonAgentExit {
		t.Fatalf("empty free text: got reason %q", d.ExitReason)
	}
}

func TestEvaluate_ExitIgnoredWithoutCapability(t *testing.T) {
	tk := Task{ID: "t1", Status: StatusRunning}

	d := Evaluate(&tk, Outcome{Completed: true, AgentRequestedExit: true}, time.Now())
	if d.NextStatus != StatusRunning {
		t.Fatalf("exit request without agent_can_exit must be ignored, got %s", d.NextStatus)
	}
}

func TestEvaluate_DeadlineNotYetReached(t *testing.T) {
	dl := time.Now().Add(time.Hour)
	tk := Task{ID: "t1", Status: StatusRunning, EndConditions: EndConditions{Deadline: &dl}}

	d := Evaluate(&tk, Outcome{Completed: true}, time.Now())
	if d.NextStatus != StatusRunning {
		t.Fatalf("future deadline must not stop the task, got %s", d.NextStatus)
	}
}

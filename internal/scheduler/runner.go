package scheduler

import (
	"context"

	"github.com/cadencehq/cadence/internal/coordinator"
	"github.com/cadencehq/cadence/internal/task"
)

// Runner executes one scheduled fire. The production runner crosses the
// process boundary to the engine host over HTTP; tests and single-process
// setups call the coordinator directly.
//
// The returned error means the runner could not reach the execution
// authority at all (transport failure). In-engine failures come back inside
// the outcome; the coordinator never throws them across this boundary.
type Runner interface {
	ExecuteTask(ctx context.Context, req coordinator.Request) (task.Outcome, error)
}

// LocalRunner drives an in-process coordinator.
type LocalRunner struct {
	Coordinator *coordinator.Coordinator
}

func (r LocalRunner) ExecuteTask(ctx context.Context, req coordinator.Request) (task.Outcome, error) {
	return r.Coordinator.ExecuteSync(ctx, req), nil
}

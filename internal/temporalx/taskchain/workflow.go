package taskchain

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow runs the tasks of one publication chain in submitted order,
// each as a single activity. A task failure stops the remainder of the
// chain: the trailing dashboard refresh assumes the publications before
// it landed.
func Workflow(ctx workflow.Context, in ChainInput) error {
	if len(in.Tasks) == 0 {
		return fmt.Errorf("taskchain: empty chain")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        10,
			NonRetryableErrorTypes: []string{ErrTypeTerminal},
		},
	})

	for i, task := range in.Tasks {
		if err := workflow.ExecuteActivity(ctx, task.Name, task.Payload).Get(ctx, nil); err != nil {
			return fmt.Errorf("task %d (%s): %w", i, task.Name, err)
		}
	}
	return nil
}

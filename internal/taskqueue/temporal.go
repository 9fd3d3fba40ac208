package taskqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	enums "go.temporal.io/api/enums/v1"
	temporalsdk "go.temporal.io/sdk/temporal"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/temporalx"
)

// chainWorkflowName matches the registration in temporalx/taskchain.
// Referenced by name so the queue does not import the workflow package.
const chainWorkflowName = "publication_chain"

type temporalQueue struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	taskQueue string
}

func NewTemporalQueue(log *logger.Logger, tc temporalsdkclient.Client) (Queue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if tc == nil {
		return nil, fmt.Errorf("temporal client required")
	}
	cfg := temporalx.LoadConfig()
	return &temporalQueue{
		log:       log.With("service", "TemporalQueue"),
		tc:        tc,
		taskQueue: cfg.TaskQueue,
	}, nil
}

func (q *temporalQueue) Enqueue(ctx context.Context, task Task) (Handle, error) {
	return q.Chain(ctx, []Task{task})
}

func (q *temporalQueue) Chain(ctx context.Context, tasks []Task) (Handle, error) {
	if q == nil || q.tc == nil {
		return Handle{}, fmt.Errorf("taskqueue: temporal not configured")
	}
	if err := validateTasks(tasks); err != nil {
		return Handle{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	workflowID := fmt.Sprintf("chain-%s", uuid.NewString())
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: q.taskQueue,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    1,
		},
	}

	run, err := q.tc.ExecuteWorkflow(ctx, opts, chainWorkflowName, chainInput{Tasks: tasks})
	if err != nil {
		return Handle{}, fmt.Errorf("taskqueue: start chain: %w", err)
	}

	q.log.Info("launched task chain",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"tasks", taskNames(tasks),
	)
	return Handle{ID: run.GetID(), RunID: run.GetRunID()}, nil
}

func (q *temporalQueue) Status(ctx context.Context, id string) (Status, error) {
	if q == nil || q.tc == nil {
		return Status{}, fmt.Errorf("taskqueue: temporal not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Status{}, fmt.Errorf("taskqueue: missing chain id")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := q.tc.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return Status{}, fmt.Errorf("taskqueue: describe chain %s: %w", id, err)
	}

	info := resp.GetWorkflowExecutionInfo()
	if info == nil {
		return Status{ID: id, Status: "unknown"}, nil
	}
	return Status{ID: id, Status: statusName(info.GetStatus())}, nil
}

// chainInput mirrors taskchain.ChainInput; the payload is plain JSON so
// the two sides only have to agree on shape, not on a shared type.
type chainInput struct {
	Tasks []Task `json:"tasks"`
}

func statusName(s enums.WorkflowExecutionStatus) string {
	switch s {
	case enums.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return "running"
	case enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "completed"
	case enums.WORKFLOW_EXECUTION_STATUS_FAILED:
		return "failed"
	case enums.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "canceled"
	case enums.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "terminated"
	case enums.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return "running"
	case enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "timed_out"
	default:
		return "unknown"
	}
}

func taskNames(tasks []Task) []string {
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Name)
	}
	return names
}

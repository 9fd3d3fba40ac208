// Package taskchain is the worker-side half of the task queue: the
// workflow that runs a publication chain and the activities that execute
// its tasks against the service layer. Task names double as activity
// names, so the workflow stays a thin dispatcher.
package taskchain

import "github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"

const (
	WorkflowName = "publication_chain"

	ActivityRebuild   = taskqueue.TaskEditionRebuild
	ActivityRename    = taskqueue.TaskEditionRename
	ActivityDashboard = taskqueue.TaskDashboardBuild

	// ErrTypeTerminal marks activity failures that can never succeed on
	// retry: the publication target is gone or the rename destination is
	// taken.
	ErrTypeTerminal = "terminal_publication_failure"
)

// ChainInput is the workflow argument. The queue side submits the same
// JSON shape without importing this package.
type ChainInput struct {
	Tasks []taskqueue.Task `json:"tasks"`
}

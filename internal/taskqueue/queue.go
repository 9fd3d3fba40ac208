// Package taskqueue names the asynchronous work keeper hands off after
// a state transition commits: per-edition rebuilds, edition renames,
// and the trailing dashboard refresh. Tasks submitted together form a
// chain and run sequentially in submitted order.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	TaskEditionRebuild = "edition_rebuild"
	TaskEditionRename  = "edition_rename"
	TaskDashboardBuild = "dashboard_build"
)

type Task struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

type RebuildPayload struct {
	EditionID string `json:"edition_id"`
	BuildID   string `json:"build_id"`
}

type RenamePayload struct {
	EditionID string `json:"edition_id"`
	NewSlug   string `json:"new_slug"`
}

type DashboardPayload struct {
	ProductID string `json:"product_id"`
}

func NewRebuildTask(editionID, buildID uuid.UUID) Task {
	raw, _ := json.Marshal(RebuildPayload{
		EditionID: editionID.String(),
		BuildID:   buildID.String(),
	})
	return Task{Name: TaskEditionRebuild, Payload: raw}
}

func NewRenameTask(editionID uuid.UUID, newSlug string) Task {
	raw, _ := json.Marshal(RenamePayload{
		EditionID: editionID.String(),
		NewSlug:   strings.TrimSpace(newSlug),
	})
	return Task{Name: TaskEditionRename, Payload: raw}
}

func NewDashboardTask(productID uuid.UUID) Task {
	raw, _ := json.Marshal(DashboardPayload{ProductID: productID.String()})
	return Task{Name: TaskDashboardBuild, Payload: raw}
}

// Handle identifies a launched chain so clients can poll its progress.
type Handle struct {
	ID    string `json:"id"`
	RunID string `json:"run_id,omitempty"`
}

type Status struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Queue interface {
	// Enqueue launches a single-task chain.
	Enqueue(ctx context.Context, task Task) (Handle, error)
	// Chain launches the tasks as one unit; they execute sequentially
	// in slice order and a terminal failure stops the remainder.
	Chain(ctx context.Context, tasks []Task) (Handle, error)
	Status(ctx context.Context, id string) (Status, error)
}

func validateTasks(tasks []Task) error {
	if len(tasks) == 0 {
		return fmt.Errorf("taskqueue: empty chain")
	}
	for i, t := range tasks {
		switch t.Name {
		case TaskEditionRebuild, TaskEditionRename, TaskDashboardBuild:
		default:
			return fmt.Errorf("taskqueue: unknown task name %q at index %d", t.Name, i)
		}
		if len(t.Payload) == 0 {
			return fmt.Errorf("taskqueue: task %q at index %d has no payload", t.Name, i)
		}
	}
	return nil
}

package taskchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/services"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"
)

// Activities executes publication chain tasks against the service layer.
// One instance is registered per worker; every method is safe to re-run
// because the services it calls are.
type Activities struct {
	Log         *logger.Logger
	Publication services.PublicationService
	Dashboard   services.DashboardService
	Metrics     observability.Recorder
}

func NewActivities(baseLog *logger.Logger, pub services.PublicationService, dash services.DashboardService, rec observability.Recorder) *Activities {
	return &Activities{
		Log:         baseLog.With("component", "taskchain"),
		Publication: pub,
		Dashboard:   dash,
		Metrics:     rec,
	}
}

// Rebuild publishes a build's content under an edition. Registered under
// ActivityRebuild.
func (a *Activities) Rebuild(ctx context.Context, payload json.RawMessage) error {
	if a == nil || a.Publication == nil {
		return fmt.Errorf("taskchain: rebuild activity not configured")
	}
	return a.run(ctx, ActivityRebuild, func() error {
		var in taskqueue.RebuildPayload
		if err := json.Unmarshal(payload, &in); err != nil {
			return temporal.NewNonRetryableApplicationError("decode rebuild payload", ErrTypeTerminal, err)
		}
		editionID, err := uuid.Parse(in.EditionID)
		if err != nil {
			return temporal.NewNonRetryableApplicationError("rebuild payload: bad edition_id", ErrTypeTerminal, err)
		}
		buildID, err := uuid.Parse(in.BuildID)
		if err != nil {
			return temporal.NewNonRetryableApplicationError("rebuild payload: bad build_id", ErrTypeTerminal, err)
		}
		if err := a.Publication.RebuildEdition(ctx, editionID, buildID); err != nil {
			return classify(err, fmt.Sprintf("rebuild edition %s", editionID))
		}
		return nil
	})
}

// Rename relocates an edition's published prefix. Registered under
// ActivityRename.
func (a *Activities) Rename(ctx context.Context, payload json.RawMessage) error {
	if a == nil || a.Publication == nil {
		return fmt.Errorf("taskchain: rename activity not configured")
	}
	return a.run(ctx, ActivityRename, func() error {
		var in taskqueue.RenamePayload
		if err := json.Unmarshal(payload, &in); err != nil {
			return temporal.NewNonRetryableApplicationError("decode rename payload", ErrTypeTerminal, err)
		}
		editionID, err := uuid.Parse(in.EditionID)
		if err != nil {
			return temporal.NewNonRetryableApplicationError("rename payload: bad edition_id", ErrTypeTerminal, err)
		}
		if err := a.Publication.RenameEdition(ctx, editionID, in.NewSlug); err != nil {
			return classify(err, fmt.Sprintf("rename edition %s", editionID))
		}
		return nil
	})
}

// DashboardBuild regenerates a product's dashboard. Registered under
// ActivityDashboard.
func (a *Activities) DashboardBuild(ctx context.Context, payload json.RawMessage) error {
	if a == nil || a.Dashboard == nil {
		return fmt.Errorf("taskchain: dashboard activity not configured")
	}
	return a.run(ctx, ActivityDashboard, func() error {
		var in taskqueue.DashboardPayload
		if err := json.Unmarshal(payload, &in); err != nil {
			return temporal.NewNonRetryableApplicationError("decode dashboard payload", ErrTypeTerminal, err)
		}
		productID, err := uuid.Parse(in.ProductID)
		if err != nil {
			return temporal.NewNonRetryableApplicationError("dashboard payload: bad product_id", ErrTypeTerminal, err)
		}
		return a.Dashboard.Build(ctx, productID)
	})
}

// run executes one task body with heartbeats, timing, and outcome
// accounting.
func (a *Activities) run(ctx context.Context, task string, body func() error) error {
	rec := a.rec()
	rec.IncTaskStarted(task)

	stop := startHeartbeat(ctx)
	defer stop()

	start := time.Now()
	err := body()
	rec.ObserveTaskDuration(task, time.Since(start))
	switch {
	case err == nil:
		rec.IncTaskResult(task, observability.TaskResultSuccess)
	case isTerminal(err):
		rec.IncTaskResult(task, observability.TaskResultTerminal)
	default:
		rec.IncTaskResult(task, observability.TaskResultFailed)
	}
	return err
}

func (a *Activities) rec() observability.Recorder {
	if a == nil || a.Metrics == nil {
		return observability.NoopRecorder{}
	}
	return a.Metrics
}

// classify converts terminal service failures into non-retryable
// application errors. Everything else flows through for the activity
// retry policy to handle.
func classify(err error, op string) error {
	if errors.Is(err, services.ErrTargetGone) || errors.Is(err, services.ErrSlugTaken) {
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %v", op, err), ErrTypeTerminal, err)
	}
	return err
}

func isTerminal(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.NonRetryable()
}

// startHeartbeat records activity heartbeats until the returned stop
// function is called, keeping long object-store copies alive under the
// workflow's heartbeat timeout.
func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		hb := time.NewTicker(10 * time.Second)
		defer hb.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-hb.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}

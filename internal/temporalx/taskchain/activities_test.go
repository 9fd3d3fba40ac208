package taskchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos/testutil"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/services"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"
)

type pubStub struct {
	err   error
	calls []string
}

func (p *pubStub) RebuildEdition(_ context.Context, editionID, buildID uuid.UUID) error {
	p.calls = append(p.calls, fmt.Sprintf("rebuild %s <- %s", editionID, buildID))
	return p.err
}

func (p *pubStub) RenameEdition(_ context.Context, editionID uuid.UUID, newSlug string) error {
	p.calls = append(p.calls, fmt.Sprintf("rename %s -> %s", editionID, newSlug))
	return p.err
}

type dashStub struct {
	err   error
	calls []string
}

func (d *dashStub) Build(_ context.Context, productID uuid.UUID) error {
	d.calls = append(d.calls, "dashboard "+productID.String())
	return d.err
}

func wantTerminal(t *testing.T, err error) {
	t.Helper()
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an application error, got %v", err)
	}
	if !appErr.NonRetryable() {
		t.Fatalf("expected a non-retryable error, got %v", err)
	}
	if appErr.Type() != ErrTypeTerminal {
		t.Fatalf("error type = %q, want %q", appErr.Type(), ErrTypeTerminal)
	}
}

func wantRetryable(t *testing.T, err, cause error) {
	t.Helper()
	if !errors.Is(err, cause) {
		t.Fatalf("expected %v to flow through, got %v", cause, err)
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		t.Fatalf("transient failures must stay retryable, got %v", err)
	}
}

func TestRebuildActivity(t *testing.T) {
	pub := &pubStub{}
	acts := NewActivities(testutil.Logger(t), pub, &dashStub{}, nil)

	editionID, buildID := uuid.New(), uuid.New()
	task := taskqueue.NewRebuildTask(editionID, buildID)

	if err := acts.Rebuild(context.Background(), task.Payload); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	want := fmt.Sprintf("rebuild %s <- %s", editionID, buildID)
	if len(pub.calls) != 1 || pub.calls[0] != want {
		t.Fatalf("calls = %v, want [%s]", pub.calls, want)
	}
}

func TestRebuildActivity_ErrorClassification(t *testing.T) {
	editionID, buildID := uuid.New(), uuid.New()
	task := taskqueue.NewRebuildTask(editionID, buildID)

	// A vanished target can never publish; retrying wastes the queue.
	pub := &pubStub{err: fmt.Errorf("edition %s: %w", editionID, services.ErrTargetGone)}
	acts := NewActivities(testutil.Logger(t), pub, &dashStub{}, nil)
	wantTerminal(t, acts.Rebuild(context.Background(), task.Payload))

	// A flaky backend should retry on the activity policy.
	transient := errors.New("object store unavailable")
	pub = &pubStub{err: transient}
	acts = NewActivities(testutil.Logger(t), pub, &dashStub{}, nil)
	wantRetryable(t, acts.Rebuild(context.Background(), task.Payload), transient)
}

func TestRebuildActivity_BadPayload(t *testing.T) {
	pub := &pubStub{}
	acts := NewActivities(testutil.Logger(t), pub, &dashStub{}, nil)

	for _, payload := range []string{
		`{"edition_id"`,
		`{"edition_id":"not-a-uuid","build_id":"also-not"}`,
		fmt.Sprintf(`{"edition_id":%q,"build_id":"nope"}`, uuid.New()),
	} {
		err := acts.Rebuild(context.Background(), json.RawMessage(payload))
		wantTerminal(t, err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("service called with a bad payload: %v", pub.calls)
	}
}

func TestRenameActivity(t *testing.T) {
	pub := &pubStub{}
	acts := NewActivities(testutil.Logger(t), pub, &dashStub{}, nil)

	editionID := uuid.New()
	task := taskqueue.NewRenameTask(editionID, "v2")

	if err := acts.Rename(context.Background(), task.Payload); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	want := fmt.Sprintf("rename %s -> v2", editionID)
	if len(pub.calls) != 1 || pub.calls[0] != want {
		t.Fatalf("calls = %v, want [%s]", pub.calls, want)
	}

	// A taken destination slug stays taken; the claim was already
	// released on the service side.
	pub.err = fmt.Errorf("slug v2: %w", services.ErrSlugTaken)
	wantTerminal(t, acts.Rename(context.Background(), task.Payload))
}

func TestDashboardActivity(t *testing.T) {
	dash := &dashStub{}
	acts := NewActivities(testutil.Logger(t), &pubStub{}, dash, nil)

	productID := uuid.New()
	task := taskqueue.NewDashboardTask(productID)

	if err := acts.DashboardBuild(context.Background(), task.Payload); err != nil {
		t.Fatalf("DashboardBuild: %v", err)
	}
	if len(dash.calls) != 1 || dash.calls[0] != "dashboard "+productID.String() {
		t.Fatalf("calls = %v", dash.calls)
	}

	transient := errors.New("dasher returned status 502")
	dash.err = transient
	wantRetryable(t, acts.DashboardBuild(context.Background(), task.Payload), transient)
}

type recStub struct {
	observability.NoopRecorder
	started []string
	results []string
}

func (r *recStub) IncTaskStarted(task string)        { r.started = append(r.started, task) }
func (r *recStub) IncTaskResult(task, result string) { r.results = append(r.results, task+" "+result) }

func TestActivities_MetricsClassification(t *testing.T) {
	rec := &recStub{}
	task := taskqueue.NewRebuildTask(uuid.New(), uuid.New())

	acts := NewActivities(testutil.Logger(t), &pubStub{}, &dashStub{}, rec)
	_ = acts.Rebuild(context.Background(), task.Payload)

	acts = NewActivities(testutil.Logger(t), &pubStub{err: services.ErrTargetGone}, &dashStub{}, rec)
	_ = acts.Rebuild(context.Background(), task.Payload)

	acts = NewActivities(testutil.Logger(t), &pubStub{err: errors.New("flaky backend")}, &dashStub{}, rec)
	_ = acts.Rebuild(context.Background(), task.Payload)

	want := []string{
		taskqueue.TaskEditionRebuild + " " + observability.TaskResultSuccess,
		taskqueue.TaskEditionRebuild + " " + observability.TaskResultTerminal,
		taskqueue.TaskEditionRebuild + " " + observability.TaskResultFailed,
	}
	if !slices.Equal(rec.results, want) {
		t.Fatalf("results = %v, want %v", rec.results, want)
	}
	if len(rec.started) != 3 {
		t.Fatalf("started = %v, want 3 starts", rec.started)
	}
}

func TestActivities_Unconfigured(t *testing.T) {
	acts := &Activities{Log: testutil.Logger(t)}
	task := taskqueue.NewRebuildTask(uuid.New(), uuid.New())
	if err := acts.Rebuild(context.Background(), task.Payload); err == nil {
		t.Fatal("expected an error without a publication service")
	}
	if err := acts.DashboardBuild(context.Background(), taskqueue.NewDashboardTask(uuid.New()).Payload); err == nil {
		t.Fatal("expected an error without a dashboard service")
	}
}

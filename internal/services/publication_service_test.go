package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/redis"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos/testutil"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

type pubFixture struct {
	store   *memStore
	objects *fakeObjectStore
	cdn     *fakeCDN
	bus     *fakeEventBus
	pub     PublicationService
}

func newPubFixture(t *testing.T) *pubFixture {
	t.Helper()
	ms := newMemStore()
	objects := &fakeObjectStore{rec: ms.rec}
	cdn := &fakeCDN{rec: ms.rec}
	bus := &fakeEventBus{rec: ms.rec}
	pub := NewPublicationService(testutil.Logger(t), &fakeProductRepo{s: ms}, &fakeBuildRepo{s: ms}, &fakeEditionRepo{s: ms}, objects, cdn, bus, nil)
	return &pubFixture{store: ms, objects: objects, cdn: cdn, bus: bus, pub: pub}
}

// claimEdition stands in for the request-side claim that precedes every
// publication task.
func claimEdition(t *testing.T, ms *memStore, editionID uuid.UUID) {
	t.Helper()
	repo := &fakeEditionRepo{s: ms}
	claimed, err := repo.ClaimPendingRebuild(testDBC(), editionID)
	if err != nil || !claimed {
		t.Fatalf("claim edition: claimed=%v err=%v", claimed, err)
	}
}

func TestRebuildEdition_Protocol(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")
	edition := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	build := seedBuild(fix.store, product.ID, "1", []string{"main"}, true)
	claimEdition(t, fix.store, edition.ID)

	if err := fix.pub.RebuildEdition(ctx, edition.ID, build.ID); err != nil {
		t.Fatalf("rebuild edition: %v", err)
	}

	// Old content cleared, new content copied, marker written, CDN purged,
	// and only then the database pointer finalized.
	want := []string{
		"delete pipelines/v/v1",
		fmt.Sprintf("copy pipelines/builds/1 -> pipelines/v/v1 key=%s", edition.SurrogateKey),
		"marker pipelines/v/v1",
		"purge " + edition.SurrogateKey,
		"finalize_publication",
		"notify " + redis.EventEditionUpdated,
	}
	if got := fix.store.rec.list(); !slices.Equal(got, want) {
		t.Fatalf("publication protocol out of order:\n got %v\nwant %v", got, want)
	}

	stored := fix.store.edition(edition.ID)
	if stored.PendingRebuild {
		t.Fatal("rebuild left the pending flag set")
	}
	if stored.BuildID == nil || *stored.BuildID != build.ID {
		t.Fatalf("edition must point at build %s, got %v", build.ID, stored.BuildID)
	}
	if stored.RebuiltAt == nil {
		t.Fatal("rebuild did not stamp rebuilt_at")
	}

	if len(fix.bus.events) != 1 {
		t.Fatalf("expected one event, got %d", len(fix.bus.events))
	}
	ev := fix.bus.events[0]
	if ev.Event != redis.EventEditionUpdated || ev.EditionSlug != "v1" || ev.BuildSlug != "1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.PublishedURL != "https://pipelines.example.org/v/v1/" {
		t.Fatalf("unexpected published URL %q", ev.PublishedURL)
	}
}

func TestRebuildEdition_CDNFailureKeepsClaim(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")
	edition := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	build := seedBuild(fix.store, product.ID, "1", []string{"main"}, true)
	claimEdition(t, fix.store, edition.ID)
	fix.cdn.err = errors.New("fastly unavailable")

	err := fix.pub.RebuildEdition(ctx, edition.ID, build.ID)
	if err == nil {
		t.Fatal("expected the purge failure to propagate")
	}
	if errors.Is(err, ErrTargetGone) {
		t.Fatalf("a purge failure is retryable, got terminal error %v", err)
	}
	if slices.Contains(fix.store.rec.list(), "finalize_publication") {
		t.Fatal("a failed run must not finalize the pointer")
	}
	stored := fix.store.edition(edition.ID)
	if !stored.PendingRebuild {
		t.Fatal("the pending flag must stay set for the retry")
	}
	if stored.BuildID != nil {
		t.Fatal("the build pointer must not move on a failed run")
	}
}

func TestRebuildEdition_CopyFailureKeepsClaim(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")
	edition := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	build := seedBuild(fix.store, product.ID, "1", []string{"main"}, true)
	claimEdition(t, fix.store, edition.ID)
	fix.objects.failOp = "copy"
	fix.objects.failErr = errors.New("gcs 500")

	if err := fix.pub.RebuildEdition(ctx, edition.ID, build.ID); err == nil {
		t.Fatal("expected the copy failure to propagate")
	}
	ops := fix.store.rec.list()
	if slices.Contains(ops, "purge "+edition.SurrogateKey) {
		t.Fatal("a failed copy must not purge the CDN")
	}
	if slices.Contains(ops, "finalize_publication") {
		t.Fatal("a failed copy must not finalize the pointer")
	}
	if !fix.store.edition(edition.ID).PendingRebuild {
		t.Fatal("the pending flag must stay set for the retry")
	}
}

func TestRebuildEdition_TargetGone(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")
	edition := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	claimEdition(t, fix.store, edition.ID)

	if err := fix.pub.RebuildEdition(ctx, uuid.New(), uuid.New()); !errors.Is(err, ErrTargetGone) {
		t.Fatalf("missing edition must be terminal, got %v", err)
	}

	never := seedBuild(fix.store, product.ID, "1", []string{"main"}, false)
	if err := fix.pub.RebuildEdition(ctx, edition.ID, never.ID); !errors.Is(err, ErrTargetGone) {
		t.Fatalf("never-uploaded build must be terminal, got %v", err)
	}

	dead := seedBuild(fix.store, product.ID, "2", []string{"main"}, true)
	buildRepo := &fakeBuildRepo{s: fix.store}
	if _, err := buildRepo.Deprecate(testDBC(), dead.ID, time.Now()); err != nil {
		t.Fatalf("deprecate build: %v", err)
	}
	if err := fix.pub.RebuildEdition(ctx, edition.ID, dead.ID); !errors.Is(err, ErrTargetGone) {
		t.Fatalf("deprecated build must be terminal, got %v", err)
	}

	// The claim stays set: the operator sees the edition stuck pending
	// rather than silently dropping the requested publication.
	if !fix.store.edition(edition.ID).PendingRebuild {
		t.Fatal("terminal failures must leave the pending flag visible")
	}
}

func TestRebuildEdition_DuplicateDelivery(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")
	edition := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	build := seedBuild(fix.store, product.ID, "1", []string{"main"}, true)
	claimEdition(t, fix.store, edition.ID)

	if err := fix.pub.RebuildEdition(ctx, edition.ID, build.ID); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	done := len(fix.store.rec.list())

	if err := fix.pub.RebuildEdition(ctx, edition.ID, build.ID); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if got := len(fix.store.rec.list()); got != done {
		t.Fatalf("duplicate delivery re-ran the protocol: %d ops, then %d", done, got)
	}
}

func TestRebuildEdition_DegradedBackends(t *testing.T) {
	ms := newMemStore()
	pub := NewPublicationService(testutil.Logger(t), &fakeProductRepo{s: ms}, &fakeBuildRepo{s: ms}, &fakeEditionRepo{s: ms}, nil, nil, nil, nil)
	ctx := context.Background()
	product := seedProduct(ms, "pipelines")
	edition := seedEdition(ms, product.ID, "v1", tracking.ModeManual, nil)
	build := seedBuild(ms, product.ID, "1", []string{"main"}, true)
	claimEdition(t, ms, edition.ID)

	if err := pub.RebuildEdition(ctx, edition.ID, build.ID); err != nil {
		t.Fatalf("degraded rebuild: %v", err)
	}
	// With no object store, CDN, or event bus the database pointer still
	// advances; nothing else runs.
	if got := ms.rec.list(); !slices.Equal(got, []string{"finalize_publication"}) {
		t.Fatalf("expected only the finalize, got %v", got)
	}
	stored := ms.edition(edition.ID)
	if stored.PendingRebuild || stored.BuildID == nil {
		t.Fatalf("degraded rebuild must still finalize, got %+v", stored)
	}
}

func TestRebuildEdition_NotifyFailureTolerated(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")
	edition := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	build := seedBuild(fix.store, product.ID, "1", []string{"main"}, true)
	claimEdition(t, fix.store, edition.ID)
	fix.bus.err = errors.New("redis down")

	if err := fix.pub.RebuildEdition(ctx, edition.ID, build.ID); err != nil {
		t.Fatalf("event delivery must be best effort, got %v", err)
	}
	if fix.store.edition(edition.ID).PendingRebuild {
		t.Fatal("publication must finalize even when the event bus is down")
	}
}

func TestRenameEdition_Protocol(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")
	edition := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	claimEdition(t, fix.store, edition.ID)

	if err := fix.pub.RenameEdition(ctx, edition.ID, "v2"); err != nil {
		t.Fatalf("rename edition: %v", err)
	}

	// Copy to the new prefix before deleting the old one, and no CDN
	// purge: the surrogate key survives the rename.
	want := []string{
		"delete pipelines/v/v2",
		fmt.Sprintf("copy pipelines/v/v1 -> pipelines/v/v2 key=%s", edition.SurrogateKey),
		"marker pipelines/v/v2",
		"delete pipelines/v/v1",
		"finalize_rename",
		"notify " + redis.EventEditionRenamed,
	}
	if got := fix.store.rec.list(); !slices.Equal(got, want) {
		t.Fatalf("rename protocol out of order:\n got %v\nwant %v", got, want)
	}

	stored := fix.store.edition(edition.ID)
	if stored.Slug != "v2" || stored.PendingRebuild {
		t.Fatalf("rename not finalized: %+v", stored)
	}
	if len(fix.bus.events) != 1 {
		t.Fatalf("expected one event, got %d", len(fix.bus.events))
	}
	ev := fix.bus.events[0]
	if ev.Event != redis.EventEditionRenamed || ev.EditionSlug != "v2" || ev.BuildSlug != "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.PublishedURL != "https://pipelines.example.org/v/v2/" {
		t.Fatalf("unexpected published URL %q", ev.PublishedURL)
	}
}

func TestRenameEdition_CollisionReleasesClaim(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")
	edition := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	seedEdition(fix.store, product.ID, "v2", tracking.ModeManual, nil)
	claimEdition(t, fix.store, edition.ID)

	err := fix.pub.RenameEdition(ctx, edition.ID, "v2")
	if !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
	// The collision is detected before any object moves, so the claim is
	// released and the edition keeps serving under its old slug.
	if got := fix.store.rec.list(); !slices.Equal(got, []string{"release_flag"}) {
		t.Fatalf("expected only the claim release, got %v", got)
	}
	stored := fix.store.edition(edition.ID)
	if stored.Slug != "v1" || stored.PendingRebuild {
		t.Fatalf("collided rename must leave a consistent edition, got %+v", stored)
	}
}

func TestRenameEdition_StaleDeliveries(t *testing.T) {
	fix := newPubFixture(t)
	ctx := context.Background()
	product := seedProduct(fix.store, "pipelines")

	renamed := seedEdition(fix.store, product.ID, "v2", tracking.ModeManual, nil)
	if err := fix.pub.RenameEdition(ctx, renamed.ID, "v2"); err != nil {
		t.Fatalf("already-renamed delivery must be a no-op, got %v", err)
	}

	idle := seedEdition(fix.store, product.ID, "v1", tracking.ModeManual, nil)
	if err := fix.pub.RenameEdition(ctx, idle.ID, "v3"); err != nil {
		t.Fatalf("stale rename without a claim must be a no-op, got %v", err)
	}
	if got := fix.store.rec.list(); len(got) != 0 {
		t.Fatalf("stale deliveries must not touch backends, got %v", got)
	}
	if got := fix.store.edition(idle.ID).Slug; got != "v1" {
		t.Fatalf("stale rename changed the slug to %q", got)
	}

	if err := fix.pub.RenameEdition(ctx, uuid.New(), "v9"); !errors.Is(err, ErrTargetGone) {
		t.Fatal("missing edition must be terminal")
	}
}

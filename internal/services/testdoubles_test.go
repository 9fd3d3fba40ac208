package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/gcs"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/redis"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos/testutil"
	types "github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/apierr"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

// testDBC satisfies the tx-already-open path so the fakes below are used
// without a database handle.
func testDBC() dbctx.Context {
	return dbctx.Context{Ctx: context.Background(), Tx: &gorm.DB{}}
}

// opRecorder captures external side effects in execution order so tests
// can assert protocol ordering (copy before purge, delete before copy).
type opRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *opRecorder) add(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *opRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}

// memStore is an in-memory stand-in for the three repos, faithful to
// their conditional-update semantics.
type memStore struct {
	mu       sync.Mutex
	rec      *opRecorder
	products map[uuid.UUID]*types.Product
	builds   map[uuid.UUID]*types.Build
	editions map[uuid.UUID]*types.Edition
}

func newMemStore() *memStore {
	return &memStore{
		rec:      &opRecorder{},
		products: map[uuid.UUID]*types.Product{},
		builds:   map[uuid.UUID]*types.Build{},
		editions: map[uuid.UUID]*types.Edition{},
	}
}

var errDuplicateKey = errors.New("duplicate key value violates unique constraint")

func copyProduct(p *types.Product) *types.Product {
	cp := *p
	return &cp
}

func copyBuild(b *types.Build) *types.Build {
	cp := *b
	return &cp
}

func copyEdition(e *types.Edition) *types.Edition {
	cp := *e
	cp.CurrentBuild = nil
	return &cp
}

func (s *memStore) edition(id uuid.UUID) *types.Edition {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.editions[id]
	if !ok {
		return nil
	}
	return copyEdition(e)
}

func (s *memStore) build(id uuid.UUID) *types.Build {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[id]
	if !ok {
		return nil
	}
	return copyBuild(b)
}

func seedProduct(s *memStore, slug string) *types.Product {
	p := &types.Product{
		ID:               uuid.New(),
		Slug:             slug,
		Title:            slug,
		DocRepo:          "https://github.com/example/" + slug,
		RootDomain:       "example.org",
		RootFastlyDomain: "fastly.example.net",
		BucketName:       "ltd-" + slug,
		MainModeID:       int(tracking.ModeGitRefs),
		DefaultBranch:    "main",
		SurrogateKey:     types.NewSurrogateKey(),
		CreatedAt:        time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return copyProduct(p)
}

func seedBuild(s *memStore, productID uuid.UUID, slug string, refs []string, uploaded bool) *types.Build {
	b := &types.Build{
		ID:           uuid.New(),
		ProductID:    productID,
		Slug:         slug,
		GitRefs:      types.GitRefsJSON(refs),
		Uploaded:     uploaded,
		SurrogateKey: types.NewSurrogateKey(),
		CreatedAt:    time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds[b.ID] = b
	return copyBuild(b)
}

func seedEdition(s *memStore, productID uuid.UUID, slug string, mode tracking.Mode, refs []string) *types.Edition {
	e := &types.Edition{
		ID:             uuid.New(),
		ProductID:      productID,
		Slug:           slug,
		Title:          slug,
		TrackingModeID: int(mode),
		TrackedRefs:    types.GitRefsJSON(refs),
		SurrogateKey:   types.NewSurrogateKey(),
		CreatedAt:      time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editions[e.ID] = e
	return copyEdition(e)
}

type fakeProductRepo struct{ s *memStore }

func (f *fakeProductRepo) Create(dbc dbctx.Context, product *types.Product) (*types.Product, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, p := range f.s.products {
		if p.Slug == product.Slug {
			return nil, errDuplicateKey
		}
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	product.CreatedAt = time.Now()
	f.s.products[product.ID] = copyProduct(product)
	return product, nil
}

func (f *fakeProductRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Product, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.products[id]
	if !ok {
		return nil, nil
	}
	return copyProduct(p), nil
}

func (f *fakeProductRepo) GetBySlug(dbc dbctx.Context, slug string) (*types.Product, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, p := range f.s.products {
		if p.Slug == slug {
			return copyProduct(p), nil
		}
	}
	return nil, nil
}

func (f *fakeProductRepo) List(dbc dbctx.Context) ([]*types.Product, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*types.Product
	for _, p := range f.s.products {
		out = append(out, copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (f *fakeProductRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.products[id]
	if !ok {
		return nil
	}
	if v, ok := updates["title"].(string); ok {
		p.Title = v
	}
	if v, ok := updates["doc_repo"].(string); ok {
		p.DocRepo = v
	}
	return nil
}

type fakeBuildRepo struct{ s *memStore }

func (f *fakeBuildRepo) Create(dbc dbctx.Context, build *types.Build) (*types.Build, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, b := range f.s.builds {
		if b.ProductID == build.ProductID && b.Slug == build.Slug {
			return nil, errDuplicateKey
		}
	}
	if build.ID == uuid.Nil {
		build.ID = uuid.New()
	}
	build.CreatedAt = time.Now()
	f.s.builds[build.ID] = copyBuild(build)
	return build, nil
}

func (f *fakeBuildRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Build, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	b, ok := f.s.builds[id]
	if !ok {
		return nil, nil
	}
	return copyBuild(b), nil
}

func (f *fakeBuildRepo) GetByProductAndSlug(dbc dbctx.Context, productID uuid.UUID, slug string) (*types.Build, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, b := range f.s.builds {
		if b.ProductID == productID && b.Slug == slug {
			return copyBuild(b), nil
		}
	}
	return nil, nil
}

func (f *fakeBuildRepo) ListByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Build, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*types.Build
	for _, b := range f.s.builds {
		if b.ProductID == productID {
			out = append(out, copyBuild(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (f *fakeBuildRepo) SlugExists(dbc dbctx.Context, productID uuid.UUID, slug string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, b := range f.s.builds {
		if b.ProductID == productID && b.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBuildRepo) CountByProduct(dbc dbctx.Context, productID uuid.UUID) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for _, b := range f.s.builds {
		if b.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (f *fakeBuildRepo) MarkUploaded(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	b, ok := f.s.builds[id]
	if !ok || b.Uploaded || b.EndedAt != nil {
		return false, nil
	}
	b.Uploaded = true
	return true, nil
}

func (f *fakeBuildRepo) Deprecate(dbc dbctx.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	b, ok := f.s.builds[id]
	if !ok || b.EndedAt != nil {
		return false, nil
	}
	b.EndedAt = &endedAt
	return true, nil
}

func (f *fakeBuildRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

type fakeEditionRepo struct{ s *memStore }

func (f *fakeEditionRepo) Create(dbc dbctx.Context, edition *types.Edition) (*types.Edition, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, e := range f.s.editions {
		if e.ProductID == edition.ProductID && e.Slug == edition.Slug {
			return nil, errDuplicateKey
		}
	}
	if edition.ID == uuid.Nil {
		edition.ID = uuid.New()
	}
	edition.CreatedAt = time.Now()
	f.s.editions[edition.ID] = copyEdition(edition)
	return edition, nil
}

func (f *fakeEditionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.editions[id]
	if !ok {
		return nil, nil
	}
	return copyEdition(e), nil
}

func (f *fakeEditionRepo) GetByIDWithBuild(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.editions[id]
	if !ok {
		return nil, nil
	}
	return f.withBuildLocked(e), nil
}

func (f *fakeEditionRepo) withBuildLocked(e *types.Edition) *types.Edition {
	cp := copyEdition(e)
	if cp.BuildID != nil {
		if b, ok := f.s.builds[*cp.BuildID]; ok {
			cp.CurrentBuild = copyBuild(b)
		}
	}
	return cp
}

func (f *fakeEditionRepo) GetByProductAndSlug(dbc dbctx.Context, productID uuid.UUID, slug string) (*types.Edition, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, e := range f.s.editions {
		if e.ProductID == productID && e.Slug == slug {
			return copyEdition(e), nil
		}
	}
	return nil, nil
}

func (f *fakeEditionRepo) ListByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Edition, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*types.Edition
	for _, e := range f.s.editions {
		if e.ProductID == productID {
			out = append(out, copyEdition(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (f *fakeEditionRepo) ListActiveByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Edition, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*types.Edition
	for _, e := range f.s.editions {
		if e.ProductID == productID && e.EndedAt == nil {
			out = append(out, f.withBuildLocked(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (f *fakeEditionRepo) SlugExists(dbc dbctx.Context, productID uuid.UUID, slug string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, e := range f.s.editions {
		if e.ProductID == productID && e.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEditionRepo) CountPendingRebuilds(dbc dbctx.Context) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var count int64
	for _, e := range f.s.editions {
		if e.PendingRebuild && e.EndedAt == nil {
			count++
		}
	}
	return count, nil
}

func (f *fakeEditionRepo) ClaimPendingRebuild(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.editions[id]
	if !ok || e.PendingRebuild || e.EndedAt != nil {
		return false, nil
	}
	e.PendingRebuild = true
	return true, nil
}

func (f *fakeEditionRepo) ReleasePendingRebuild(dbc dbctx.Context, id uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if e, ok := f.s.editions[id]; ok && e.PendingRebuild {
		e.PendingRebuild = false
		f.s.rec.add("release_flag")
	}
	return nil
}

func (f *fakeEditionRepo) FinalizePublication(dbc dbctx.Context, id uuid.UUID, buildID uuid.UUID, rebuiltAt time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.editions[id]
	if !ok || !e.PendingRebuild {
		return false, nil
	}
	bid := buildID
	e.BuildID = &bid
	e.RebuiltAt = &rebuiltAt
	e.PendingRebuild = false
	f.s.rec.add("finalize_publication")
	return true, nil
}

func (f *fakeEditionRepo) FinalizeRename(dbc dbctx.Context, id uuid.UUID, newSlug string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.editions[id]
	if !ok || !e.PendingRebuild {
		return false, nil
	}
	e.Slug = newSlug
	e.PendingRebuild = false
	f.s.rec.add("finalize_rename")
	return true, nil
}

func (f *fakeEditionRepo) Deprecate(dbc dbctx.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.editions[id]
	if !ok || e.EndedAt != nil {
		return false, nil
	}
	e.EndedAt = &endedAt
	return true, nil
}

func (f *fakeEditionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.editions[id]
	if !ok {
		return nil
	}
	if v, ok := updates["title"].(string); ok {
		e.Title = v
	}
	if v, ok := updates["tracking_mode_id"].(int); ok {
		e.TrackingModeID = v
	}
	if v, ok := updates["tracked_refs"].(datatypes.JSON); ok {
		e.TrackedRefs = v
	}
	return nil
}

type fakeQueue struct {
	mu     sync.Mutex
	chains [][]taskqueue.Task
	err    error
}

func (q *fakeQueue) Enqueue(ctx context.Context, task taskqueue.Task) (taskqueue.Handle, error) {
	return q.Chain(ctx, []taskqueue.Task{task})
}

func (q *fakeQueue) Chain(ctx context.Context, tasks []taskqueue.Task) (taskqueue.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return taskqueue.Handle{}, q.err
	}
	q.chains = append(q.chains, tasks)
	return taskqueue.Handle{ID: fmt.Sprintf("chain-%d", len(q.chains))}, nil
}

func (q *fakeQueue) Status(ctx context.Context, id string) (taskqueue.Status, error) {
	return taskqueue.Status{ID: id, Status: "completed"}, nil
}

type fakeObjectStore struct {
	rec     *opRecorder
	failOp  string
	failErr error
}

func (f *fakeObjectStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	f.rec.add("delete " + prefix)
	if f.failOp == "delete" {
		return f.failErr
	}
	return nil
}

func (f *fakeObjectStore) CopyPrefix(ctx context.Context, bucket, srcPrefix, destPrefix string, opts gcs.CopyOptions) error {
	f.rec.add(fmt.Sprintf("copy %s -> %s key=%s", srcPrefix, destPrefix, opts.SurrogateKey))
	if f.failOp == "copy" {
		return f.failErr
	}
	return nil
}

func (f *fakeObjectStore) WriteDirectoryMarker(ctx context.Context, bucket, prefix string, opts gcs.CopyOptions) error {
	f.rec.add("marker " + prefix)
	if f.failOp == "marker" {
		return f.failErr
	}
	return nil
}

type fakeCDN struct {
	rec *opRecorder
	err error
}

func (f *fakeCDN) PurgeKey(ctx context.Context, surrogateKey string) error {
	f.rec.add("purge " + surrogateKey)
	return f.err
}

type fakeEventBus struct {
	mu     sync.Mutex
	rec    *opRecorder
	events []redis.EditionEvent
	err    error
}

func (f *fakeEventBus) Publish(ctx context.Context, ev redis.EditionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec.add("notify " + ev.Event)
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEventBus) Close() error { return nil }

// fixture wires the request-path services against one shared memStore.
type fixture struct {
	store    *memStore
	queue    *fakeQueue
	products ProductService
	builds   BuildService
	editions EditionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := newMemStore()
	queue := &fakeQueue{}
	log := testutil.Logger(t)
	registry := tracking.NewRegistry()
	productRepo := &fakeProductRepo{s: ms}
	buildRepo := &fakeBuildRepo{s: ms}
	editionRepo := &fakeEditionRepo{s: ms}
	return &fixture{
		store:    ms,
		queue:    queue,
		products: NewProductService(nil, log, productRepo, editionRepo, registry),
		builds:   NewBuildService(nil, log, productRepo, buildRepo, editionRepo, registry, queue),
		editions: NewEditionService(nil, log, productRepo, buildRepo, editionRepo, registry, queue),
	}
}

func wantAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected api error %s, got %v", code, err)
	}
	if ae.Status != status || ae.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%v)", status, code, ae.Status, ae.Code, ae.Err)
	}
}

func taskNames(tasks []taskqueue.Task) []string {
	names := make([]string, len(tasks))
	for i, task := range tasks {
		names[i] = task.Name
	}
	return names
}

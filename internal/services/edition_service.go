package services

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos"
	types "github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/apierr"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

type CreateEditionInput struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Mode        string   `json:"mode,omitempty"`
	TrackedRefs []string `json:"tracked_refs,omitempty"`
	// BuildID optionally publishes the edition immediately, subject to
	// the same eligibility checks as a repoint.
	BuildID string `json:"build_id,omitempty"`
}

type UpdateEditionInput struct {
	Title       *string   `json:"title,omitempty"`
	Mode        *string   `json:"mode,omitempty"`
	TrackedRefs *[]string `json:"tracked_refs,omitempty"`
	Slug        *string   `json:"slug,omitempty"`
	BuildID     *string   `json:"build_id,omitempty"`
}

// EditionMutation is an edition state change plus the task descriptors
// the caller launches as one chain after its transaction commits. Tasks
// is empty for purely synchronous changes (title, tracking config).
type EditionMutation struct {
	Edition *types.Edition
	Tasks   []taskqueue.Task
}

type EditionService interface {
	Create(dbc dbctx.Context, productSlug string, in CreateEditionInput) (*EditionMutation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error)
	ListByProduct(dbc dbctx.Context, productSlug string) ([]*types.Edition, error)
	// Update applies tracking-configuration changes synchronously and
	// dispatches build_id to the repoint path and slug to the rename
	// path. The two async paths are mutually exclusive per request.
	Update(dbc dbctx.Context, id uuid.UUID, in UpdateEditionInput) (*EditionMutation, error)
	// RequestRepoint points the edition at an explicit build, bypassing
	// strategy evaluation but not eligibility checks.
	RequestRepoint(dbc dbctx.Context, editionID, buildID uuid.UUID) (*EditionMutation, error)
	// RequestRename relocates the edition's published path. Refused
	// while a publication is in flight.
	RequestRename(dbc dbctx.Context, editionID uuid.UUID, newSlug string) (*EditionMutation, error)
	Deprecate(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error)
}

type editionService struct {
	db       *gorm.DB
	log      *logger.Logger
	products repos.ProductRepo
	builds   repos.BuildRepo
	editions repos.EditionRepo
	registry *tracking.Registry
	queue    taskqueue.Queue
}

func NewEditionService(db *gorm.DB, baseLog *logger.Logger, products repos.ProductRepo, builds repos.BuildRepo, editions repos.EditionRepo, registry *tracking.Registry, queue taskqueue.Queue) EditionService {
	return &editionService{
		db:       db,
		log:      baseLog.With("service", "EditionService"),
		products: products,
		builds:   builds,
		editions: editions,
		registry: registry,
		queue:    queue,
	}
}

// modeTracksRefs reports whether a mode reads the tracked-ref list. Tag
// and manual modes ignore it.
func modeTracksRefs(mode tracking.Mode) bool {
	return mode == tracking.ModeGitRefs || mode == tracking.ModeGitRef
}

func (es *editionService) Create(dbc dbctx.Context, productSlug string, in CreateEditionInput) (*EditionMutation, error) {
	slug := strings.TrimSpace(in.Slug)
	if !types.ValidSlug(slug) {
		return nil, apierr.New(http.StatusBadRequest, "invalid_slug", fmt.Errorf("invalid edition slug %q", in.Slug))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apierr.New(http.StatusBadRequest, "title_required", fmt.Errorf("edition title is required"))
	}
	mode, err := es.registry.ModeID(in.Mode)
	if err != nil {
		return nil, apierr.New(http.StatusBadRequest, "invalid_tracking_mode", err)
	}
	if modeTracksRefs(mode) && len(in.TrackedRefs) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "tracked_refs_required", fmt.Errorf("mode %q requires tracked_refs", in.Mode))
	}
	var buildID uuid.UUID
	if strings.TrimSpace(in.BuildID) != "" {
		buildID, err = uuid.Parse(strings.TrimSpace(in.BuildID))
		if err != nil {
			return nil, apierr.New(http.StatusBadRequest, "invalid_build_id", fmt.Errorf("invalid build_id %q", in.BuildID))
		}
	}

	run := func(inner dbctx.Context) (*EditionMutation, error) {
		product, err := es.products.GetBySlug(inner, productSlug)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, apierr.New(http.StatusNotFound, "product_not_found", fmt.Errorf("product %q not found", productSlug))
		}
		edition := &types.Edition{
			ProductID:      product.ID,
			Slug:           slug,
			Title:          title,
			TrackingModeID: int(mode),
			TrackedRefs:    types.GitRefsJSON(in.TrackedRefs),
			SurrogateKey:   types.NewSurrogateKey(),
		}
		if _, err := es.editions.Create(inner, edition); err != nil {
			if repos.IsUniqueViolation(err) {
				return nil, apierr.New(http.StatusConflict, "edition_slug_taken", fmt.Errorf("edition slug %q already exists for product %q", slug, product.Slug))
			}
			return nil, err
		}
		mut := &EditionMutation{Edition: edition}
		if buildID != uuid.Nil {
			mut.Tasks, err = es.repoint(inner, edition, buildID)
			if err != nil {
				return nil, err
			}
		}
		es.log.Info("edition created",
			"edition_id", edition.ID,
			"product_slug", product.Slug,
			"slug", edition.Slug,
			"mode_id", edition.TrackingModeID,
		)
		return mut, nil
	}

	if dbc.Tx != nil {
		return run(dbc)
	}
	var out *EditionMutation
	if err := es.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		mut, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		out = mut
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (es *editionService) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error) {
	edition, err := es.editions.GetByIDWithBuild(dbc, id)
	if err != nil {
		return nil, err
	}
	if edition == nil {
		return nil, apierr.New(http.StatusNotFound, "edition_not_found", fmt.Errorf("edition %s not found", id))
	}
	return edition, nil
}

func (es *editionService) ListByProduct(dbc dbctx.Context, productSlug string) ([]*types.Edition, error) {
	product, err := es.products.GetBySlug(dbc, productSlug)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, apierr.New(http.StatusNotFound, "product_not_found", fmt.Errorf("product %q not found", productSlug))
	}
	return es.editions.ListByProduct(dbc, product.ID)
}

func (es *editionService) Update(dbc dbctx.Context, id uuid.UUID, in UpdateEditionInput) (*EditionMutation, error) {
	if in.BuildID != nil && in.Slug != nil {
		return nil, apierr.New(http.StatusBadRequest, "conflicting_update", fmt.Errorf("build_id and slug cannot be updated together"))
	}

	run := func(inner dbctx.Context) (*EditionMutation, error) {
		edition, err := es.editions.GetByID(inner, id)
		if err != nil {
			return nil, err
		}
		if edition == nil {
			return nil, apierr.New(http.StatusNotFound, "edition_not_found", fmt.Errorf("edition %s not found", id))
		}
		if edition.Deprecated() {
			return nil, apierr.New(http.StatusConflict, "edition_deprecated", fmt.Errorf("edition %q is deprecated", edition.Slug))
		}

		updates := map[string]interface{}{}
		mode := tracking.Mode(edition.TrackingModeID)
		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if title == "" {
				return nil, apierr.New(http.StatusBadRequest, "title_required", fmt.Errorf("edition title cannot be empty"))
			}
			updates["title"] = title
			edition.Title = title
		}
		if in.Mode != nil {
			mode, err = es.registry.ModeID(*in.Mode)
			if err != nil {
				return nil, apierr.New(http.StatusBadRequest, "invalid_tracking_mode", err)
			}
			updates["tracking_mode_id"] = int(mode)
			edition.TrackingModeID = int(mode)
		}
		refs := edition.TrackedRefList()
		if in.TrackedRefs != nil {
			refs = *in.TrackedRefs
			updates["tracked_refs"] = types.GitRefsJSON(refs)
			edition.TrackedRefs = types.GitRefsJSON(refs)
		}
		if (in.Mode != nil || in.TrackedRefs != nil) && modeTracksRefs(mode) && len(refs) == 0 {
			return nil, apierr.New(http.StatusBadRequest, "tracked_refs_required", fmt.Errorf("the edition's mode requires tracked_refs"))
		}
		if len(updates) > 0 {
			if err := es.editions.UpdateFields(inner, id, updates); err != nil {
				return nil, err
			}
		}

		mut := &EditionMutation{Edition: edition}
		if in.BuildID != nil {
			buildID, err := uuid.Parse(strings.TrimSpace(*in.BuildID))
			if err != nil {
				return nil, apierr.New(http.StatusBadRequest, "invalid_build_id", fmt.Errorf("invalid build_id %q", *in.BuildID))
			}
			mut.Tasks, err = es.repoint(inner, edition, buildID)
			if err != nil {
				return nil, err
			}
		}
		if in.Slug != nil {
			mut.Tasks, err = es.rename(inner, edition, *in.Slug)
			if err != nil {
				return nil, err
			}
		}
		return mut, nil
	}

	if dbc.Tx != nil {
		return run(dbc)
	}
	var out *EditionMutation
	if err := es.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		mut, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		out = mut
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (es *editionService) RequestRepoint(dbc dbctx.Context, editionID, buildID uuid.UUID) (*EditionMutation, error) {
	run := func(inner dbctx.Context) (*EditionMutation, error) {
		edition, err := es.editions.GetByID(inner, editionID)
		if err != nil {
			return nil, err
		}
		if edition == nil {
			return nil, apierr.New(http.StatusNotFound, "edition_not_found", fmt.Errorf("edition %s not found", editionID))
		}
		if edition.Deprecated() {
			return nil, apierr.New(http.StatusConflict, "edition_deprecated", fmt.Errorf("edition %q is deprecated", edition.Slug))
		}
		tasks, err := es.repoint(inner, edition, buildID)
		if err != nil {
			return nil, err
		}
		return &EditionMutation{Edition: edition, Tasks: tasks}, nil
	}

	if dbc.Tx != nil {
		return run(dbc)
	}
	var out *EditionMutation
	if err := es.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		mut, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		out = mut
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (es *editionService) RequestRename(dbc dbctx.Context, editionID uuid.UUID, newSlug string) (*EditionMutation, error) {
	run := func(inner dbctx.Context) (*EditionMutation, error) {
		edition, err := es.editions.GetByID(inner, editionID)
		if err != nil {
			return nil, err
		}
		if edition == nil {
			return nil, apierr.New(http.StatusNotFound, "edition_not_found", fmt.Errorf("edition %s not found", editionID))
		}
		if edition.Deprecated() {
			return nil, apierr.New(http.StatusConflict, "edition_deprecated", fmt.Errorf("edition %q is deprecated", edition.Slug))
		}
		tasks, err := es.rename(inner, edition, newSlug)
		if err != nil {
			return nil, err
		}
		return &EditionMutation{Edition: edition, Tasks: tasks}, nil
	}

	if dbc.Tx != nil {
		return run(dbc)
	}
	var out *EditionMutation
	if err := es.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		mut, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		out = mut
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// repoint runs the operator-triggered publication path: eligibility checks
// on the target build, then the rebuild-flag claim. Mode-agnostic; strategy
// evaluation is bypassed.
func (es *editionService) repoint(inner dbctx.Context, edition *types.Edition, buildID uuid.UUID) ([]taskqueue.Task, error) {
	if es.queue == nil {
		return nil, apierr.New(http.StatusServiceUnavailable, "queue_unavailable", fmt.Errorf("task queue unconfigured; cannot publish"))
	}
	build, err := es.builds.GetByID(inner, buildID)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, apierr.New(http.StatusNotFound, "build_not_found", fmt.Errorf("build %s not found", buildID))
	}
	if build.ProductID != edition.ProductID {
		return nil, apierr.New(http.StatusBadRequest, "product_mismatch", fmt.Errorf("build %q belongs to another product", build.Slug))
	}
	if !build.Uploaded {
		return nil, apierr.New(http.StatusUnprocessableEntity, "build_not_uploaded", fmt.Errorf("build %q has no uploaded content", build.Slug))
	}
	if build.Deprecated() {
		return nil, apierr.New(http.StatusUnprocessableEntity, "build_deprecated", fmt.Errorf("build %q is deprecated", build.Slug))
	}
	claimed, err := es.editions.ClaimPendingRebuild(inner, edition.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apierr.New(http.StatusConflict, "edition_pending_rebuild", fmt.Errorf("edition %q already has a publication in flight", edition.Slug))
	}
	edition.PendingRebuild = true
	es.log.Info("edition repoint requested",
		"edition_id", edition.ID,
		"edition_slug", edition.Slug,
		"build_id", build.ID,
		"build_slug", build.Slug,
	)
	return []taskqueue.Task{
		taskqueue.NewRebuildTask(edition.ID, build.ID),
		taskqueue.NewDashboardTask(edition.ProductID),
	}, nil
}

// rename claims the rebuild flag for a slug change. Renaming and
// rebuilding mutate the same destination prefix, so an in-flight
// publication makes the request a conflict, not a queued retry.
func (es *editionService) rename(inner dbctx.Context, edition *types.Edition, newSlug string) ([]taskqueue.Task, error) {
	if es.queue == nil {
		return nil, apierr.New(http.StatusServiceUnavailable, "queue_unavailable", fmt.Errorf("task queue unconfigured; cannot rename"))
	}
	slug := strings.TrimSpace(newSlug)
	if !types.ValidSlug(slug) {
		return nil, apierr.New(http.StatusBadRequest, "invalid_slug", fmt.Errorf("invalid edition slug %q", newSlug))
	}
	if slug == edition.Slug {
		return nil, apierr.New(http.StatusBadRequest, "slug_unchanged", fmt.Errorf("edition is already named %q", slug))
	}
	exists, err := es.editions.SlugExists(inner, edition.ProductID, slug)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apierr.New(http.StatusConflict, "edition_slug_taken", fmt.Errorf("edition slug %q already exists", slug))
	}
	claimed, err := es.editions.ClaimPendingRebuild(inner, edition.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apierr.New(http.StatusConflict, "edition_pending_rebuild", fmt.Errorf("edition %q already has a publication in flight", edition.Slug))
	}
	edition.PendingRebuild = true
	es.log.Info("edition rename requested",
		"edition_id", edition.ID,
		"edition_slug", edition.Slug,
		"new_slug", slug,
	)
	return []taskqueue.Task{
		taskqueue.NewRenameTask(edition.ID, slug),
		taskqueue.NewDashboardTask(edition.ProductID),
	}, nil
}

func (es *editionService) Deprecate(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error) {
	edition, err := es.editions.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if edition == nil {
		return nil, apierr.New(http.StatusNotFound, "edition_not_found", fmt.Errorf("edition %s not found", id))
	}
	if edition.Deprecated() {
		return edition, nil
	}
	now := time.Now().UTC()
	transitioned, err := es.editions.Deprecate(dbc, id, now)
	if err != nil {
		return nil, err
	}
	if transitioned {
		edition.EndedAt = &now
		es.log.Info("edition deprecated", "edition_id", id, "slug", edition.Slug)
	}
	return edition, nil
}

package services

import (
	"fmt"
	"net/http"
	"strconv"
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

type CreateBuildInput struct {
	Slug    string   `json:"slug,omitempty"`
	GitRefs []string `json:"git_refs"`
	GitHash string   `json:"git_hash,omitempty"`
}

// UploadConfirmation is the outcome of a build upload confirmation: the
// build, the editions whose rebuild was claimed in the same transaction,
// and the task descriptors the caller launches as one chain after that
// transaction commits.
type UploadConfirmation struct {
	Build           *types.Build
	Editions        []*types.Edition
	Tasks           []taskqueue.Task
	AlreadyUploaded bool
}

type BuildService interface {
	Create(dbc dbctx.Context, productSlug string, in CreateBuildInput) (*types.Build, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Build, error)
	ListByProduct(dbc dbctx.Context, productSlug string) ([]*types.Build, error)
	// ConfirmUpload marks the build uploaded and evaluates every active
	// sibling edition's tracking strategy against it, claiming the
	// rebuild flag for each match. Re-confirming an uploaded build is a
	// no-op that reports AlreadyUploaded.
	ConfirmUpload(dbc dbctx.Context, id uuid.UUID) (*UploadConfirmation, error)
	// Deprecate retires the build from publication targeting. Terminal,
	// idempotent.
	Deprecate(dbc dbctx.Context, id uuid.UUID) (*types.Build, error)
}

type buildService struct {
	db       *gorm.DB
	log      *logger.Logger
	products repos.ProductRepo
	builds   repos.BuildRepo
	editions repos.EditionRepo
	registry *tracking.Registry
	queue    taskqueue.Queue
}

func NewBuildService(db *gorm.DB, baseLog *logger.Logger, products repos.ProductRepo, builds repos.BuildRepo, editions repos.EditionRepo, registry *tracking.Registry, queue taskqueue.Queue) BuildService {
	return &buildService{
		db:       db,
		log:      baseLog.With("service", "BuildService"),
		products: products,
		builds:   builds,
		editions: editions,
		registry: registry,
		queue:    queue,
	}
}

func (bs *buildService) Create(dbc dbctx.Context, productSlug string, in CreateBuildInput) (*types.Build, error) {
	if len(in.GitRefs) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "git_refs_required", fmt.Errorf("a build requires at least one git ref"))
	}
	slug := strings.TrimSpace(in.Slug)
	if slug != "" && !types.ValidSlug(slug) {
		return nil, apierr.New(http.StatusBadRequest, "invalid_slug", fmt.Errorf("invalid build slug %q", in.Slug))
	}

	run := func(inner dbctx.Context) (*types.Build, error) {
		product, err := bs.products.GetBySlug(inner, productSlug)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, apierr.New(http.StatusNotFound, "product_not_found", fmt.Errorf("product %q not found", productSlug))
		}
		buildSlug := slug
		if buildSlug == "" {
			buildSlug, err = bs.nextSlug(inner, product.ID)
			if err != nil {
				return nil, err
			}
		} else {
			exists, err := bs.builds.SlugExists(inner, product.ID, buildSlug)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, apierr.New(http.StatusConflict, "build_slug_taken", fmt.Errorf("build slug %q already exists for product %q", buildSlug, product.Slug))
			}
		}
		build := &types.Build{
			ProductID:    product.ID,
			Slug:         buildSlug,
			GitRefs:      types.GitRefsJSON(in.GitRefs),
			GitHash:      strings.TrimSpace(in.GitHash),
			SurrogateKey: types.NewSurrogateKey(),
		}
		if _, err := bs.builds.Create(inner, build); err != nil {
			if repos.IsUniqueViolation(err) {
				return nil, apierr.New(http.StatusConflict, "build_slug_taken", fmt.Errorf("build slug %q already exists for product %q", buildSlug, product.Slug))
			}
			return nil, err
		}
		bs.log.Info("build created",
			"build_id", build.ID,
			"product_slug", product.Slug,
			"slug", build.Slug,
			"git_refs", in.GitRefs,
		)
		return build, nil
	}

	if dbc.Tx != nil {
		return run(dbc)
	}
	var out *types.Build
	if err := bs.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		build, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		out = build
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// nextSlug assigns the next free numeric slug for the product. Counting
// and probing run inside the caller's transaction, so a concurrent create
// can still collide; the unique index is the backstop.
func (bs *buildService) nextSlug(dbc dbctx.Context, productID uuid.UUID) (string, error) {
	count, err := bs.builds.CountByProduct(dbc, productID)
	if err != nil {
		return "", err
	}
	n := count + 1
	for {
		candidate := strconv.FormatInt(n, 10)
		exists, err := bs.builds.SlugExists(dbc, productID, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		n++
	}
}

func (bs *buildService) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Build, error) {
	build, err := bs.builds.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, apierr.New(http.StatusNotFound, "build_not_found", fmt.Errorf("build %s not found", id))
	}
	return build, nil
}

func (bs *buildService) ListByProduct(dbc dbctx.Context, productSlug string) ([]*types.Build, error) {
	product, err := bs.products.GetBySlug(dbc, productSlug)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, apierr.New(http.StatusNotFound, "product_not_found", fmt.Errorf("product %q not found", productSlug))
	}
	return bs.builds.ListByProduct(dbc, product.ID)
}

func (bs *buildService) ConfirmUpload(dbc dbctx.Context, id uuid.UUID) (*UploadConfirmation, error) {
	run := func(inner dbctx.Context) (*UploadConfirmation, error) {
		build, err := bs.builds.GetByID(inner, id)
		if err != nil {
			return nil, err
		}
		if build == nil {
			return nil, apierr.New(http.StatusNotFound, "build_not_found", fmt.Errorf("build %s not found", id))
		}
		if build.Deprecated() {
			return nil, apierr.New(http.StatusConflict, "build_deprecated", fmt.Errorf("build %q is deprecated", build.Slug))
		}
		transitioned, err := bs.builds.MarkUploaded(inner, id)
		if err != nil {
			return nil, err
		}
		if !transitioned {
			bs.log.Info("build upload re-confirmed", "build_id", id, "slug", build.Slug)
			return &UploadConfirmation{Build: build, AlreadyUploaded: true}, nil
		}
		build.Uploaded = true

		product, err := bs.products.GetByID(inner, build.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, fmt.Errorf("product %s for build %s not found", build.ProductID, id)
		}
		conf := &UploadConfirmation{Build: build}
		if bs.queue == nil {
			bs.log.Warn("task queue unconfigured; editions will not track this build",
				"build_id", id,
				"product_slug", product.Slug,
			)
			return conf, nil
		}

		editions, err := bs.editions.ListActiveByProduct(inner, product.ID)
		if err != nil {
			return nil, err
		}
		for _, edition := range editions {
			strategy := bs.registry.StrategyFor(tracking.Mode(edition.TrackingModeID))
			if !strategy.ShouldUpdate(product, edition, build) {
				continue
			}
			claimed, err := bs.editions.ClaimPendingRebuild(inner, edition.ID)
			if err != nil {
				return nil, err
			}
			if !claimed {
				// A publication for this edition is already in flight;
				// this upload event skips it rather than interleave
				// writes to the same destination prefix.
				bs.log.Warn("edition busy; skipping rebuild",
					"edition_id", edition.ID,
					"edition_slug", edition.Slug,
					"build_id", id,
				)
				continue
			}
			edition.PendingRebuild = true
			conf.Editions = append(conf.Editions, edition)
			conf.Tasks = append(conf.Tasks, taskqueue.NewRebuildTask(edition.ID, build.ID))
		}
		// The dashboard lists builds too, so it refreshes even when no
		// edition matched. The chain orders it after every rebuild.
		conf.Tasks = append(conf.Tasks, taskqueue.NewDashboardTask(product.ID))
		bs.log.Info("build upload confirmed",
			"build_id", id,
			"product_slug", product.Slug,
			"slug", build.Slug,
			"editions_matched", len(conf.Editions),
		)
		return conf, nil
	}

	if dbc.Tx != nil {
		return run(dbc)
	}
	var out *UploadConfirmation
	if err := bs.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		conf, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		out = conf
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (bs *buildService) Deprecate(dbc dbctx.Context, id uuid.UUID) (*types.Build, error) {
	build, err := bs.builds.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, apierr.New(http.StatusNotFound, "build_not_found", fmt.Errorf("build %s not found", id))
	}
	if build.Deprecated() {
		return build, nil
	}
	now := time.Now().UTC()
	transitioned, err := bs.builds.Deprecate(dbc, id, now)
	if err != nil {
		return nil, err
	}
	if transitioned {
		build.EndedAt = &now
		bs.log.Info("build deprecated", "build_id", id, "slug", build.Slug)
	}
	return build, nil
}

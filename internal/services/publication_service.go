package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/fastly"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/gcs"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/redis"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/envutil"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
)

// PublicationService executes the asynchronous halves of the publication
// and rename protocols. It runs inside worker tasks, never inside request
// transactions: every step is ordered so that a crash leaves the edition's
// pending flag set and a full re-run is safe.
type PublicationService interface {
	// RebuildEdition makes the edition's published content match the
	// build's content: delete the destination prefix, recopy from the
	// build's prefix with the edition's surrogate key stamped on, purge
	// the CDN by that key, then finalize the edition row.
	RebuildEdition(ctx context.Context, editionID, buildID uuid.UUID) error
	// RenameEdition relocates the edition's published prefix and installs
	// the new slug. No CDN purge: the old path is abandoned, not
	// invalidated.
	RenameEdition(ctx context.Context, editionID uuid.UUID, newSlug string) error
}

type publicationService struct {
	log      *logger.Logger
	products repos.ProductRepo
	builds   repos.BuildRepo
	editions repos.EditionRepo
	store    gcs.ObjectStore
	cdn      fastly.Client
	events   redis.EventBus
	metrics  observability.Recorder

	// cacheControl is stamped onto every published object. Long-lived:
	// invalidation is keyed purging, not TTL expiry.
	cacheControl string
}

// NewPublicationService wires the protocol executor. store, cdn, events,
// and rec may each be nil; the corresponding step is skipped with a
// degraded-mode warning.
func NewPublicationService(baseLog *logger.Logger, products repos.ProductRepo, builds repos.BuildRepo, editions repos.EditionRepo, store gcs.ObjectStore, cdn fastly.Client, events redis.EventBus, rec observability.Recorder) PublicationService {
	if rec == nil {
		rec = observability.NoopRecorder{}
	}
	return &publicationService{
		log:          baseLog.With("service", "PublicationService"),
		products:     products,
		builds:       builds,
		editions:     editions,
		store:        store,
		cdn:          cdn,
		events:       events,
		metrics:      rec,
		cacheControl: envutil.Str("EDITION_CACHE_CONTROL", "public, max-age=31536000"),
	}
}

func (s *publicationService) RebuildEdition(ctx context.Context, editionID, buildID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	log := s.log.With("edition_id", editionID, "build_id", buildID)

	edition, err := s.editions.GetByID(dbc, editionID)
	if err != nil {
		return fmt.Errorf("load edition: %w", err)
	}
	if edition == nil || edition.Deprecated() {
		return fmt.Errorf("edition %s: %w", editionID, ErrTargetGone)
	}
	build, err := s.builds.GetByID(dbc, buildID)
	if err != nil {
		return fmt.Errorf("load build: %w", err)
	}
	if build == nil || build.Deprecated() || !build.Uploaded {
		return fmt.Errorf("build %s: %w", buildID, ErrTargetGone)
	}
	product, err := s.products.GetByID(dbc, edition.ProductID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return fmt.Errorf("product %s: %w", edition.ProductID, ErrTargetGone)
	}
	if !edition.PendingRebuild {
		// Duplicate delivery after a finalized run.
		log.Info("edition not pending rebuild; skipping", "edition_slug", edition.Slug)
		return nil
	}

	srcPrefix := build.BucketPrefix(product.Slug)
	dstPrefix := edition.BucketPrefix(product.Slug)
	opts := gcs.CopyOptions{
		CacheControl: s.cacheControl,
		SurrogateKey: edition.SurrogateKey,
	}

	switch {
	case s.store == nil:
		log.Warn("object store unconfigured; skipping content copy", "edition_slug", edition.Slug)
	case product.BucketName == "":
		log.Warn("product has no bucket; skipping content copy", "product_slug", product.Slug)
	default:
		// Delete-then-recopy keeps a partial earlier attempt from
		// leaving orphaned objects and makes retries idempotent.
		if err := s.store.DeletePrefix(ctx, product.BucketName, dstPrefix); err != nil {
			return fmt.Errorf("clear edition prefix %q: %w", dstPrefix, err)
		}
		if err := s.store.CopyPrefix(ctx, product.BucketName, srcPrefix, dstPrefix, opts); err != nil {
			return fmt.Errorf("copy build content to %q: %w", dstPrefix, err)
		}
		if err := s.store.WriteDirectoryMarker(ctx, product.BucketName, dstPrefix, opts); err != nil {
			return fmt.Errorf("write directory marker %q: %w", dstPrefix, err)
		}
	}

	// Purge strictly after the copy: purging first would let the CDN
	// re-cache stale content before the new objects exist.
	if s.cdn == nil {
		log.Warn("CDN unconfigured; skipping purge", "edition_slug", edition.Slug)
	} else {
		purgeErr := s.cdn.PurgeKey(ctx, edition.SurrogateKey)
		s.metrics.IncCDNPurge(purgeErr == nil)
		if purgeErr != nil {
			return fmt.Errorf("purge surrogate key: %w", purgeErr)
		}
	}

	now := time.Now().UTC()
	finalized, err := s.editions.FinalizePublication(dbc, editionID, buildID, now)
	if err != nil {
		return fmt.Errorf("finalize publication: %w", err)
	}
	if !finalized {
		log.Warn("finalize matched no pending edition; another run completed first")
		return nil
	}
	log.Info("edition rebuilt",
		"edition_slug", edition.Slug,
		"build_slug", build.Slug,
		"published_url", edition.PublishedURL(product),
	)

	s.notify(ctx, redis.EditionEvent{
		Event:        redis.EventEditionUpdated,
		ProductSlug:  product.Slug,
		EditionSlug:  edition.Slug,
		EditionID:    edition.ID.String(),
		BuildSlug:    build.Slug,
		PublishedURL: edition.PublishedURL(product),
		OccurredAt:   now,
	})
	return nil
}

func (s *publicationService) RenameEdition(ctx context.Context, editionID uuid.UUID, newSlug string) error {
	dbc := dbctx.Context{Ctx: ctx}
	log := s.log.With("edition_id", editionID, "new_slug", newSlug)

	edition, err := s.editions.GetByID(dbc, editionID)
	if err != nil {
		return fmt.Errorf("load edition: %w", err)
	}
	if edition == nil || edition.Deprecated() {
		return fmt.Errorf("edition %s: %w", editionID, ErrTargetGone)
	}
	product, err := s.products.GetByID(dbc, edition.ProductID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return fmt.Errorf("product %s: %w", edition.ProductID, ErrTargetGone)
	}
	if edition.Slug == newSlug {
		// Duplicate delivery after a finalized run.
		log.Info("edition already renamed; skipping")
		return nil
	}
	if !edition.PendingRebuild {
		log.Warn("edition not pending rebuild; skipping stale rename")
		return nil
	}

	// The destination slug is checked again here: a collision now means
	// copying would clobber another edition's published prefix. The claim
	// is released because nothing has been moved yet.
	exists, err := s.editions.SlugExists(dbc, edition.ProductID, newSlug)
	if err != nil {
		return fmt.Errorf("check slug: %w", err)
	}
	if exists {
		if err := s.editions.ReleasePendingRebuild(dbc, editionID); err != nil {
			log.Warn("failed to release rebuild flag", "error", err)
		}
		return fmt.Errorf("slug %q: %w", newSlug, ErrSlugTaken)
	}

	renamed := *edition
	renamed.Slug = newSlug
	oldPrefix := edition.BucketPrefix(product.Slug)
	newPrefix := renamed.BucketPrefix(product.Slug)
	opts := gcs.CopyOptions{
		CacheControl: s.cacheControl,
		SurrogateKey: edition.SurrogateKey,
	}

	switch {
	case s.store == nil:
		log.Warn("object store unconfigured; skipping content move", "edition_slug", edition.Slug)
	case product.BucketName == "":
		log.Warn("product has no bucket; skipping content move", "product_slug", product.Slug)
	default:
		if err := s.store.DeletePrefix(ctx, product.BucketName, newPrefix); err != nil {
			return fmt.Errorf("clear new prefix %q: %w", newPrefix, err)
		}
		if err := s.store.CopyPrefix(ctx, product.BucketName, oldPrefix, newPrefix, opts); err != nil {
			return fmt.Errorf("copy content to %q: %w", newPrefix, err)
		}
		if err := s.store.WriteDirectoryMarker(ctx, product.BucketName, newPrefix, opts); err != nil {
			return fmt.Errorf("write directory marker %q: %w", newPrefix, err)
		}
		if err := s.store.DeletePrefix(ctx, product.BucketName, oldPrefix); err != nil {
			return fmt.Errorf("delete old prefix %q: %w", oldPrefix, err)
		}
	}

	finalized, err := s.editions.FinalizeRename(dbc, editionID, newSlug)
	if err != nil {
		return fmt.Errorf("finalize rename: %w", err)
	}
	if !finalized {
		log.Warn("finalize matched no pending edition; another run completed first")
		return nil
	}
	log.Info("edition renamed",
		"old_slug", edition.Slug,
		"published_url", renamed.PublishedURL(product),
	)

	s.notify(ctx, redis.EditionEvent{
		Event:        redis.EventEditionRenamed,
		ProductSlug:  product.Slug,
		EditionSlug:  newSlug,
		EditionID:    edition.ID.String(),
		PublishedURL: renamed.PublishedURL(product),
		OccurredAt:   time.Now().UTC(),
	})
	return nil
}

// notify emits a best-effort edition event. Delivery failures never fail
// the publication run.
func (s *publicationService) notify(ctx context.Context, ev redis.EditionEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("edition event publish failed",
			"event", ev.Event,
			"edition_id", ev.EditionID,
			"error", err,
		)
	}
}

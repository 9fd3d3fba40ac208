package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
)

type EditionRepo interface {
	Create(dbc dbctx.Context, edition *types.Edition) (*types.Edition, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error)
	GetByIDWithBuild(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error)
	GetByProductAndSlug(dbc dbctx.Context, productID uuid.UUID, slug string) (*types.Edition, error)
	ListByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Edition, error)
	// ListActiveByProduct returns non-deprecated editions with their
	// current build loaded, ready for strategy evaluation.
	ListActiveByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Edition, error)
	SlugExists(dbc dbctx.Context, productID uuid.UUID, slug string) (bool, error)
	// CountPendingRebuilds counts live editions currently claimed for
	// publication, across all products.
	CountPendingRebuilds(dbc dbctx.Context) (int64, error)
	// ClaimPendingRebuild flips pending_rebuild false→true for a live
	// edition. A false return means the edition is deprecated, missing,
	// or already mid-publication.
	ClaimPendingRebuild(dbc dbctx.Context, id uuid.UUID) (bool, error)
	// ReleasePendingRebuild clears the flag without touching the build
	// pointer, for publication attempts abandoned before any copy ran.
	ReleasePendingRebuild(dbc dbctx.Context, id uuid.UUID) error
	// FinalizePublication points the edition at its new build and clears
	// pending_rebuild in one statement, conditional on the flag still
	// being set so a duplicate task delivery finalizes at most once.
	FinalizePublication(dbc dbctx.Context, id uuid.UUID, buildID uuid.UUID, rebuiltAt time.Time) (bool, error)
	// FinalizeRename installs the new slug and clears pending_rebuild.
	FinalizeRename(dbc dbctx.Context, id uuid.UUID, newSlug string) (bool, error)
	Deprecate(dbc dbctx.Context, id uuid.UUID, endedAt time.Time) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type editionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEditionRepo(db *gorm.DB, baseLog *logger.Logger) EditionRepo {
	return &editionRepo{
		db:  db,
		log: baseLog.With("repo", "EditionRepo"),
	}
}

func (r *editionRepo) Create(dbc dbctx.Context, edition *types.Edition) (*types.Edition, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(edition).Error; err != nil {
		return nil, err
	}
	return edition, nil
}

func (r *editionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var edition types.Edition
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&edition).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &edition, nil
}

func (r *editionRepo) GetByIDWithBuild(dbc dbctx.Context, id uuid.UUID) (*types.Edition, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var edition types.Edition
	err := transaction.WithContext(dbc.Ctx).
		Preload("CurrentBuild").
		Where("id = ?", id).
		First(&edition).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &edition, nil
}

func (r *editionRepo) GetByProductAndSlug(dbc dbctx.Context, productID uuid.UUID, slug string) (*types.Edition, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if productID == uuid.Nil || slug == "" {
		return nil, nil
	}
	var edition types.Edition
	err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ? AND slug = ?", productID, slug).
		First(&edition).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &edition, nil
}

func (r *editionRepo) ListByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Edition, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Edition
	if productID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ?", productID).
		Order("slug ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *editionRepo) ListActiveByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Edition, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Edition
	if productID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Preload("CurrentBuild").
		Where("product_id = ? AND ended_at IS NULL", productID).
		Order("slug ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *editionRepo) SlugExists(dbc dbctx.Context, productID uuid.UUID, slug string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if productID == uuid.Nil || slug == "" {
		return false, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Edition{}).
		Where("product_id = ? AND slug = ?", productID, slug).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *editionRepo) CountPendingRebuilds(dbc dbctx.Context) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Edition{}).
		Where("pending_rebuild = ? AND ended_at IS NULL", true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *editionRepo) ClaimPendingRebuild(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Edition{}).
		Where("id = ? AND pending_rebuild = ? AND ended_at IS NULL", id, false).
		Updates(map[string]interface{}{
			"pending_rebuild": true,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *editionRepo) ReleasePendingRebuild(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Edition{}).
		Where("id = ? AND pending_rebuild = ?", id, true).
		Updates(map[string]interface{}{
			"pending_rebuild": false,
			"updated_at":      time.Now(),
		}).Error
}

func (r *editionRepo) FinalizePublication(dbc dbctx.Context, id uuid.UUID, buildID uuid.UUID, rebuiltAt time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || buildID == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Edition{}).
		Where("id = ? AND pending_rebuild = ?", id, true).
		Updates(map[string]interface{}{
			"build_id":        buildID,
			"rebuilt_at":      rebuiltAt,
			"pending_rebuild": false,
			"updated_at":      rebuiltAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *editionRepo) FinalizeRename(dbc dbctx.Context, id uuid.UUID, newSlug string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || newSlug == "" {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Edition{}).
		Where("id = ? AND pending_rebuild = ?", id, true).
		Updates(map[string]interface{}{
			"slug":            newSlug,
			"pending_rebuild": false,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *editionRepo) Deprecate(dbc dbctx.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Edition{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]interface{}{
			"ended_at":   endedAt,
			"updated_at": endedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *editionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Edition{}).
		Where("id = ?", id).
		Updates(updates).Error
}

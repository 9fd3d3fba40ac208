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

type BuildRepo interface {
	Create(dbc dbctx.Context, build *types.Build) (*types.Build, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Build, error)
	GetByProductAndSlug(dbc dbctx.Context, productID uuid.UUID, slug string) (*types.Build, error)
	ListByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Build, error)
	SlugExists(dbc dbctx.Context, productID uuid.UUID, slug string) (bool, error)
	CountByProduct(dbc dbctx.Context, productID uuid.UUID) (int64, error)
	// MarkUploaded flips the pending-upload flag exactly once; a false
	// return means the build was already uploaded.
	MarkUploaded(dbc dbctx.Context, id uuid.UUID) (bool, error)
	// Deprecate stamps ended_at exactly once; deprecation is terminal.
	Deprecate(dbc dbctx.Context, id uuid.UUID, endedAt time.Time) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type buildRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBuildRepo(db *gorm.DB, baseLog *logger.Logger) BuildRepo {
	return &buildRepo{
		db:  db,
		log: baseLog.With("repo", "BuildRepo"),
	}
}

func (r *buildRepo) Create(dbc dbctx.Context, build *types.Build) (*types.Build, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(build).Error; err != nil {
		return nil, err
	}
	return build, nil
}

func (r *buildRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Build, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var build types.Build
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&build).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

func (r *buildRepo) GetByProductAndSlug(dbc dbctx.Context, productID uuid.UUID, slug string) (*types.Build, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if productID == uuid.Nil || slug == "" {
		return nil, nil
	}
	var build types.Build
	err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ? AND slug = ?", productID, slug).
		First(&build).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

func (r *buildRepo) ListByProduct(dbc dbctx.Context, productID uuid.UUID) ([]*types.Build, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Build
	if productID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *buildRepo) SlugExists(dbc dbctx.Context, productID uuid.UUID, slug string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if productID == uuid.Nil || slug == "" {
		return false, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Build{}).
		Where("product_id = ? AND slug = ?", productID, slug).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *buildRepo) CountByProduct(dbc dbctx.Context, productID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if productID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Build{}).
		Where("product_id = ?", productID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *buildRepo) MarkUploaded(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Build{}).
		Where("id = ? AND uploaded = ? AND ended_at IS NULL", id, false).
		Updates(map[string]interface{}{
			"uploaded":   true,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *buildRepo) Deprecate(dbc dbctx.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Build{}).
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

func (r *buildRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Build{}).
		Where("id = ?", id).
		Updates(updates).Error
}

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

func SeedProduct(tb testing.TB, ctx context.Context, tx *gorm.DB, slug string) *types.Product {
	tb.Helper()
	p := &types.Product{
		ID:               uuid.New(),
		Slug:             slug,
		Title:            "Test Product",
		DocRepo:          "https://github.com/lsst/" + slug,
		RootDomain:       "lsst.io",
		RootFastlyDomain: "global.ssl.fastly.net",
		BucketName:       "bucket-" + slug,
		MainModeID:       int(tracking.ModeGitRefs),
		DefaultBranch:    "main",
		SurrogateKey:     types.NewSurrogateKey(),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed product: %v", err)
	}
	return p
}

// NewBuildRow constructs an unsaved build row for tests that exercise
// insert failures themselves.
func NewBuildRow(productID uuid.UUID, slug string, refs []string) *types.Build {
	return &types.Build{
		ID:           uuid.New(),
		ProductID:    productID,
		Slug:         slug,
		GitRefs:      types.GitRefsJSON(refs),
		SurrogateKey: types.NewSurrogateKey(),
	}
}

func SeedBuild(tb testing.TB, ctx context.Context, tx *gorm.DB, productID uuid.UUID, slug string, refs []string) *types.Build {
	tb.Helper()
	b := &types.Build{
		ID:           uuid.New(),
		ProductID:    productID,
		Slug:         slug,
		GitRefs:      types.GitRefsJSON(refs),
		SurrogateKey: types.NewSurrogateKey(),
	}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed build: %v", err)
	}
	return b
}

func SeedUploadedBuild(tb testing.TB, ctx context.Context, tx *gorm.DB, productID uuid.UUID, slug string, refs []string) *types.Build {
	tb.Helper()
	b := SeedBuild(tb, ctx, tx, productID, slug, refs)
	if err := tx.WithContext(ctx).Model(b).Update("uploaded", true).Error; err != nil {
		tb.Fatalf("mark build uploaded: %v", err)
	}
	b.Uploaded = true
	return b
}

// NewEditionRow constructs an unsaved edition row for tests that exercise
// insert failures themselves.
func NewEditionRow(productID uuid.UUID, slug string, mode tracking.Mode, tracked []string) *types.Edition {
	return &types.Edition{
		ID:             uuid.New(),
		ProductID:      productID,
		Slug:           slug,
		Title:          slug,
		TrackingModeID: int(mode),
		TrackedRefs:    types.GitRefsJSON(tracked),
		SurrogateKey:   types.NewSurrogateKey(),
	}
}

func SeedEdition(tb testing.TB, ctx context.Context, tx *gorm.DB, productID uuid.UUID, slug string, mode tracking.Mode, tracked []string) *types.Edition {
	tb.Helper()
	e := &types.Edition{
		ID:             uuid.New(),
		ProductID:      productID,
		Slug:           slug,
		Title:          slug,
		TrackingModeID: int(mode),
		TrackedRefs:    types.GitRefsJSON(tracked),
		SurrogateKey:   types.NewSurrogateKey(),
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed edition: %v", err)
	}
	return e
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }

package services

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos"
	types "github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/apierr"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

type CreateProductInput struct {
	Slug             string `json:"slug"`
	Title            string `json:"title"`
	DocRepo          string `json:"doc_repo,omitempty"`
	RootDomain       string `json:"root_domain"`
	RootFastlyDomain string `json:"root_fastly_domain"`
	BucketName       string `json:"bucket_name,omitempty"`
	MainMode         string `json:"main_mode,omitempty"`
	DefaultBranch    string `json:"default_branch,omitempty"`
}

type UpdateProductInput struct {
	Title   *string `json:"title,omitempty"`
	DocRepo *string `json:"doc_repo,omitempty"`
}

type ProductService interface {
	// Create registers a product and its default "main" edition, which
	// tracks the product's trunk branch in the product's main mode.
	Create(dbc dbctx.Context, in CreateProductInput) (*types.Product, error)
	GetBySlug(dbc dbctx.Context, slug string) (*types.Product, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Product, error)
	List(dbc dbctx.Context) ([]*types.Product, error)
	Update(dbc dbctx.Context, slug string, in UpdateProductInput) (*types.Product, error)
}

type productService struct {
	db       *gorm.DB
	log      *logger.Logger
	products repos.ProductRepo
	editions repos.EditionRepo
	registry *tracking.Registry
}

func NewProductService(db *gorm.DB, baseLog *logger.Logger, products repos.ProductRepo, editions repos.EditionRepo, registry *tracking.Registry) ProductService {
	return &productService{
		db:       db,
		log:      baseLog.With("service", "ProductService"),
		products: products,
		editions: editions,
		registry: registry,
	}
}

func (ps *productService) Create(dbc dbctx.Context, in CreateProductInput) (*types.Product, error) {
	slug := strings.TrimSpace(in.Slug)
	if !types.ValidSlug(slug) {
		return nil, apierr.New(http.StatusBadRequest, "invalid_slug", fmt.Errorf("invalid product slug %q", in.Slug))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apierr.New(http.StatusBadRequest, "title_required", fmt.Errorf("product title is required"))
	}
	rootDomain := strings.TrimSpace(in.RootDomain)
	rootFastly := strings.TrimSpace(in.RootFastlyDomain)
	if rootDomain == "" || rootFastly == "" {
		return nil, apierr.New(http.StatusBadRequest, "domain_required", fmt.Errorf("root_domain and root_fastly_domain are required"))
	}
	mainMode, err := ps.registry.ModeID(in.MainMode)
	if err != nil {
		return nil, apierr.New(http.StatusBadRequest, "invalid_tracking_mode", err)
	}
	bucket := strings.TrimSpace(in.BucketName)
	if bucket == "" {
		bucket = fmt.Sprintf("ltd-%s", slug)
	}
	branch := strings.TrimSpace(in.DefaultBranch)
	if branch == "" {
		branch = "main"
	}

	run := func(inner dbctx.Context) (*types.Product, error) {
		product := &types.Product{
			Slug:             slug,
			Title:            title,
			DocRepo:          strings.TrimSpace(in.DocRepo),
			RootDomain:       rootDomain,
			RootFastlyDomain: rootFastly,
			BucketName:       bucket,
			MainModeID:       int(mainMode),
			DefaultBranch:    branch,
			SurrogateKey:     types.NewSurrogateKey(),
		}
		if _, err := ps.products.Create(inner, product); err != nil {
			if repos.IsUniqueViolation(err) {
				return nil, apierr.New(http.StatusConflict, "product_slug_taken", fmt.Errorf("product slug %q already exists", slug))
			}
			return nil, err
		}
		mainEdition := &types.Edition{
			ProductID:      product.ID,
			Slug:           types.MainEditionSlug,
			Title:          "Latest",
			TrackingModeID: int(mainMode),
			TrackedRefs:    types.GitRefsJSON([]string{product.TrunkRef()}),
			SurrogateKey:   types.NewSurrogateKey(),
		}
		if _, err := ps.editions.Create(inner, mainEdition); err != nil {
			return nil, fmt.Errorf("create main edition: %w", err)
		}
		ps.log.Info("product created",
			"product_id", product.ID,
			"slug", product.Slug,
			"main_edition_id", mainEdition.ID,
		)
		return product, nil
	}

	if dbc.Tx != nil {
		return run(dbc)
	}
	var out *types.Product
	if err := ps.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		product, err := run(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
		if err != nil {
			return err
		}
		out = product
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (ps *productService) GetBySlug(dbc dbctx.Context, slug string) (*types.Product, error) {
	product, err := ps.products.GetBySlug(dbc, strings.TrimSpace(slug))
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, apierr.New(http.StatusNotFound, "product_not_found", fmt.Errorf("product %q not found", slug))
	}
	return product, nil
}

func (ps *productService) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Product, error) {
	product, err := ps.products.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, apierr.New(http.StatusNotFound, "product_not_found", fmt.Errorf("product %s not found", id))
	}
	return product, nil
}

func (ps *productService) List(dbc dbctx.Context) ([]*types.Product, error) {
	return ps.products.List(dbc)
}

func (ps *productService) Update(dbc dbctx.Context, slug string, in UpdateProductInput) (*types.Product, error) {
	product, err := ps.GetBySlug(dbc, slug)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apierr.New(http.StatusBadRequest, "title_required", fmt.Errorf("product title cannot be empty"))
		}
		updates["title"] = title
		product.Title = title
	}
	if in.DocRepo != nil {
		updates["doc_repo"] = strings.TrimSpace(*in.DocRepo)
		product.DocRepo = strings.TrimSpace(*in.DocRepo)
	}
	if len(updates) == 0 {
		return product, nil
	}
	if err := ps.products.UpdateFields(dbc, product.ID, updates); err != nil {
		return nil, err
	}
	return product, nil
}

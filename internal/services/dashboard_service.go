package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos"
	types "github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/envutil"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
)

// DashboardService asks the external dasher service to re-render a
// product's dashboard. Rendering stays external; this side only ships the
// product's current edition and build state.
type DashboardService interface {
	Build(ctx context.Context, productID uuid.UUID) error
}

type dashboardService struct {
	log      *logger.Logger
	products repos.ProductRepo
	builds   repos.BuildRepo
	editions repos.EditionRepo

	url        string
	httpClient *http.Client
}

func NewDashboardService(baseLog *logger.Logger, products repos.ProductRepo, builds repos.BuildRepo, editions repos.EditionRepo) DashboardService {
	url := strings.TrimRight(strings.TrimSpace(envutil.Str("LTD_DASHER_URL", "")), "/")
	return &dashboardService{
		log:      baseLog.With("service", "DashboardService"),
		products: products,
		builds:   builds,
		editions: editions,
		url:      url,
		httpClient: &http.Client{
			Timeout: envutil.DurationSeconds("LTD_DASHER_TIMEOUT_SECONDS", 30*time.Second),
		},
	}
}

type dashboardBuildRequest struct {
	Product  *types.Product   `json:"product"`
	Editions []*types.Edition `json:"editions"`
	Builds   []*types.Build   `json:"builds"`
}

func (ds *dashboardService) Build(ctx context.Context, productID uuid.UUID) error {
	if ds.url == "" {
		ds.log.Warn("LTD_DASHER_URL not set; skipping dashboard build", "product_id", productID)
		return nil
	}
	dbc := dbctx.Context{Ctx: ctx}
	product, err := ds.products.GetByID(dbc, productID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		ds.log.Warn("product gone; skipping dashboard build", "product_id", productID)
		return nil
	}
	editions, err := ds.editions.ListByProduct(dbc, productID)
	if err != nil {
		return fmt.Errorf("load editions: %w", err)
	}
	builds, err := ds.builds.ListByProduct(dbc, productID)
	if err != nil {
		return fmt.Errorf("load builds: %w", err)
	}

	raw, err := json.Marshal(dashboardBuildRequest{
		Product:  product,
		Editions: editions,
		Builds:   builds,
	})
	if err != nil {
		return fmt.Errorf("encode dashboard request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ds.url+"/build", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build dashboard request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ds.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dashboard build request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dashboard build for product %q returned status %d", product.Slug, resp.StatusCode)
	}
	ds.log.Info("dashboard build requested",
		"product_slug", product.Slug,
		"editions", len(editions),
		"builds", len(builds),
	)
	return nil
}

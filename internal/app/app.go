package app

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"gorm.io/gorm"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/db"
	keeperhttp "github.com/lsst-sqre/ltd-keeper-sub000/internal/http"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/envutil"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/temporalx/taskchain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/temporalx/temporalworker"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Clients  *Clients
	Repos    Repos
	Services Services
	Server   *keeperhttp.Server

	recorder     observability.Recorder
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	gdb := pg.DB()
	if err := db.AutoMigrateAll(gdb); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	clients, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	var rec observability.Recorder = observability.NoopRecorder{}
	var metricsHandler nethttp.Handler
	if cfg.MetricsEnabled {
		promRec := observability.NewPrometheusRecorder(nil)
		rec = promRec
		metricsHandler = observability.HTTPHandler(promRec.Registry())
	}

	registry := tracking.NewRegistry()
	reposet := wireRepos(gdb, log)
	serviceset := wireServices(gdb, log, reposet, registry, clients, rec)
	server := wireHTTP(log, cfg, serviceset, registry, clients, rec, metricsHandler)

	return &App{
		Log:          log,
		DB:           gdb,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Server:       server,
		recorder:     rec,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background pieces: the embedded publication worker
// (when Temporal is configured and RUN_WORKER allows it) and the
// pending-rebuild gauge sampler.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Cfg.RunWorker && a.Clients.Temporal != nil {
		acts := taskchain.NewActivities(a.Log, a.Services.Publication, a.Services.Dashboard, a.recorder)
		runner, err := temporalworker.NewRunner(a.Log, a.Clients.Temporal, acts)
		if err != nil {
			a.Log.Error("Embedded worker init failed", "error", err)
		} else {
			go func() {
				if err := runner.Start(ctx); err != nil {
					a.Log.Error("Embedded worker stopped", "error", err)
				}
			}()
		}
	}

	if a.Cfg.MetricsEnabled {
		a.startPendingSampler(ctx)
	}
}

// startPendingSampler refreshes the editions_pending_rebuild gauge from
// the database. The count is cross-product, so any claimed edition shows
// up here even when its publication chain launched from another process.
func (a *App) startPendingSampler(ctx context.Context) {
	interval := a.Cfg.PendingSampleInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := a.Repos.Editions.CountPendingRebuilds(dbctx.Context{Ctx: ctx})
				if err != nil {
					a.Log.Warn("Pending rebuild count failed", "error", err)
					continue
				}
				a.recorder.SetPendingEditions(n)
			}
		}
	}()
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Clients != nil {
		a.Clients.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("Tracer shutdown failed", "error", err)
		}
		cancel()
		a.otelShutdown = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

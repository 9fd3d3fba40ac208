package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"time"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/fastly"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/gcs"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/redis"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/db"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/envutil"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/shutdown"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/services"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/temporalx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/temporalx/taskchain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/temporalx/temporalworker"
)

// The standalone publication worker. It runs the same chain activities
// as the API's embedded worker; deployments that need to scale
// publication throughput independently run this binary with RUN_WORKER
// disabled on the API side.
func main() {
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: envutil.Str("SERVICE_NAME", "keeper-worker"),
		Environment: envutil.Str("ENVIRONMENT", "development"),
		Version:     envutil.Str("VERSION", "dev"),
	})
	defer func() {
		if otelShutdown == nil {
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	gdb := pg.DB()

	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Temporal init failed", "error", err)
		os.Exit(1)
	}
	if tc == nil {
		log.Error("TEMPORAL_ADDRESS is required for the worker")
		os.Exit(1)
	}
	defer tc.Close()

	var store gcs.ObjectStore
	if gcs.Configured() {
		if store, err = gcs.New(log); err != nil {
			log.Error("Object store init failed", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("Object store not configured; publication will skip content moves")
	}

	var cdn fastly.Client
	if fastly.Configured() {
		if cdn, err = fastly.NewFromEnv(log); err != nil {
			log.Error("Fastly init failed", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("Fastly not configured; publication will skip cache purges")
	}

	var events redis.EventBus
	if redis.Configured() {
		if events, err = redis.NewEventBus(log); err != nil {
			log.Error("Redis init failed", "error", err)
			os.Exit(1)
		}
		defer events.Close()
	} else {
		log.Warn("Redis not configured; edition events disabled")
	}

	products := repos.NewProductRepo(gdb, log)
	builds := repos.NewBuildRepo(gdb, log)
	editions := repos.NewEditionRepo(gdb, log)

	var rec observability.Recorder = observability.NoopRecorder{}
	if envutil.Bool("METRICS_ENABLED", true) {
		promRec := observability.NewPrometheusRecorder(nil)
		rec = promRec
		addr := ":" + envutil.Str("METRICS_PORT", "9090")
		go func() {
			mux := nethttp.NewServeMux()
			mux.Handle("/metrics", observability.HTTPHandler(promRec.Registry()))
			log.Info("Worker metrics listening", "addr", addr)
			if err := nethttp.ListenAndServe(addr, mux); err != nil {
				log.Warn("Metrics server exited", "error", err)
			}
		}()
	}

	pub := services.NewPublicationService(log, products, builds, editions, store, cdn, events, rec)
	dash := services.NewDashboardService(log, products, builds, editions)

	acts := taskchain.NewActivities(log, pub, dash, rec)
	runner, err := temporalworker.NewRunner(log, tc, acts)
	if err != nil {
		log.Error("Worker init failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Start(ctx); err != nil {
		log.Error("Worker failed to start", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("Worker shutting down")
}

package app

import (
	nethttp "net/http"

	keeperhttp "github.com/lsst-sqre/ltd-keeper-sub000/internal/http"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/http/handlers"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

func wireHTTP(log *logger.Logger, cfg Config, svcs Services, registry *tracking.Registry, clients *Clients, rec observability.Recorder, metricsHandler nethttp.Handler) *keeperhttp.Server {
	return keeperhttp.NewServer(keeperhttp.RouterConfig{
		Log:            log,
		ServiceName:    cfg.ServiceName,
		Metrics:        rec,
		MetricsHandler: metricsHandler,

		HealthHandler:  handlers.NewHealthHandler(),
		ProductHandler: handlers.NewProductHandler(log, svcs.Products, registry),
		BuildHandler:   handlers.NewBuildHandler(log, svcs.Products, svcs.Builds, registry, clients.Queue),
		EditionHandler: handlers.NewEditionHandler(log, svcs.Products, svcs.Editions, registry, clients.Queue),
		ModeHandler:    handlers.NewModeHandler(registry),
		QueueHandler:   handlers.NewQueueHandler(log, clients.Queue),
	})
}

package http

import (
	nethttp "net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/http/handlers"
	httpMW "github.com/lsst-sqre/ltd-keeper-sub000/internal/http/middleware"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	// ServiceName labels otel spans; empty means "keeper".
	ServiceName string

	// Metrics feeds the request counters; MetricsHandler serves the
	// scrape endpoint. Either may be nil.
	Metrics        observability.Recorder
	MetricsHandler nethttp.Handler

	HealthHandler  *handlers.HealthHandler
	ProductHandler *handlers.ProductHandler
	BuildHandler   *handlers.BuildHandler
	EditionHandler *handlers.EditionHandler
	ModeHandler    *handlers.ModeHandler
	QueueHandler   *handlers.QueueHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "keeper"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.Metrics(cfg.Metrics))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	if cfg.ProductHandler != nil {
		r.POST("/products", cfg.ProductHandler.Create)
		r.GET("/products", cfg.ProductHandler.List)
		r.GET("/products/:slug", cfg.ProductHandler.Get)
		r.PATCH("/products/:slug", cfg.ProductHandler.Update)
	}

	if cfg.BuildHandler != nil {
		r.POST("/products/:slug/builds", cfg.BuildHandler.Create)
		r.GET("/products/:slug/builds", cfg.BuildHandler.ListByProduct)
		r.GET("/builds/:id", cfg.BuildHandler.Get)
		r.POST("/builds/:id/uploaded", cfg.BuildHandler.ConfirmUpload)
		r.DELETE("/builds/:id", cfg.BuildHandler.Deprecate)
	}

	if cfg.EditionHandler != nil {
		r.POST("/products/:slug/editions", cfg.EditionHandler.Create)
		r.GET("/products/:slug/editions", cfg.EditionHandler.ListByProduct)
		r.GET("/editions/:id", cfg.EditionHandler.Get)
		r.PATCH("/editions/:id", cfg.EditionHandler.Update)
		r.DELETE("/editions/:id", cfg.EditionHandler.Deprecate)
	}

	if cfg.ModeHandler != nil {
		r.GET("/trackingmodes", cfg.ModeHandler.List)
	}

	if cfg.QueueHandler != nil {
		r.GET("/queue/:id", cfg.QueueHandler.Status)
	}

	return r
}

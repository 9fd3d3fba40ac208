package app

import (
	"time"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/envutil"
)

type Config struct {
	// Port the API listens on.
	Port string

	ServiceName string
	Environment string
	Version     string

	// RunWorker embeds a publication worker in the API process. Disable
	// it when workers run as their own deployment (cmd/worker).
	RunWorker bool

	MetricsEnabled bool

	// PendingSampleInterval is how often the editions_pending_rebuild
	// gauge is refreshed from the database.
	PendingSampleInterval time.Duration
}

func LoadConfig() Config {
	return Config{
		Port:                  envutil.Str("PORT", "8080"),
		ServiceName:           envutil.Str("SERVICE_NAME", "keeper"),
		Environment:           envutil.Str("ENVIRONMENT", "development"),
		Version:               envutil.Str("VERSION", "dev"),
		RunWorker:             envutil.Bool("RUN_WORKER", true),
		MetricsEnabled:        envutil.Bool("METRICS_ENABLED", true),
		PendingSampleInterval: envutil.DurationSeconds("PENDING_GAUGE_INTERVAL_SECONDS", 30*time.Second),
	}
}

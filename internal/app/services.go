package app

import (
	"gorm.io/gorm"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/services"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

type Services struct {
	Products    services.ProductService
	Builds      services.BuildService
	Editions    services.EditionService
	Publication services.PublicationService
	Dashboard   services.DashboardService
}

func wireServices(db *gorm.DB, log *logger.Logger, reposet Repos, registry *tracking.Registry, clients *Clients, rec observability.Recorder) Services {
	return Services{
		Products: services.NewProductService(db, log, reposet.Products, reposet.Editions, registry),
		Builds:   services.NewBuildService(db, log, reposet.Products, reposet.Builds, reposet.Editions, registry, clients.Queue),
		Editions: services.NewEditionService(db, log, reposet.Products, reposet.Builds, reposet.Editions, registry, clients.Queue),
		Publication: services.NewPublicationService(log, reposet.Products, reposet.Builds, reposet.Editions,
			clients.Store, clients.CDN, clients.Events, rec),
		Dashboard: services.NewDashboardService(log, reposet.Products, reposet.Builds, reposet.Editions),
	}
}

package app

import (
	"gorm.io/gorm"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/data/repos"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
)

type Repos struct {
	Products repos.ProductRepo
	Builds   repos.BuildRepo
	Editions repos.EditionRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Products: repos.NewProductRepo(db, log),
		Builds:   repos.NewBuildRepo(db, log),
		Editions: repos.NewEditionRepo(db, log),
	}
}

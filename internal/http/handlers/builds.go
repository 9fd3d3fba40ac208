package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/http/response"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/services"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

type BuildHandler struct {
	log      *logger.Logger
	products services.ProductService
	builds   services.BuildService
	registry *tracking.Registry
	queue    taskqueue.Queue
}

func NewBuildHandler(log *logger.Logger, products services.ProductService, builds services.BuildService, registry *tracking.Registry, queue taskqueue.Queue) *BuildHandler {
	return &BuildHandler{
		log:      log.With("handler", "BuildHandler"),
		products: products,
		builds:   builds,
		registry: registry,
		queue:    queue,
	}
}

// POST /products/:slug/builds
func (h *BuildHandler) Create(c *gin.Context) {
	var in services.CreateBuildInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	product, err := h.products.GetBySlug(dbc, c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	build, err := h.builds.Create(dbc, product.Slug, in)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.Header("Location", "/builds/"+build.ID.String())
	response.RespondCreated(c, gin.H{"build": newBuildView(product, build)})
}

// GET /products/:slug/builds
func (h *BuildHandler) ListByProduct(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	product, err := h.products.GetBySlug(dbc, c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	builds, err := h.builds.ListByProduct(dbc, product.Slug)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	views := make([]buildView, 0, len(builds))
	for _, b := range builds {
		views = append(views, newBuildView(product, b))
	}
	response.RespondOK(c, gin.H{"builds": views})
}

// GET /builds/:id
func (h *BuildHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_build_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	build, err := h.builds.GetByID(dbc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	product, err := h.products.GetByID(dbc, build.ProductID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"build": newBuildView(product, build)})
}

// POST /builds/:id/uploaded
//
// Confirms the uploader finished writing the build's objects. Editions
// whose tracking strategy matches are claimed for rebuild in the same
// transaction; their publication runs as one task chain afterwards, so
// the response is 202 with a queue URL whenever a chain was launched.
func (h *BuildHandler) ConfirmUpload(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_build_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	conf, err := h.builds.ConfirmUpload(dbc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	product, err := h.products.GetByID(dbc, conf.Build.ProductID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	editionViews := make([]editionView, 0, len(conf.Editions))
	for _, e := range conf.Editions {
		editionViews = append(editionViews, newEditionView(h.registry, product, e))
	}

	if conf.AlreadyUploaded {
		response.RespondOK(c, gin.H{
			"build":            newBuildView(product, conf.Build),
			"already_uploaded": true,
		})
		return
	}

	handle, ok := launchChain(c, h.log, h.queue, conf.Tasks, editionSlugs(conf.Editions)...)
	if !ok {
		return
	}
	if handle.ID == "" {
		response.RespondOK(c, gin.H{
			"build":    newBuildView(product, conf.Build),
			"editions": editionViews,
		})
		return
	}
	response.RespondAccepted(c, gin.H{
		"build":     newBuildView(product, conf.Build),
		"editions":  editionViews,
		"queue_url": queueURL(handle),
	})
}

// DELETE /builds/:id
func (h *BuildHandler) Deprecate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_build_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	build, err := h.builds.Deprecate(dbc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	product, err := h.products.GetByID(dbc, build.ProductID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"build": newBuildView(product, build)})
}

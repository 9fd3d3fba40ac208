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

type EditionHandler struct {
	log      *logger.Logger
	products services.ProductService
	editions services.EditionService
	registry *tracking.Registry
	queue    taskqueue.Queue
}

func NewEditionHandler(log *logger.Logger, products services.ProductService, editions services.EditionService, registry *tracking.Registry, queue taskqueue.Queue) *EditionHandler {
	return &EditionHandler{
		log:      log.With("handler", "EditionHandler"),
		products: products,
		editions: editions,
		registry: registry,
		queue:    queue,
	}
}

// POST /products/:slug/editions
//
// The edition resource itself is created synchronously. When the request
// names a build_id the first publication is queued behind the commit and
// the response carries its queue URL.
func (h *EditionHandler) Create(c *gin.Context) {
	var in services.CreateEditionInput
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

	mut, err := h.editions.Create(dbc, product.Slug, in)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	handle, ok := launchChain(c, h.log, h.queue, mut.Tasks, mut.Edition.Slug)
	if !ok {
		return
	}

	c.Header("Location", "/editions/"+mut.Edition.ID.String())
	body := gin.H{"edition": newEditionView(h.registry, product, mut.Edition)}
	if handle.ID != "" {
		body["queue_url"] = queueURL(handle)
	}
	response.RespondCreated(c, body)
}

// GET /products/:slug/editions
func (h *EditionHandler) ListByProduct(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	product, err := h.products.GetBySlug(dbc, c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	editions, err := h.editions.ListByProduct(dbc, product.Slug)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	views := make([]editionView, 0, len(editions))
	for _, e := range editions {
		views = append(views, newEditionView(h.registry, product, e))
	}
	response.RespondOK(c, gin.H{"editions": views})
}

// GET /editions/:id
func (h *EditionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_edition_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	edition, err := h.editions.GetByID(dbc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	product, err := h.products.GetByID(dbc, edition.ProductID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"edition": newEditionView(h.registry, product, edition)})
}

// PATCH /editions/:id
//
// Title and tracking configuration apply synchronously (200). A build_id
// repoint or slug rename additionally queues publication work, reported
// as 202 with the chain's queue URL.
func (h *EditionHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_edition_id", err)
		return
	}

	var in services.UpdateEditionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	mut, err := h.editions.Update(dbc, id, in)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	product, err := h.products.GetByID(dbc, mut.Edition.ProductID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	handle, ok := launchChain(c, h.log, h.queue, mut.Tasks, mut.Edition.Slug)
	if !ok {
		return
	}

	view := newEditionView(h.registry, product, mut.Edition)
	if handle.ID != "" {
		response.RespondAccepted(c, gin.H{"edition": view, "queue_url": queueURL(handle)})
		return
	}
	response.RespondOK(c, gin.H{"edition": view})
}

// DELETE /editions/:id
func (h *EditionHandler) Deprecate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_edition_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	edition, err := h.editions.Deprecate(dbc, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	product, err := h.products.GetByID(dbc, edition.ProductID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"edition": newEditionView(h.registry, product, edition)})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/http/response"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/dbctx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/services"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

type ProductHandler struct {
	log      *logger.Logger
	products services.ProductService
	registry *tracking.Registry
}

func NewProductHandler(log *logger.Logger, products services.ProductService, registry *tracking.Registry) *ProductHandler {
	return &ProductHandler{
		log:      log.With("handler", "ProductHandler"),
		products: products,
		registry: registry,
	}
}

// POST /products
func (h *ProductHandler) Create(c *gin.Context) {
	var in services.CreateProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	product, err := h.products.Create(dbctx.Context{Ctx: c.Request.Context()}, in)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.Header("Location", "/products/"+product.Slug)
	response.RespondCreated(c, gin.H{"product": newProductView(h.registry, product)})
}

// GET /products
func (h *ProductHandler) List(c *gin.Context) {
	products, err := h.products.List(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, newProductView(h.registry, p))
	}
	response.RespondOK(c, gin.H{"products": views})
}

// GET /products/:slug
func (h *ProductHandler) Get(c *gin.Context) {
	product, err := h.products.GetBySlug(dbctx.Context{Ctx: c.Request.Context()}, c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"product": newProductView(h.registry, product)})
}

// PATCH /products/:slug
func (h *ProductHandler) Update(c *gin.Context) {
	var in services.UpdateProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	product, err := h.products.Update(dbctx.Context{Ctx: c.Request.Context()}, c.Param("slug"), in)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"product": newProductView(h.registry, product)})
}

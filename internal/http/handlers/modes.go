package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/http/response"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

type ModeHandler struct {
	registry *tracking.Registry
}

func NewModeHandler(registry *tracking.Registry) *ModeHandler {
	return &ModeHandler{registry: registry}
}

// GET /trackingmodes
func (h *ModeHandler) List(c *gin.Context) {
	names := h.registry.Names()
	modes := make([]gin.H, 0, len(names))
	for _, name := range names {
		mode, _ := h.registry.ModeID(name)
		modes = append(modes, gin.H{"id": int(mode), "name": name})
	}
	response.RespondOK(c, gin.H{"modes": modes})
}

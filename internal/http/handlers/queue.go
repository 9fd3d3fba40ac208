package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.temporal.io/api/serviceerror"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/http/response"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"
)

type QueueHandler struct {
	log   *logger.Logger
	queue taskqueue.Queue
}

func NewQueueHandler(log *logger.Logger, queue taskqueue.Queue) *QueueHandler {
	return &QueueHandler{
		log:   log.With("handler", "QueueHandler"),
		queue: queue,
	}
}

// GET /queue/:id
func (h *QueueHandler) Status(c *gin.Context) {
	if h.queue == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "queue_unavailable", fmt.Errorf("task queue unconfigured"))
		return
	}

	st, err := h.queue.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			response.RespondError(c, http.StatusNotFound, "queue_chain_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "queue_status_failed", err)
		return
	}
	response.RespondOK(c, st)
}

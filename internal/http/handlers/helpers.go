package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/http/response"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/apierr"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/tracking"
)

// respondServiceError translates service-layer errors into the API's
// error envelope. Services attach status and code via apierr; anything
// else is an unclassified server fault.
func respondServiceError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		response.RespondError(c, ae.Status, ae.Code, ae.Err)
		return
	}
	response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
}

// launchChain starts the publication chain a service mutation returned.
// The database transaction is already committed, so a launch failure
// leaves the named editions claimed (pending_rebuild=true) until an
// operator re-triggers their publication; the error log is the trail
// for that intervention. Returns false after writing the error response.
func launchChain(c *gin.Context, log *logger.Logger, queue taskqueue.Queue, tasks []taskqueue.Task, editionSlugs ...string) (taskqueue.Handle, bool) {
	if len(tasks) == 0 {
		return taskqueue.Handle{}, true
	}
	handle, err := queue.Chain(c.Request.Context(), tasks)
	if err != nil {
		log.Error("Publication chain launch failed; claimed editions stay pending",
			"error", err,
			"editions", strings.Join(editionSlugs, ","),
			"tasks", len(tasks))
		response.RespondError(c, http.StatusInternalServerError, "chain_launch_failed", err)
		return taskqueue.Handle{}, false
	}
	return handle, true
}

func queueURL(h taskqueue.Handle) string {
	return "/queue/" + h.ID
}

func modeName(registry *tracking.Registry, id int) string {
	name, err := registry.ModeName(tracking.Mode(id))
	if err != nil {
		return "unknown"
	}
	return name
}

// productView augments the stored product with fields derived at read
// time: the public root URL and the main tracking mode's name (the
// database holds only the mode id).
type productView struct {
	*types.Product
	MainMode     string `json:"main_mode"`
	PublishedURL string `json:"published_url"`
}

func newProductView(registry *tracking.Registry, p *types.Product) productView {
	return productView{
		Product:      p,
		MainMode:     modeName(registry, p.MainModeID),
		PublishedURL: p.PublishedURL(),
	}
}

type buildView struct {
	*types.Build
	BucketName   string `json:"bucket_name"`
	BucketPrefix string `json:"bucket_prefix"`
	PublishedURL string `json:"published_url"`
}

func newBuildView(p *types.Product, b *types.Build) buildView {
	return buildView{
		Build:        b,
		BucketName:   p.BucketName,
		BucketPrefix: b.BucketPrefix(p.Slug),
		PublishedURL: b.PublishedURL(p),
	}
}

type editionView struct {
	*types.Edition
	Mode         string `json:"mode"`
	BucketPrefix string `json:"bucket_prefix"`
	PublishedURL string `json:"published_url"`
}

func newEditionView(registry *tracking.Registry, p *types.Product, e *types.Edition) editionView {
	return editionView{
		Edition:      e,
		Mode:         modeName(registry, e.TrackingModeID),
		BucketPrefix: e.BucketPrefix(p.Slug),
		PublishedURL: e.PublishedURL(p),
	}
}

func editionSlugs(editions []*types.Edition) []string {
	out := make([]string, 0, len(editions))
	for _, e := range editions {
		out = append(out, e.Slug)
	}
	return out
}

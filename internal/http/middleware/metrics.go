package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/observability"
)

// Metrics records request counts, durations, and the in-flight gauge on the
// shared recorder. Routes are labelled by their registered pattern so that
// path parameters do not explode the label space.
func Metrics(rec observability.Recorder) gin.HandlerFunc {
	if rec == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		rec.IncInflight()
		defer rec.DecInflight()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rec.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

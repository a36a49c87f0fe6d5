package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func statusRoute(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// StatusRequestLogger logs status API calls. Polling reads (health, ready,
// metrics, stats) log at debug so scrapers do not flood the console;
// component actions log at info.
func StatusRequestLogger(logger zerolog.Logger, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		code := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case code >= http.StatusInternalServerError:
			event = logger.Error()
		case code >= http.StatusBadRequest:
			event = logger.Warn()
		case c.Request.Method == http.MethodPost:
			event = logger.Info()
		default:
			event = logger.Debug()
		}
		if name := c.Param("name"); name != "" {
			event = event.Str("component", name)
		}
		if action := c.Param("action"); action != "" {
			event = event.Str("action", action)
		}
		event.
			Str("service", service).
			Str("method", c.Request.Method).
			Str("route", statusRoute(c)).
			Int("code", code).
			Dur("took", time.Since(start)).
			Str("peer", c.ClientIP()).
			Msg("status request")
	}
}

// StatusMetrics counts status API calls per route and component.
func StatusMetrics(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordStatusRequest(service, statusRoute(c), c.Param("name"), c.Writer.Status(), time.Since(start))
	}
}

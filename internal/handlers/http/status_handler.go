// Package http serves the daemon's status surface: health, live session
// summaries, and Prometheus metrics.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alpinenet/internal/core/services"
)

// StatusHandler exposes daemon state over HTTP. It is read-only; all
// protocol mutation happens over the datagram surface.
type StatusHandler struct {
	sessions *services.SessionManager
	registry *prometheus.Registry
}

// NewStatusHandler creates the status surface.
func NewStatusHandler(sessions *services.SessionManager, registry *prometheus.Registry) *StatusHandler {
	return &StatusHandler{sessions: sessions, registry: registry}
}

// Router builds the gin engine serving the status endpoints.
func (h *StatusHandler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.health)
	router.GET("/sessions", h.listSessions)
	if h.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))
	}
	return router
}

func (h *StatusHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.sessions.Count(),
	})
}

func (h *StatusHandler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.sessions.Snapshot(),
	})
}

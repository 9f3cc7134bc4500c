package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/evetabi/racesettle/internal/api/middleware"
	"github.com/evetabi/racesettle/internal/config"
	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing store is reachable.
type Pinger func(ctx context.Context) error

// ClientCounter reports how many operator consoles are connected.
// Implemented by ws.Hub.
type ClientCounter interface {
	ConnectedCount() int
}

// OpsHandler serves the settler's liveness and status endpoints.
type OpsHandler struct {
	ping    Pinger
	clients ClientCounter
	cfg     *config.Config
	started time.Time
}

// NewOpsHandler creates an OpsHandler. ping and clients may be nil.
func NewOpsHandler(ping Pinger, clients ClientCounter, cfg *config.Config) *OpsHandler {
	return &OpsHandler{ping: ping, clients: clients, cfg: cfg, started: time.Now()}
}

// Health godoc
// GET /health
// 200 when the database answers within two seconds, 503 otherwise.
func (h *OpsHandler) Health(c *gin.Context) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status godoc
// GET /api/status
// Requires a valid operator token.
func (h *OpsHandler) Status(c *gin.Context) {
	clients := 0
	if h.clients != nil {
		clients = h.clients.ConnectedCount()
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"operator":           middleware.GetOperator(c),
		"role":               middleware.GetRole(c),
		"env":                h.cfg.Server.Env,
		"uptime_seconds":     int64(time.Since(h.started).Seconds()),
		"ws_clients":         clients,
		"lock_backend":       h.cfg.Lock.Backend,
		"reconcile_schedule": h.cfg.Reconcile.Schedule,
		"events_enabled":     len(h.cfg.Kafka.Brokers) > 0,
	})
}

// NotFound answers unknown routes with the standard error envelope.
func NotFound(c *gin.Context) {
	respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "route not found")
}

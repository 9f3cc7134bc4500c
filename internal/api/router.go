// Package api exposes the settler's operational HTTP surface: liveness,
// Prometheus metrics, the operator WebSocket feed and a token-guarded status
// endpoint. Settlement itself is never triggered over HTTP from here.
package api

import (
	"context"
	"net/http"

	"github.com/evetabi/racesettle/internal/api/handler"
	"github.com/evetabi/racesettle/internal/api/middleware"
	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/evetabi/racesettle/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	Ctx      context.Context // bounds background helpers such as limiter eviction
	AuthSvc  *service.AuthService
	Hub      *ws.Hub
	Gatherer prometheus.Gatherer
	Ping     handler.Pinger
	Cfg      *config.Config
}

// SetupRouter creates and configures the ops Gin engine.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx := deps.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))
	r.NoRoute(handler.NotFound)

	// ── Handlers ─────────────────────────────────────────────────────────────
	var clients handler.ClientCounter
	if deps.Hub != nil {
		clients = deps.Hub
	}
	opsH := handler.NewOpsHandler(deps.Ping, clients, deps.Cfg)

	r.GET("/health", opsH.Health)

	// ── Metrics ──────────────────────────────────────────────────────────────
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// ── Authenticated routes ─────────────────────────────────────────────────
	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(ctx, 20, 40))
	api.Use(middleware.JWTMiddleware(deps.AuthSvc))
	{
		api.GET("/status", opsH.Status)
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		wsRL := middleware.RateLimitMiddleware(ctx, 2, 5) // 2 upgrades/s per IP
		r.GET("/ws", wsRL, func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware sets CORS headers. Outside production all origins are
// allowed; in production only WS_ALLOWED_ORIGINS.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.WSAllowedOrigins))
	for _, o := range cfg.Server.WSAllowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Package backoffice is the operator console API: period inspection,
// settlement preview, manual resume and the compensation queue.
package backoffice

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/evetabi/racesettle/internal/api/middleware"
	"github.com/evetabi/racesettle/internal/backoffice/handler"
	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	Ctx     context.Context
	AuthSvc *service.AuthService
	Periods handler.PeriodReader
	Bets    handler.BetCounter
	Records handler.RecordReader
	Ledger  handler.LedgerReader
	Tasks   handler.TaskAdmin
	Settler handler.Settler
	Logger  *slog.Logger
	Cfg     *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine on BACKOFFICE_PORT.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx := deps.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.Periods, deps.Bets, deps.Tasks, deps.Cfg)
	periodH := handler.NewPeriodAdminHandler(deps.Periods, deps.Bets, deps.Records, deps.Ledger, deps.Settler, logger)
	taskH := handler.NewCompensationHandler(deps.Tasks, logger)

	// every role may read; only admin and ops may act
	readMW := middleware.RoleMiddleware(domain.RoleAdmin, domain.RoleOps, domain.RoleReadOnly)
	operateMW := middleware.OperateMiddleware()
	actionRL := middleware.RateLimitMiddleware(ctx, 1, 5) // operator actions per IP

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.AuthSvc), readMW)
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Periods
		p := admin.Group("/periods")
		{
			p.GET("", periodH.List)
			p.GET("/:id", periodH.Detail)
			p.GET("/:id/preview", periodH.Preview)
			p.GET("/:id/ledger", periodH.Ledger)
			p.POST("/:id/resume", operateMW, actionRL, periodH.Resume)
		}

		// Compensation queue
		comp := admin.Group("/compensation")
		{
			comp.GET("", taskH.List)
			comp.GET("/:id", taskH.Detail)
			comp.POST("/:id/retry", operateMW, actionRL, taskH.Retry)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_DENIED",
			})
			return
		}
		c.Next()
	}
}

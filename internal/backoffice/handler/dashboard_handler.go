package handler

import (
	"net/http"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// dashboardPeriods is how many recent periods the dashboard summarises.
const dashboardPeriods = 10

// taskScanLimit caps the task listing used for the dashboard counters.
const taskScanLimit = 500

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	periods PeriodReader
	bets    BetCounter
	tasks   TaskAdmin
	cfg     *config.Config
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(periods PeriodReader, bets BetCounter, tasks TaskAdmin, cfg *config.Config) *DashboardHandler {
	return &DashboardHandler{periods: periods, bets: bets, tasks: tasks, cfg: cfg}
}

type periodSummary struct {
	*domain.Period
	Counts domain.BetCounts `json:"counts"`
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	// ── Recent periods ───────────────────────────────────────────────────────
	periods, err := h.periods.ListRecent(ctx, dashboardPeriods, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	recent := make([]periodSummary, 0, len(periods))
	stake, payout := decimal.Zero, decimal.Zero
	unfinished := 0
	for _, p := range periods {
		counts, err := h.bets.CountByPeriod(ctx, p.ID)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		recent = append(recent, periodSummary{Period: p, Counts: counts})
		stake = stake.Add(counts.TotalStake)
		payout = payout.Add(counts.TotalWinAmount)
		if p.Status != domain.PeriodBetting && !counts.Complete() {
			unfinished++
		}
	}

	// ── Compensation queue ───────────────────────────────────────────────────
	pending, err := h.tasks.ListTasks(ctx, domain.TaskPending, taskScanLimit, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	failed, err := h.tasks.ListTasks(ctx, domain.TaskFailed, taskScanLimit, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"recent_periods":     recent,
		"unfinished_periods": unfinished,
		"recent_stake":       stake,
		"recent_payout":      payout,
		"tasks_pending":      len(pending),
		"tasks_failed":       len(failed),
		"lock_backend":       h.cfg.Lock.Backend,
		"reconcile_schedule": h.cfg.Reconcile.Schedule,
	})
}

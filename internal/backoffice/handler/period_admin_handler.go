package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/evetabi/racesettle/internal/api/middleware"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/gin-gonic/gin"
)

// PeriodAdminHandler serves /admin/periods endpoints.
type PeriodAdminHandler struct {
	periods PeriodReader
	bets    BetCounter
	records RecordReader
	ledger  LedgerReader
	settler Settler
	logger  *slog.Logger
}

// NewPeriodAdminHandler creates a PeriodAdminHandler.
func NewPeriodAdminHandler(
	periods PeriodReader,
	bets BetCounter,
	records RecordReader,
	ledger LedgerReader,
	settler Settler,
	logger *slog.Logger,
) *PeriodAdminHandler {
	return &PeriodAdminHandler{
		periods: periods,
		bets:    bets,
		records: records,
		ledger:  ledger,
		settler: settler,
		logger:  logger,
	}
}

// List godoc
// GET /admin/periods?page=1&limit=50
func (h *PeriodAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	periods, err := h.periods.ListRecent(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, periods, len(periods), page, limit)
}

// Detail godoc
// GET /admin/periods/:id
// Returns the period, its bet counts and the settlement record if one exists.
func (h *PeriodAdminHandler) Detail(c *gin.Context) {
	id, ok := periodParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	period, err := h.periods.GetByID(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	counts, err := h.bets.CountByPeriod(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	rebates, err := h.ledger.RebateTotal(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	var record *domain.SettlementRecord
	if rec, err := h.records.GetRecord(ctx, id); err == nil {
		record = rec
	} else if !errors.Is(err, domain.ErrRecordNotFound) {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"period":       period,
		"counts":       counts,
		"rebate_total": rebates,
		"record":       record,
		"complete":     record != nil && counts.Complete(),
	})
}

// Preview godoc
// GET /admin/periods/:id/preview
// Dry-run evaluation of the unsettled bets against the stored draw.
func (h *PeriodAdminHandler) Preview(c *gin.Context) {
	id, ok := periodParam(c)
	if !ok {
		return
	}
	preview, err := h.settler.Preview(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, preview)
}

// Resume godoc
// POST /admin/periods/:id/resume
// Runs the settlement orchestrator for the period now. A held lock answers
// 202 with status "locked"; the reconciler will pick the period up.
func (h *PeriodAdminHandler) Resume(c *gin.Context) {
	id, ok := periodParam(c)
	if !ok {
		return
	}
	operator := middleware.GetOperator(c)

	res, err := h.settler.ResumePeriod(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("operator resume failed", "operator", operator, "period", id, "err", err)
		respondDomainError(c, err)
		return
	}
	h.logger.Info("operator resumed period",
		"operator", operator, "period", id, "status", res.Status, "remaining", res.Remaining)

	status := http.StatusOK
	if !res.Done() {
		status = http.StatusAccepted
	}
	respondSuccess(c, status, res)
}

// Ledger godoc
// GET /admin/periods/:id/ledger?page=1&limit=50
func (h *PeriodAdminHandler) Ledger(c *gin.Context) {
	id, ok := periodParam(c)
	if !ok {
		return
	}
	page, limit := adminPagination(c)
	txns, err := h.ledger.ListByPeriod(c.Request.Context(), id, limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, txns, len(txns), page, limit)
}

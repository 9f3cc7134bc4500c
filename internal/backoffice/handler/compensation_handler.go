package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/evetabi/racesettle/internal/api/middleware"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CompensationHandler serves /admin/compensation endpoints.
type CompensationHandler struct {
	tasks  TaskAdmin
	logger *slog.Logger
	now    func() time.Time
}

// NewCompensationHandler creates a CompensationHandler.
func NewCompensationHandler(tasks TaskAdmin, logger *slog.Logger) *CompensationHandler {
	return &CompensationHandler{tasks: tasks, logger: logger, now: time.Now}
}

// List godoc
// GET /admin/compensation?status=failed&page=1&limit=50
func (h *CompensationHandler) List(c *gin.Context) {
	status := domain.TaskStatus(c.Query("status"))
	switch status {
	case "", domain.TaskPending, domain.TaskDone, domain.TaskFailed:
	default:
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "status must be pending, done or failed")
		return
	}

	page, limit := adminPagination(c)
	tasks, err := h.tasks.ListTasks(c.Request.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, tasks, len(tasks), page, limit)
}

// Detail godoc
// GET /admin/compensation/:id
func (h *CompensationHandler) Detail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid task id")
		return
	}
	task, err := h.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, task)
}

// Retry godoc
// POST /admin/compensation/:id/retry
// Re-opens a failed task with a fresh retry budget, due immediately.
func (h *CompensationHandler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid task id")
		return
	}

	task, err := h.tasks.ResetTask(c.Request.Context(), id, h.now().UTC())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	h.logger.Info("operator re-opened compensation task",
		"operator", middleware.GetOperator(c), "task", task.ID, "period", task.PeriodID)
	respondSuccess(c, http.StatusOK, task)
}

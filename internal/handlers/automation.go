package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/diewo77/go-contracts/httpx"
	"github.com/diewo77/go-contracts/internal/automation"
	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/diewo77/go-contracts/internal/tasks"
	"github.com/rs/zerolog"
)

// BatchRunner runs the billing batch in-process and lists past runs.
type BatchRunner interface {
	Run(ctx context.Context, req automation.RunRequest) (*automation.Result, error)
	RecentRuns(ctx context.Context, companyID *uint, limit int) ([]models.AutomationRun, error)
}

// RunEnqueuer hands billing runs to the worker queue.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context, p tasks.ProcessContractsPayload) (string, error)
}

var _ RunEnqueuer = (*tasks.Enqueuer)(nil)

// AutomationHandler triggers billing runs on demand.
type AutomationHandler struct {
	runner   BatchRunner
	enqueuer RunEnqueuer // nil when no queue is configured
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time
}

func NewAutomationHandler(runner BatchRunner, enqueuer RunEnqueuer, loc *time.Location, log zerolog.Logger) *AutomationHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AutomationHandler{runner: runner, enqueuer: enqueuer, loc: loc, log: log, now: time.Now}
}

// Run handles POST /automation/run?date=YYYY-MM-DD&company_id=N&async=1.
// Synchronous runs answer with the run result; async runs with the task id.
func (h *AutomationHandler) Run(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.QueryDate(r, "date", cadence.Date(h.now().In(h.loc)))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"date": "invalid_date"})
		return
	}
	var companyID *uint
	if v := r.URL.Query().Get("company_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"company_id": "invalid"})
			return
		}
		id := uint(n)
		companyID = &id
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.enqueuer == nil {
			httpx.JSONError(w, http.StatusServiceUnavailable, "queue_unavailable", nil)
			return
		}
		taskID, err := h.enqueuer.EnqueueRun(r.Context(), tasks.ProcessContractsPayload{
			AsOf:      asOf.Format(time.DateOnly),
			CompanyID: companyID,
			Trigger:   models.TriggerManual,
		})
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "as_of": asOf.Format(time.DateOnly)})
		return
	}

	res, err := h.runner.Run(r.Context(), automation.RunRequest{AsOf: asOf, CompanyID: companyID, Trigger: models.TriggerManual})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// Runs handles GET /automation/runs?company_id=N&limit=N.
func (h *AutomationHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", 20)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"limit": "invalid"})
		return
	}
	var companyID *uint
	company, ok := companyParam(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"company_id": "invalid"})
		return
	}
	if company != 0 {
		companyID = &company
	}
	runs, err := h.runner.RecentRuns(r.Context(), companyID, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, runs)
}

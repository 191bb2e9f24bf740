package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	database "github.com/diewo77/go-contracts/internal/db"
	"github.com/diewo77/go-contracts/internal/middleware"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/diewo77/go-contracts/internal/tasks"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeEnqueuer struct {
	payloads []tasks.ProcessContractsPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueRun(_ context.Context, p tasks.ProcessContractsPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, p)
	return "task-1", nil
}

func setup(t *testing.T, enq *fakeEnqueuer) (http.Handler, *gorm.DB) {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	d := Deps{
		DB:      db,
		Limiter: middleware.NewRateLimiter(600, 100, zerolog.Nop()),
		Log:     zerolog.Nop(),
	}
	if enq != nil {
		d.Enqueuer = enq
	}
	return New(d), db
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	h, _ := setup(t, nil)
	w := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestContractLifecycleOverHTTP(t *testing.T) {
	h, db := setup(t, nil)
	require.NoError(t, db.Create(&models.Customer{CompanyID: 1, Name: "Acme Corp"}).Error)
	product := models.Product{CompanyID: 1, Name: "Support", Price: decimal.NewFromInt(50), Active: true}
	require.NoError(t, db.Create(&product).Error)

	w := do(t, h, http.MethodPost, "/contracts", map[string]any{
		"company_id":   1,
		"customer_id":  1,
		"items":        []map[string]any{{"product_id": product.ID, "quantity": "2"}},
		"billing_type": " Monthly ",
		"billing_day":  1,
		"start_date":   "2024-01-15",
		"activate":     true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, "active", created["status"])
	assert.Equal(t, "monthly", created["billing_type"])
	assert.Equal(t, "100", created["monthly_value"])
	id := uint(created["id"].(float64))

	w = do(t, h, http.MethodPost, "/automation/run?date=2024-03-01", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decode(t, w)
	assert.Len(t, run["generated_entries"], 2)
	assert.Equal(t, float64(0), run["error_count"])

	w = do(t, h, http.MethodGet, fmt.Sprintf("/contracts/%d/entries", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.FinancialEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].BillingCycleNumber)
	assert.Equal(t, 2, entries[1].BillingCycleNumber)

	w = do(t, h, http.MethodGet, "/contracts/due?date=2024-04-01&company_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var due []models.Contract
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &due))
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)

	w = do(t, h, http.MethodPost, fmt.Sprintf("/contracts/%d/cancel", id), map[string]any{
		"reason":            "Customer request",
		"cancellation_date": "2024-03-15",
		"fee":               "0",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "cancelled", res["contract"].(map[string]any)["status"])
	assert.Nil(t, res["fee_entry"])

	w = do(t, h, http.MethodPost, fmt.Sprintf("/contracts/%d/pause", id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode(t, w)["error"])

	w = do(t, h, http.MethodGet, "/automation/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []models.AutomationRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, models.TriggerManual, runs[0].Trigger)
	assert.Equal(t, 2, runs[0].EntriesGenerated)
}

func TestContractErrors(t *testing.T) {
	h, _ := setup(t, nil)

	w := do(t, h, http.MethodGet, "/contracts/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "contract_not_found", decode(t, w)["error"])

	w = do(t, h, http.MethodGet, "/contracts/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/contracts", map[string]any{"billing_type": "weekly", "start_date": "15/01/2024"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "validation_failed", body["error"])
	assert.Equal(t, "invalid_date", body["details"].(map[string]any)["start_date"])

	w = do(t, h, http.MethodPost, "/contracts", map[string]any{"billing_type": "weekly", "start_date": "2024-01-15"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decode(t, w)["details"].(map[string]any)
	assert.Equal(t, "invalid", details["billing_type"])
	assert.Equal(t, "required", details["customer_id"])

	w = do(t, h, http.MethodPost, "/contracts", map[string]any{"unknown_field": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_json", decode(t, w)["error"])

	w = do(t, h, http.MethodGet, "/contracts/expiring?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodDelete, "/contracts/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutomationRunAsync(t *testing.T) {
	t.Run("no queue", func(t *testing.T) {
		h, _ := setup(t, nil)
		w := do(t, h, http.MethodPost, "/automation/run?async=1", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("queued", func(t *testing.T) {
		enq := &fakeEnqueuer{}
		h, _ := setup(t, enq)
		w := do(t, h, http.MethodPost, "/automation/run?async=1&date=2024-03-01&company_id=4", nil)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.Equal(t, "task-1", decode(t, w)["task_id"])
		require.Len(t, enq.payloads, 1)
		assert.Equal(t, "2024-03-01", enq.payloads[0].AsOf)
		require.NotNil(t, enq.payloads[0].CompanyID)
		assert.Equal(t, uint(4), *enq.payloads[0].CompanyID)
		assert.Equal(t, models.TriggerManual, enq.payloads[0].Trigger)
	})

	t.Run("already queued", func(t *testing.T) {
		h, _ := setup(t, &fakeEnqueuer{err: tasks.ErrRunAlreadyQueued})
		w := do(t, h, http.MethodPost, "/automation/run?async=true", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "run_already_queued", decode(t, w)["error"])
	})

	t.Run("bad date", func(t *testing.T) {
		h, _ := setup(t, nil)
		w := do(t, h, http.MethodPost, "/automation/run?date=yesterday", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

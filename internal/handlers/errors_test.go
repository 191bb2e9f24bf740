package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diewo77/go-contracts/internal/models"
	"github.com/diewo77/go-contracts/internal/services"
	"github.com/diewo77/go-contracts/internal/tasks"
	"github.com/diewo77/go-contracts/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", &services.ValidationError{Violations: validation.Violations{"billing_day": "out_of_range"}},
			http.StatusBadRequest, `{"error":"validation_failed","details":{"billing_day":"out_of_range"}}`},
		{"not found", services.ErrContractNotFound, http.StatusNotFound,
			`{"error":"contract_not_found","details":"contract_not_found"}`},
		{"wrapped transition", fmt.Errorf("%w: cannot pause a cancelled contract", models.ErrInvalidTransition), http.StatusConflict,
			`{"error":"invalid_transition","details":"invalid_transition: cannot pause a cancelled contract"}`},
		{"missing details", services.ErrMissingDetails, http.StatusUnprocessableEntity,
			`{"error":"missing_details","details":"missing_details"}`},
		{"queued", tasks.ErrRunAlreadyQueued, http.StatusConflict,
			`{"error":"run_already_queued","details":"run_already_queued"}`},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, `{"error":"internal_error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, zerolog.Nop(), tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

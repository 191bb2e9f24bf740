package handlers

import (
	"errors"
	"net/http"

	"github.com/diewo77/go-contracts/httpx"
	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/diewo77/go-contracts/internal/services"
	"github.com/diewo77/go-contracts/internal/tasks"
	"github.com/rs/zerolog"
)

// errorStatus maps known error kinds to an HTTP status and error code.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrContractNotFound, http.StatusNotFound, "contract_not_found"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{services.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{services.ErrPersistenceConflict, http.StatusConflict, "persistence_conflict"},
	{tasks.ErrRunAlreadyQueued, http.StatusConflict, "run_already_queued"},
	{services.ErrInvalidReason, http.StatusUnprocessableEntity, "invalid_reason"},
	{services.ErrMissingDetails, http.StatusUnprocessableEntity, "missing_details"},
	{services.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{cadence.ErrDateComputation, http.StatusUnprocessableEntity, "date_computation_error"},
	{services.ErrEntryGenerationFailed, http.StatusInternalServerError, "entry_generation_failed"},
}

// writeError renders err as a JSON error body.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", verr.Violations)
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			if e.status >= http.StatusInternalServerError {
				log.Error().Err(err).Msg(e.code)
			}
			httpx.JSONError(w, e.status, e.code, err.Error())
			return
		}
	}
	log.Error().Err(err).Msg("request failed")
	httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
}

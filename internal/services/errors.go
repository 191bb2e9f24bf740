package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/diewo77/go-contracts/validation"
)

var (
	// ErrContractNotFound is returned when no live contract has the requested id.
	ErrContractNotFound = errors.New("contract_not_found")
	// ErrInvalidState is returned when an operation does not apply to the contract's status.
	ErrInvalidState = errors.New("invalid_state")
	// ErrInvalidReason is returned when a cancellation carries no reason.
	ErrInvalidReason = errors.New("invalid_reason")
	// ErrMissingDetails is returned when the chosen reason requires details.
	ErrMissingDetails = errors.New("missing_details")
	// ErrInvalidAmount is returned for negative fees.
	ErrInvalidAmount = errors.New("invalid_amount")
	// ErrPersistenceConflict is returned when a concurrent writer changed the
	// contract first or the billing cycle already exists.
	ErrPersistenceConflict = errors.New("persistence_conflict")
	// ErrEntryGenerationFailed is returned when an entry could not be stored.
	ErrEntryGenerationFailed = errors.New("entry_generation_failed")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("validation_error")
)

// ValidationError carries the per-field violations of a rejected input.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation_error: %v", map[string]string(e.Violations))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ContractError ties a failure to the contract and step that produced it.
type ContractError struct {
	ContractID uint
	Op         string
	Err        error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("contract %d: %s: %v", e.ContractID, e.Op, e.Err)
}

func (e *ContractError) Unwrap() error { return e.Err }

// MarshalJSON renders the wrapped error as text so batch summaries can be stored and served.
func (e *ContractError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		ContractID uint   `json:"contract_id"`
		Op         string `json:"op"`
		Error      string `json:"error"`
	}{e.ContractID, e.Op, msg})
}

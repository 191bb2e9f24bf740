package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CancellationService cancels contracts and cleans up their future entries.
type CancellationService struct {
	db      *gorm.DB
	entries *EntryService
	log     zerolog.Logger
}

func NewCancellationService(db *gorm.DB, entries *EntryService, log zerolog.Logger) *CancellationService {
	return &CancellationService{db: db, entries: entries, log: log}
}

// CancelRequest describes a cancellation. A nil Fee applies the tenant's
// default cancellation fee.
type CancelRequest struct {
	ContractID       uint
	Reason           string
	Details          string
	CancellationDate time.Time
	Fee              *decimal.Decimal
}

// CancellationResult reports what a cancellation changed.
type CancellationResult struct {
	Contract          *models.Contract       `json:"contract"`
	CancelledEntryIDs []uint                 `json:"cancelled_entry_ids"`
	FeeEntry          *models.FinancialEntry `json:"fee_entry,omitempty"`
}

// Cancel cancels an active or paused contract in a single transaction. Open
// entries due after the cancellation date are cancelled; entries due on or
// before it are left alone. A positive fee is billed as one extra income entry
// outside the billing cycle sequence.
func (s *CancellationService) Cancel(ctx context.Context, req CancelRequest) (*CancellationResult, error) {
	reason := strings.TrimSpace(req.Reason)
	details := strings.TrimSpace(req.Details)
	if req.Fee != nil && req.Fee.IsNegative() {
		return nil, fmt.Errorf("%w: fee must not be negative", ErrInvalidAmount)
	}
	date := cadence.Date(req.CancellationDate)
	if date.IsZero() {
		date = cadence.Date(time.Now())
	}

	result := &CancellationResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Contract
		if err := lockContract(tx, req.ContractID, &c); err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return fmt.Errorf("%w: cannot cancel a %s contract", models.ErrInvalidTransition, c.Status)
		}
		if !c.CanCancel() {
			return fmt.Errorf("%w: cannot cancel a %s contract", ErrInvalidState, c.Status)
		}
		if reason == "" {
			return ErrInvalidReason
		}

		var configured models.CancellationReason
		err := tx.Where("company_id = ? AND name = ?", c.CompanyID, reason).First(&configured).Error
		switch {
		case err == nil:
			if configured.RequiresDetails && details == "" {
				return fmt.Errorf("%w: reason %q requires details", ErrMissingDetails, reason)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		fee := decimal.Zero
		if req.Fee != nil {
			fee = *req.Fee
		} else {
			settings, err := tenantSettings(tx, c.CompanyID)
			if err != nil {
				return err
			}
			fee = settings.DefaultCancellationFee
		}
		fee = fee.Round(2)

		stored := reason
		if details != "" {
			stored = reason + ": " + details
		}
		from := c.Status
		if err := c.Apply(models.EventCancel); err != nil {
			return err
		}
		c.CancellationReason = stored
		c.CancellationDate = &date
		c.CancellationFee = decimal.NewNullDecimal(fee)

		res := tx.Model(&models.Contract{}).
			Where("id = ? AND status = ?", c.ID, from).
			Updates(map[string]any{
				"status":              c.Status,
				"cancellation_reason": c.CancellationReason,
				"cancellation_date":   date,
				"cancellation_fee":    c.CancellationFee,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: contract %d changed status concurrently", ErrPersistenceConflict, c.ID)
		}

		ids, err := s.entries.CancelFutureEntries(tx, c.ID, date)
		if err != nil {
			return err
		}
		result.CancelledEntryIDs = ids

		if fee.IsPositive() {
			contractID := c.ID
			entry := &models.FinancialEntry{
				CompanyID:           c.CompanyID,
				ContractID:          &contractID,
				CustomerID:          c.CustomerID,
				CategoryID:          c.CategoryID,
				PaymentMethodID:     c.PaymentMethodID,
				Type:                models.EntryTypeIncome,
				Kind:                models.EntryKindCancellationFee,
				Description:         fmt.Sprintf("Cancellation fee - contract #%d", c.ID),
				Amount:              fee,
				BillingDate:         &date,
				DueDate:             date,
				Status:              models.EntryStatusPending,
				BillingCycleNumber:  models.FeeCycleNumber,
				IsContractGenerated: true,
			}
			if err := tx.Create(entry).Error; err != nil {
				if isDuplicate(err) {
					return fmt.Errorf("%w: fee already billed", ErrPersistenceConflict)
				}
				return fmt.Errorf("%w: %v", ErrEntryGenerationFailed, err)
			}
			result.FeeEntry = entry
		}
		result.Contract = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint("contract_id", req.ContractID).Str("reason", reason).
		Time("cancellation_date", date).Str("fee", result.Contract.CancellationFee.Decimal.String()).
		Int("cancelled_entries", len(result.CancelledEntryIDs)).Msg("contract cancelled")
	return result, nil
}

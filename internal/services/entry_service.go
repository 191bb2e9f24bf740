package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxDescriptionLen = 500

// EntryService materializes and maintains the financial entries of contracts.
type EntryService struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewEntryService(db *gorm.DB, log zerolog.Logger) *EntryService {
	return &EntryService{db: db, log: log}
}

// GenerateInput identifies the billing cycle to materialize.
type GenerateInput struct {
	BillingDate time.Time
	Cycle       int
}

// NextCycleNumber returns the next billing cycle number of a contract: the
// highest existing billing cycle plus one, or 1. Fee entries are ignored.
func (s *EntryService) NextCycleNumber(tx *gorm.DB, contractID uint) (int, error) {
	var last int
	err := tx.Model(&models.FinancialEntry{}).
		Where("contract_id = ? AND kind = ?", contractID, models.EntryKindBilling).
		Select("COALESCE(MAX(billing_cycle_number), 0)").
		Row().Scan(&last)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// Generate creates the income entry of one billing cycle inside tx. A cycle
// that already exists yields ErrPersistenceConflict; any other store failure
// yields ErrEntryGenerationFailed.
func (s *EntryService) Generate(tx *gorm.DB, c *models.Contract, in GenerateInput) ([]models.FinancialEntry, error) {
	if in.Cycle < 1 {
		return nil, fmt.Errorf("%w: invalid cycle %d", ErrEntryGenerationFailed, in.Cycle)
	}
	billing := cadence.Date(in.BillingDate)
	if billing.IsZero() {
		return nil, fmt.Errorf("%w: missing billing date", ErrEntryGenerationFailed)
	}

	settings, err := tenantSettings(tx, c.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntryGenerationFailed, err)
	}
	due := billing
	if settings.DueDateIncludesGrace && c.GracePeriodDays > 0 {
		due = billing.AddDate(0, 0, c.GracePeriodDays)
	}
	desc, err := s.describe(tx, c, in.Cycle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntryGenerationFailed, err)
	}

	contractID := c.ID
	entry := models.FinancialEntry{
		CompanyID:           c.CompanyID,
		ContractID:          &contractID,
		CustomerID:          c.CustomerID,
		CategoryID:          c.CategoryID,
		PaymentMethodID:     c.PaymentMethodID,
		Type:                models.EntryTypeIncome,
		Kind:                models.EntryKindBilling,
		Description:         desc,
		Amount:              c.CycleAmount(),
		BillingDate:         &billing,
		DueDate:             due,
		Status:              models.EntryStatusPending,
		BillingCycleNumber:  in.Cycle,
		IsContractGenerated: true,
	}
	if err := tx.Create(&entry).Error; err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("%w: cycle %d already billed", ErrPersistenceConflict, in.Cycle)
		}
		return nil, fmt.Errorf("%w: %v", ErrEntryGenerationFailed, err)
	}
	return []models.FinancialEntry{entry}, nil
}

// describe labels an entry with the customer, the active items and the cycle.
func (s *EntryService) describe(tx *gorm.DB, c *models.Contract, cycle int) (string, error) {
	var customer models.Customer
	name := fmt.Sprintf("Customer #%d", c.CustomerID)
	err := tx.Unscoped().Select("id", "name").First(&customer, c.CustomerID).Error
	switch {
	case err == nil && customer.Name != "":
		name = customer.Name
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return "", err
	}

	items := c.ActiveItems()
	if c.Items == nil {
		if err := tx.Where("contract_id = ? AND active = ?", c.ID, true).Order("position, id").Find(&items).Error; err != nil {
			return "", err
		}
	}
	parts := make([]string, 0, len(items))
	if len(items) > 0 {
		ids := make([]uint, len(items))
		for i, it := range items {
			ids[i] = it.ProductID
		}
		var products []models.Product
		if err := tx.Unscoped().Select("id", "name").Where("id IN ?", ids).Find(&products).Error; err != nil {
			return "", err
		}
		names := make(map[uint]string, len(products))
		for _, p := range products {
			names[p.ID] = p.Name
		}
		for _, it := range items {
			label := names[it.ProductID]
			if label == "" {
				label = fmt.Sprintf("Product #%d", it.ProductID)
			}
			if !it.Quantity.Equal(decimal.NewFromInt(1)) {
				label += " x" + it.Quantity.String()
			}
			parts = append(parts, label)
		}
	}

	desc := fmt.Sprintf("%s - %s billing", name, c.BillingType)
	if len(parts) > 0 {
		desc = fmt.Sprintf("%s - %s", name, strings.Join(parts, ", "))
	} else if c.Description != "" {
		desc = fmt.Sprintf("%s - %s", name, c.Description)
	}
	desc = fmt.Sprintf("%s (cycle %d)", desc, cycle)
	return truncate(desc, maxDescriptionLen), nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-size]
	}
	return s
}

// CancelFutureEntries cancels the open entries of a contract due strictly
// after the given date and returns their ids.
func (s *EntryService) CancelFutureEntries(tx *gorm.DB, contractID uint, after time.Time) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.FinancialEntry{}).
		Where("contract_id = ? AND status IN ? AND due_date > ?", contractID,
			[]models.EntryStatus{models.EntryStatusPending, models.EntryStatusOverdue}, cadence.Date(after)).
		Order("due_date").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}
	if err := tx.Model(&models.FinancialEntry{}).Where("id IN ?", ids).
		Update("status", models.EntryStatusCancelled).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListByContract returns every entry of a contract ordered by due date.
func (s *EntryService) ListByContract(ctx context.Context, contractID uint) ([]models.FinancialEntry, error) {
	var entries []models.FinancialEntry
	err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("due_date, billing_cycle_number").
		Find(&entries).Error
	return entries, err
}

// ContractFor resolves the contract owning an entry, including soft-deleted ones.
func (s *EntryService) ContractFor(ctx context.Context, entry *models.FinancialEntry) (*models.Contract, error) {
	if entry.ContractID == nil {
		return nil, ErrContractNotFound
	}
	var c models.Contract
	if err := s.db.WithContext(ctx).Unscoped().First(&c, *entry.ContractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	return &c, nil
}

// MarkOverdue flags pending contract entries whose grace period ended before
// asOf. When the tenant already folds the grace period into due dates, the
// due date alone decides. A nil companyID covers every tenant but the
// excluded ones.
func (s *EntryService) MarkOverdue(ctx context.Context, asOf time.Time, companyID *uint, exclude ...uint) (int64, error) {
	asOf = cadence.Date(asOf)
	q := s.db.WithContext(ctx).
		Where("status = ? AND is_contract_generated = ? AND contract_id IS NOT NULL AND due_date < ?",
			models.EntryStatusPending, true, asOf)
	if companyID != nil {
		q = q.Where("company_id = ?", *companyID)
	}
	if len(exclude) > 0 {
		q = q.Where("company_id NOT IN ?", exclude)
	}
	var pending []models.FinancialEntry
	if err := q.Select("id", "company_id", "contract_id", "due_date").Find(&pending).Error; err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	graceByContract := map[uint]int{}
	includedByCompany := map[uint]bool{}
	var overdue []uint
	for _, e := range pending {
		included, ok := includedByCompany[e.CompanyID]
		if !ok {
			settings, err := tenantSettings(s.db.WithContext(ctx), e.CompanyID)
			if err != nil {
				return 0, err
			}
			included = settings.DueDateIncludesGrace
			includedByCompany[e.CompanyID] = included
		}
		grace := 0
		if !included {
			g, ok := graceByContract[*e.ContractID]
			if !ok {
				var c models.Contract
				if err := s.db.WithContext(ctx).Unscoped().Select("id", "grace_period_days").First(&c, *e.ContractID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return 0, err
				}
				g = c.GracePeriodDays
				graceByContract[*e.ContractID] = g
			}
			grace = g
		}
		if cadence.Date(e.DueDate).AddDate(0, 0, grace).Before(asOf) {
			overdue = append(overdue, e.ID)
		}
	}
	if len(overdue) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.FinancialEntry{}).
		Where("id IN ? AND status = ?", overdue, models.EntryStatusPending).
		Update("status", models.EntryStatusOverdue)
	if res.Error != nil {
		return 0, res.Error
	}
	s.log.Debug().Int64("entries", res.RowsAffected).Time("as_of", asOf).Msg("entries marked overdue")
	return res.RowsAffected, nil
}

// tenantSettings loads a tenant's billing policy, falling back to defaults
// when the tenant has none stored.
func tenantSettings(tx *gorm.DB, companyID uint) (models.TenantSettings, error) {
	var settings models.TenantSettings
	err := tx.Where("company_id = ?", companyID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.TenantSettings{CompanyID: companyID}, nil
	}
	return settings, err
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

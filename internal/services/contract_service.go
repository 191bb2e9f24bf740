package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/diewo77/go-contracts/internal/models"
	"github.com/diewo77/go-contracts/validation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContractService handles contract commands and read queries.
type ContractService struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

func NewContractService(db *gorm.DB, log zerolog.Logger) *ContractService {
	return &ContractService{db: db, log: log, now: time.Now}
}

// ItemInput is a requested contract line. A nil UnitPrice takes the current
// catalog price of the product.
type ItemInput struct {
	ProductID uint
	Quantity  decimal.Decimal
	UnitPrice *decimal.Decimal
}

// CreateContractInput carries the terms of a new contract.
type CreateContractInput struct {
	CompanyID       uint
	CustomerID      uint
	PackageID       *uint
	CategoryID      *uint
	PaymentMethodID *uint
	Description     string

	// Items wins over the package lines when both are given.
	Items        []ItemInput
	Discount     decimal.Decimal
	Addition     decimal.Decimal
	MonthlyValue *decimal.Decimal

	BillingType      cadence.BillingType
	BillingDay       int
	StartDate        time.Time
	FirstBillingDate *time.Time
	DurationMonths   int
	GracePeriodDays  *int

	AutomaticRenewal    bool
	RenewalPeriodMonths int

	// Activate creates the contract directly in the active status.
	Activate bool
}

// Create validates the input, snapshots prices and stores a new contract.
func (s *ContractService) Create(ctx context.Context, in CreateContractInput) (*models.Contract, error) {
	v := validation.Violations{}
	validation.RequiredID("company_id", in.CompanyID, v)
	validation.RequiredID("customer_id", in.CustomerID, v)
	validation.Required("billing_type", string(in.BillingType), v)
	if _, missing := v["billing_type"]; !missing && !in.BillingType.Valid() {
		v["billing_type"] = "invalid"
	}
	validation.RangeInt("billing_day", in.BillingDay, 1, 31, v)
	validation.RequiredDate("start_date", in.StartDate, v)
	validation.NonNegativeDecimal("discount", in.Discount, v)
	validation.NonNegativeDecimal("addition", in.Addition, v)
	if in.MonthlyValue != nil {
		validation.NonNegativeDecimal("monthly_value", *in.MonthlyValue, v)
	}
	validation.NonNegativeInt("duration_months", in.DurationMonths, v)
	validation.NonNegativeInt("renewal_period_months", in.RenewalPeriodMonths, v)
	if in.GracePeriodDays != nil {
		validation.NonNegativeInt("grace_period_days", *in.GracePeriodDays, v)
	}
	if in.FirstBillingDate != nil {
		validation.NotBefore("first_billing_date", cadence.Date(*in.FirstBillingDate), cadence.Date(in.StartDate), v)
	}
	for i, it := range in.Items {
		validation.RequiredID(fmt.Sprintf("items[%d].product_id", i), it.ProductID, v)
		validation.PositiveDecimal(fmt.Sprintf("items[%d].quantity", i), it.Quantity, v)
		if it.UnitPrice != nil {
			validation.NonNegativeDecimal(fmt.Sprintf("items[%d].unit_price", i), *it.UnitPrice, v)
		}
	}
	if !v.Empty() {
		return nil, &ValidationError{Violations: v}
	}

	db := s.db.WithContext(ctx)
	items, discount, err := s.buildItems(db, in, v)
	if err != nil {
		return nil, err
	}
	if !v.Empty() {
		return nil, &ValidationError{Violations: v}
	}

	start := cadence.Date(in.StartDate)
	c := &models.Contract{
		CompanyID:              in.CompanyID,
		CustomerID:             in.CustomerID,
		PackageID:              in.PackageID,
		CategoryID:             in.CategoryID,
		PaymentMethodID:        in.PaymentMethodID,
		Description:            in.Description,
		Subtotal:               models.ItemsSubtotal(items).Round(2),
		Discount:               discount,
		Addition:               in.Addition,
		BillingType:            in.BillingType,
		BillingDay:             in.BillingDay,
		StartDate:              start,
		ContractDurationMonths: in.DurationMonths,
		AutomaticRenewal:       in.AutomaticRenewal,
		RenewalPeriodMonths:    in.RenewalPeriodMonths,
		Status:                 models.ContractStatusDraft,
		Items:                  items,
	}
	if in.MonthlyValue != nil {
		c.MonthlyValue = in.MonthlyValue.Round(2)
	} else {
		c.MonthlyValue = models.ComputeMonthlyValue(items, discount, in.Addition)
	}
	if in.GracePeriodDays != nil {
		c.GracePeriodDays = *in.GracePeriodDays
	} else {
		settings, err := tenantSettings(db, in.CompanyID)
		if err != nil {
			return nil, err
		}
		c.GracePeriodDays = settings.DefaultGracePeriodDays
	}
	if in.DurationMonths > 0 {
		end := cadence.TermEnd(start, in.DurationMonths)
		c.EndDate = &end
	}
	if in.FirstBillingDate != nil {
		first := cadence.Date(*in.FirstBillingDate)
		c.FirstBillingDate = &first
	}
	next, err := initialBillingDate(c)
	if err != nil {
		return nil, err
	}
	c.NextBillingDate = &next
	if in.Activate {
		if err := c.Apply(models.EventActivate); err != nil {
			return nil, err
		}
	}

	if err := db.Create(c).Error; err != nil {
		return nil, err
	}
	s.log.Info().Uint("contract_id", c.ID).Uint("company_id", c.CompanyID).
		Str("status", string(c.Status)).Time("next_billing_date", next).Msg("contract created")
	return c, nil
}

// buildItems resolves the line items, taking prices from the catalog where
// the caller gave none. Unknown products are reported in v.
func (s *ContractService) buildItems(db *gorm.DB, in CreateContractInput, v validation.Violations) ([]models.ContractItem, decimal.Decimal, error) {
	discount := in.Discount
	if len(in.Items) == 0 {
		if in.PackageID == nil {
			return nil, discount, nil
		}
		var pkg models.Package
		err := db.Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("position, id") }).
			Preload("Items.Product").
			Where("company_id = ?", in.CompanyID).
			First(&pkg, *in.PackageID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			v["package_id"] = "not_found"
			return nil, discount, nil
		}
		if err != nil {
			return nil, discount, err
		}
		if discount.IsZero() {
			discount = pkg.Discount
		}
		items := make([]models.ContractItem, 0, len(pkg.Items))
		for i, pi := range pkg.Items {
			if pi.Product == nil {
				v[fmt.Sprintf("package.items[%d].product_id", i)] = "not_found"
				continue
			}
			items = append(items, models.ContractItem{
				ProductID: pi.ProductID,
				Quantity:  pi.Quantity,
				UnitPrice: pi.Product.Price,
				Active:    true,
				Position:  i,
			})
		}
		return items, discount, nil
	}

	items := make([]models.ContractItem, 0, len(in.Items))
	for i, it := range in.Items {
		item := models.ContractItem{ProductID: it.ProductID, Quantity: it.Quantity, Active: true, Position: i}
		if it.UnitPrice != nil {
			item.UnitPrice = *it.UnitPrice
		} else {
			var p models.Product
			err := db.Where("company_id = ?", in.CompanyID).First(&p, it.ProductID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				v[fmt.Sprintf("items[%d].product_id", i)] = "not_found"
				continue
			}
			if err != nil {
				return nil, discount, err
			}
			item.UnitPrice = p.Price
		}
		items = append(items, item)
	}
	return items, discount, nil
}

// initialBillingDate is the user-chosen first billing date, or the first
// cadence date after the start.
func initialBillingDate(c *models.Contract) (time.Time, error) {
	if c.FirstBillingDate != nil {
		return cadence.Date(*c.FirstBillingDate), nil
	}
	return cadence.FirstNextBillingDate(c.StartDate, c.BillingType, c.BillingDay)
}

// Get returns a live contract with its items.
func (s *ContractService) Get(ctx context.Context, id uint) (*models.Contract, error) {
	var c models.Contract
	err := s.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("position, id") }).
		First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Activate moves a draft or paused contract to active, computing its next
// billing date when unset. A draft whose first billing date already passed is
// rescheduled to the first billing day from today, so the time spent in draft
// is never billed.
func (s *ContractService) Activate(ctx context.Context, id uint) (*models.Contract, error) {
	return s.transition(ctx, id, models.EventActivate)
}

// Pause suspends billing of an active contract. Entries already generated stand.
func (s *ContractService) Pause(ctx context.Context, id uint) (*models.Contract, error) {
	return s.transition(ctx, id, models.EventPause)
}

// Resume reactivates a paused contract.
func (s *ContractService) Resume(ctx context.Context, id uint) (*models.Contract, error) {
	return s.transition(ctx, id, models.EventResume)
}

func (s *ContractService) transition(ctx context.Context, id uint, event models.ContractEvent) (*models.Contract, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if err := c.Apply(event); err != nil {
		return nil, err
	}
	updates := map[string]any{"status": c.Status}
	if c.IsActive() && c.NextBillingDate == nil {
		next, err := initialBillingDate(c)
		if err != nil {
			return nil, err
		}
		c.NextBillingDate = &next
		updates["next_billing_date"] = next
	}
	if from == models.ContractStatusDraft && !c.FirstBillingProcessed {
		today := cadence.Date(s.now())
		if c.NextBillingDate.Before(today) {
			next, err := cadence.OnOrAfter(today, c.BillingDay)
			if err != nil {
				return nil, err
			}
			c.NextBillingDate = &next
			updates["next_billing_date"] = next
		}
	}
	res := s.db.WithContext(ctx).Model(&models.Contract{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: contract %d changed status concurrently", ErrPersistenceConflict, id)
	}
	s.log.Info().Uint("contract_id", id).Str("from", string(from)).Str("to", string(c.Status)).
		Str("event", string(event)).Msg("contract transition")
	return c, nil
}

// UpdateTermsInput holds user edits; nil fields are left unchanged.
type UpdateTermsInput struct {
	Description         *string
	CategoryID          *uint
	PaymentMethodID     *uint
	MonthlyValue        *decimal.Decimal
	BillingType         *cadence.BillingType
	BillingDay          *int
	FirstBillingDate    *time.Time
	GracePeriodDays     *int
	AutomaticRenewal    *bool
	RenewalPeriodMonths *int
	EndDate             *time.Time
}

// UpdateTerms applies user edits and recomputes the next billing date when the
// schedule changed. Terminal contracts cannot be edited.
func (s *ContractService) UpdateTerms(ctx context.Context, id uint, in UpdateTermsInput) (*models.Contract, error) {
	var out *models.Contract
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Contract
		if err := lockContract(tx, id, &c); err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return fmt.Errorf("%w: %s contract cannot be edited", models.ErrInvalidTransition, c.Status)
		}

		v := validation.Violations{}
		if in.MonthlyValue != nil {
			validation.NonNegativeDecimal("monthly_value", *in.MonthlyValue, v)
		}
		if in.BillingType != nil && !in.BillingType.Valid() {
			v["billing_type"] = "invalid"
		}
		if in.BillingDay != nil {
			validation.RangeInt("billing_day", *in.BillingDay, 1, 31, v)
		}
		if in.GracePeriodDays != nil {
			validation.NonNegativeInt("grace_period_days", *in.GracePeriodDays, v)
		}
		if in.RenewalPeriodMonths != nil {
			validation.NonNegativeInt("renewal_period_months", *in.RenewalPeriodMonths, v)
		}
		if in.FirstBillingDate != nil {
			validation.NotBefore("first_billing_date", cadence.Date(*in.FirstBillingDate), c.StartDate, v)
		}
		if in.EndDate != nil {
			validation.NotBefore("end_date", cadence.Date(*in.EndDate), c.StartDate, v)
		}
		if !v.Empty() {
			return &ValidationError{Violations: v}
		}

		updates := map[string]any{}
		reschedule := false
		prevType, prevDay := c.BillingType, c.BillingDay
		if in.Description != nil {
			c.Description = *in.Description
			updates["description"] = c.Description
		}
		if in.CategoryID != nil {
			c.CategoryID = in.CategoryID
			updates["category_id"] = *in.CategoryID
		}
		if in.PaymentMethodID != nil {
			c.PaymentMethodID = in.PaymentMethodID
			updates["payment_method_id"] = *in.PaymentMethodID
		}
		if in.MonthlyValue != nil {
			c.MonthlyValue = in.MonthlyValue.Round(2)
			updates["monthly_value"] = c.MonthlyValue
		}
		if in.GracePeriodDays != nil {
			c.GracePeriodDays = *in.GracePeriodDays
			updates["grace_period_days"] = c.GracePeriodDays
		}
		if in.AutomaticRenewal != nil {
			c.AutomaticRenewal = *in.AutomaticRenewal
			updates["automatic_renewal"] = c.AutomaticRenewal
		}
		if in.RenewalPeriodMonths != nil {
			c.RenewalPeriodMonths = *in.RenewalPeriodMonths
			updates["renewal_period_months"] = c.RenewalPeriodMonths
		}
		if in.EndDate != nil {
			end := cadence.Date(*in.EndDate)
			c.EndDate = &end
			updates["end_date"] = end
		}
		if in.BillingType != nil && *in.BillingType != c.BillingType {
			c.BillingType = *in.BillingType
			updates["billing_type"] = c.BillingType
			reschedule = true
		}
		if in.BillingDay != nil && *in.BillingDay != c.BillingDay {
			c.BillingDay = *in.BillingDay
			updates["billing_day"] = c.BillingDay
			reschedule = true
		}
		if in.FirstBillingDate != nil && !c.FirstBillingProcessed {
			first := cadence.Date(*in.FirstBillingDate)
			c.FirstBillingDate = &first
			updates["first_billing_date"] = first
			reschedule = true
		}
		if reschedule {
			next, err := rescheduledBillingDate(&c, prevType, prevDay)
			if err != nil {
				return err
			}
			c.NextBillingDate = &next
			updates["next_billing_date"] = next
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.Contract{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return err
			}
		}
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint("contract_id", id).Msg("contract terms updated")
	return out, nil
}

// rescheduledBillingDate recomputes the next billing date after a schedule
// change. Before anything was billed it starts over from the first billing
// date. Afterwards the new schedule starts on the first new billing day after
// the period already billed under the previous terms, and never moves before
// the current next billing date.
func rescheduledBillingDate(c *models.Contract, prevType cadence.BillingType, prevDay int) (time.Time, error) {
	if !c.FirstBillingProcessed || c.LastBillingDate == nil {
		return initialBillingDate(c)
	}
	paidThrough, err := cadence.PeriodEnd(*c.LastBillingDate, prevType, prevDay)
	if err != nil {
		return time.Time{}, err
	}
	next, err := cadence.OnOrAfter(paidThrough.AddDate(0, 0, 1), c.BillingDay)
	if err != nil {
		return time.Time{}, err
	}
	if c.NextBillingDate != nil && next.Before(cadence.Date(*c.NextBillingDate)) {
		next = cadence.Date(*c.NextBillingDate)
	}
	return next, nil
}

// Delete soft-deletes a contract. Its entries keep resolving through
// EntryService.ContractFor.
func (s *ContractService) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Contract{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrContractNotFound
	}
	s.log.Info().Uint("contract_id", id).Msg("contract deleted")
	return nil
}

// ContractsDueOn lists active contracts with next_billing_date on or before date.
// A zero companyID covers every tenant.
func (s *ContractService) ContractsDueOn(ctx context.Context, companyID uint, date time.Time) ([]models.Contract, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND next_billing_date <= ?", models.ContractStatusActive, cadence.Date(date))
	if companyID != 0 {
		q = q.Where("company_id = ?", companyID)
	}
	var out []models.Contract
	err := q.Order("next_billing_date, id").Find(&out).Error
	return out, err
}

// ContractsExpiringWithin lists active contracts whose end date falls within
// the next days days, today included.
func (s *ContractService) ContractsExpiringWithin(ctx context.Context, companyID uint, days int) ([]models.Contract, error) {
	if days < 0 {
		return nil, &ValidationError{Violations: validation.Violations{"days": "must_not_be_negative"}}
	}
	today := cadence.Date(s.now())
	q := s.db.WithContext(ctx).
		Where("status = ? AND end_date IS NOT NULL AND end_date >= ? AND end_date <= ?",
			models.ContractStatusActive, today, today.AddDate(0, 0, days))
	if companyID != 0 {
		q = q.Where("company_id = ?", companyID)
	}
	var out []models.Contract
	err := q.Order("end_date, id").Find(&out).Error
	return out, err
}

// MonthlyRecurringRevenue sums the monthly value of a tenant's active contracts.
func (s *ContractService) MonthlyRecurringRevenue(ctx context.Context, companyID uint) (decimal.Decimal, error) {
	var values []decimal.Decimal
	err := s.db.WithContext(ctx).Model(&models.Contract{}).
		Where("company_id = ? AND status = ?", companyID, models.ContractStatusActive).
		Pluck("monthly_value", &values).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total, nil
}

// lockContract reads a live contract inside tx, holding its row lock where the
// database supports it.
func lockContract(tx *gorm.DB, id uint, c *models.Contract) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrContractNotFound
	}
	return err
}

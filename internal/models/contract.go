package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ContractStatus is the lifecycle state of a contract.
type ContractStatus string

const (
	ContractStatusDraft     ContractStatus = "draft"
	ContractStatusActive    ContractStatus = "active"
	ContractStatusPaused    ContractStatus = "paused"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusExpired   ContractStatus = "expired"
)

// ContractEvent triggers a lifecycle transition.
type ContractEvent string

const (
	EventActivate ContractEvent = "activate"
	EventPause    ContractEvent = "pause"
	EventResume   ContractEvent = "resume"
	EventCancel   ContractEvent = "cancel"
	EventExpire   ContractEvent = "expire"
	EventRenew    ContractEvent = "renew"
)

// ErrInvalidTransition is returned when an event is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid_transition")

// transitions lists every legal (status, event) pair. Terminal statuses have no entry.
var transitions = map[ContractStatus]map[ContractEvent]ContractStatus{
	ContractStatusDraft: {
		EventActivate: ContractStatusActive,
	},
	ContractStatusActive: {
		EventPause:  ContractStatusPaused,
		EventCancel: ContractStatusCancelled,
		EventExpire: ContractStatusExpired,
		EventRenew:  ContractStatusActive,
	},
	ContractStatusPaused: {
		EventActivate: ContractStatusActive,
		EventResume:   ContractStatusActive,
		EventCancel:   ContractStatusCancelled,
	},
}

// IsTerminal reports whether no further transition is possible.
func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusCancelled || s == ContractStatusExpired
}

// NextStatus resolves the target status of event applied in status from.
func NextStatus(from ContractStatus, event ContractEvent) (ContractStatus, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: cannot %s a %s contract", ErrInvalidTransition, event, from)
}

// Contract is a recurring billing agreement with a customer.
type Contract struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// CompanyID is the owning tenant
	CompanyID uint `gorm:"index;not null" json:"company_id"`

	// Opaque references to catalog data owned elsewhere
	CustomerID      uint  `gorm:"index;not null" json:"customer_id"`
	PackageID       *uint `gorm:"index" json:"package_id,omitempty"`
	CategoryID      *uint `json:"category_id,omitempty"`
	PaymentMethodID *uint `json:"payment_method_id,omitempty"`

	Description string `gorm:"size:500" json:"description,omitempty"`

	// Commercial terms. MonthlyValue is a snapshot taken when the contract is
	// built and is what gets billed; catalog price changes never touch it.
	Subtotal     decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"subtotal"`
	Discount     decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	Addition     decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"addition"`
	MonthlyValue decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"monthly_value"`
	BillingType  cadence.BillingType `gorm:"size:20;not null" json:"billing_type"`
	BillingDay   int                 `gorm:"not null" json:"billing_day"`

	// Schedule
	StartDate              time.Time  `gorm:"type:date;not null" json:"start_date"`
	FirstBillingDate       *time.Time `gorm:"type:date" json:"first_billing_date,omitempty"`
	EndDate                *time.Time `gorm:"type:date;index" json:"end_date,omitempty"`
	ContractDurationMonths int        `gorm:"default:0" json:"contract_duration_months"`
	NextBillingDate        *time.Time `gorm:"type:date;index" json:"next_billing_date,omitempty"`
	LastBillingDate        *time.Time `gorm:"type:date" json:"last_billing_date,omitempty"`
	FirstBillingProcessed  bool       `gorm:"not null;default:false" json:"first_billing_processed"`
	GracePeriodDays        int        `gorm:"not null;default:0" json:"grace_period_days"`

	// Renewal
	AutomaticRenewal    bool       `gorm:"not null;default:false" json:"automatic_renewal"`
	RenewalPeriodMonths int        `gorm:"not null;default:0" json:"renewal_period_months"`
	RenewalCount        int        `gorm:"not null;default:0" json:"renewal_count"`
	LastRenewedAt       *time.Time `gorm:"type:date" json:"last_renewed_at,omitempty"`

	Status ContractStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`
	Items  []ContractItem `gorm:"foreignKey:ContractID" json:"items,omitempty"`

	// Set only once cancelled
	CancellationReason string              `gorm:"size:1000" json:"cancellation_reason,omitempty"`
	CancellationDate   *time.Time          `gorm:"type:date" json:"cancellation_date,omitempty"`
	CancellationFee    decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"cancellation_fee"`
}

// Apply moves the contract through event. The status is left untouched on error.
func (c *Contract) Apply(event ContractEvent) error {
	to, err := NextStatus(c.Status, event)
	if err != nil {
		return err
	}
	c.Status = to
	return nil
}

// IsActive returns true if the contract is currently billable.
func (c *Contract) IsActive() bool {
	return c.Status == ContractStatusActive
}

// CanCancel returns true for the statuses a cancellation may start from.
func (c *Contract) CanCancel() bool {
	return c.Status == ContractStatusActive || c.Status == ContractStatusPaused
}

// CycleAmount is the amount billed for one period of the contract's cadence.
func (c *Contract) CycleAmount() decimal.Decimal {
	return c.MonthlyValue.Mul(decimal.NewFromInt(int64(c.BillingType.Months())))
}

// RenewalMonths returns how far end_date moves on an automatic renewal.
func (c *Contract) RenewalMonths() int {
	if c.RenewalPeriodMonths > 0 {
		return c.RenewalPeriodMonths
	}
	if c.ContractDurationMonths > 0 {
		return c.ContractDurationMonths
	}
	return 12
}

// ActiveItems returns the active line items ordered as stored.
func (c *Contract) ActiveItems() []ContractItem {
	out := make([]ContractItem, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Active {
			out = append(out, it)
		}
	}
	return out
}

// ContractItem is a product line of a contract. UnitPrice is copied from the
// catalog when the contract is built.
type ContractItem struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	ContractID uint            `gorm:"index;not null" json:"contract_id"`
	ProductID  uint            `gorm:"not null" json:"product_id"`
	Quantity   decimal.Decimal `gorm:"type:decimal(10,3);not null;default:1" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Active     bool            `gorm:"not null" json:"active"`
	Position   int             `gorm:"default:0" json:"position"`
}

// Total returns quantity times unit price.
func (it ContractItem) Total() decimal.Decimal {
	return it.Quantity.Mul(it.UnitPrice)
}

// ItemsSubtotal sums the active items.
func ItemsSubtotal(items []ContractItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Active {
			total = total.Add(it.Total())
		}
	}
	return total
}

// ComputeMonthlyValue returns subtotal - discount + addition, never below zero.
func ComputeMonthlyValue(items []ContractItem, discount, addition decimal.Decimal) decimal.Decimal {
	v := ItemsSubtotal(items).Sub(discount).Add(addition)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v.Round(2)
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the direction of a financial entry.
type EntryType string

const (
	EntryTypeIncome  EntryType = "income"
	EntryTypeExpense EntryType = "expense"
)

// EntryKind tells regular billing apart from other contract-generated entries.
type EntryKind string

const (
	EntryKindBilling         EntryKind = "billing"
	EntryKindCancellationFee EntryKind = "cancellation_fee"
	EntryKindManual          EntryKind = "manual"
)

// EntryStatus represents the payment status of an entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusPaid      EntryStatus = "paid"
	EntryStatusOverdue   EntryStatus = "overdue"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// FeeCycleNumber is the cycle number reserved for cancellation fee entries.
const FeeCycleNumber = 0

// FinancialEntry is a receivable or payable. Entries generated from a contract
// carry its id and a billing cycle number; (contract_id, billing_cycle_number)
// is unique so a cycle can never be billed twice.
type FinancialEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyID uint `gorm:"index;not null" json:"company_id"`

	// Nil for manual entries
	ContractID *uint     `gorm:"uniqueIndex:idx_entry_contract_cycle,priority:1" json:"contract_id,omitempty"`
	Contract   *Contract `gorm:"foreignKey:ContractID" json:"-"`

	CustomerID      uint  `gorm:"index" json:"customer_id"`
	CategoryID      *uint `json:"category_id,omitempty"`
	PaymentMethodID *uint `json:"payment_method_id,omitempty"`

	Type        EntryType       `gorm:"size:20;not null" json:"type"`
	Kind        EntryKind       `gorm:"size:30;not null" json:"kind"`
	Description string          `gorm:"size:500" json:"description"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`

	BillingDate *time.Time  `gorm:"type:date" json:"billing_date,omitempty"`
	DueDate     time.Time   `gorm:"type:date;not null;index" json:"due_date"`
	PaymentDate *time.Time  `gorm:"type:date" json:"payment_date,omitempty"`
	Status      EntryStatus `gorm:"size:20;not null;index" json:"status"`

	BillingCycleNumber  int  `gorm:"uniqueIndex:idx_entry_contract_cycle,priority:2" json:"billing_cycle_number"`
	IsContractGenerated bool `gorm:"not null;default:false" json:"is_contract_generated"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TenantSettings holds the per-company billing policy read by the engine.
type TenantSettings struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CompanyID uint   `gorm:"uniqueIndex;not null" json:"company_id"`
	Name      string `gorm:"size:255" json:"name,omitempty"`

	// Applied when a cancellation does not state its own fee
	DefaultCancellationFee decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"default_cancellation_fee"`

	// When set, generated entries fall due grace_period_days after the billing date
	DueDateIncludesGrace   bool `gorm:"not null;default:false" json:"due_date_includes_grace"`
	DefaultGracePeriodDays int  `gorm:"not null;default:0" json:"default_grace_period_days"`

	// IANA zone used to decide what "today" is for scheduled runs
	Timezone string `gorm:"size:64" json:"timezone,omitempty"`
}

// CancellationReason is a named reason a tenant offers when cancelling.
type CancellationReason struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyID       uint   `gorm:"index:idx_reason_company_name,unique,priority:1;not null" json:"company_id"`
	Name            string `gorm:"size:255;not null;index:idx_reason_company_name,unique,priority:2" json:"name"`
	RequiresDetails bool   `gorm:"not null;default:false" json:"requires_details"`
	Active          bool   `gorm:"not null" json:"active"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// RunTrigger records what started an automation run.
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
	TriggerCLI      RunTrigger = "cli"
)

// AutomationRun is the audit record of one batch execution.
type AutomationRun struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RunID     uuid.UUID  `gorm:"type:varchar(36);uniqueIndex;not null" json:"run_id"`
	AsOf      time.Time  `gorm:"type:date;not null;index" json:"as_of"`
	CompanyID *uint      `gorm:"index" json:"company_id,omitempty"`
	Trigger   RunTrigger `gorm:"size:20;not null" json:"trigger"`

	StartedAt  time.Time `gorm:"not null" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ContractsScanned int `json:"contracts_scanned"`
	EntriesGenerated int `json:"entries_generated"`
	Renewed          int `json:"renewed"`
	Expired          int `json:"expired"`
	EntriesOverdue   int `json:"entries_overdue"`
	ErrorCount       int `json:"error_count"`

	// JSON array of per-contract failures
	ErrorSummary string `gorm:"type:text" json:"error_summary,omitempty"`
}

// All returns every model in migration order.
func All() []any {
	return []any{
		&TenantSettings{}, &CancellationReason{},
		&Customer{}, &Product{}, &Package{}, &PackageItem{}, &PaymentMethod{}, &Category{},
		&Contract{}, &ContractItem{}, &FinancialEntry{},
		&AutomationRun{},
	}
}

package models

import (
	"errors"
	"testing"

	"github.com/diewo77/go-contracts/internal/cadence"
	"github.com/shopspring/decimal"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    ContractStatus
		event   ContractEvent
		want    ContractStatus
		wantErr bool
	}{
		{"activate draft", ContractStatusDraft, EventActivate, ContractStatusActive, false},
		{"pause active", ContractStatusActive, EventPause, ContractStatusPaused, false},
		{"resume paused", ContractStatusPaused, EventResume, ContractStatusActive, false},
		{"activate paused", ContractStatusPaused, EventActivate, ContractStatusActive, false},
		{"cancel active", ContractStatusActive, EventCancel, ContractStatusCancelled, false},
		{"cancel paused", ContractStatusPaused, EventCancel, ContractStatusCancelled, false},
		{"expire active", ContractStatusActive, EventExpire, ContractStatusExpired, false},
		{"renew active", ContractStatusActive, EventRenew, ContractStatusActive, false},
		{"pause draft", ContractStatusDraft, EventPause, ContractStatusDraft, true},
		{"cancel draft", ContractStatusDraft, EventCancel, ContractStatusDraft, true},
		{"expire paused", ContractStatusPaused, EventExpire, ContractStatusPaused, true},
		{"pause paused", ContractStatusPaused, EventPause, ContractStatusPaused, true},
		{"activate cancelled", ContractStatusCancelled, EventActivate, ContractStatusCancelled, true},
		{"pause cancelled", ContractStatusCancelled, EventPause, ContractStatusCancelled, true},
		{"cancel cancelled", ContractStatusCancelled, EventCancel, ContractStatusCancelled, true},
		{"activate expired", ContractStatusExpired, EventActivate, ContractStatusExpired, true},
		{"renew expired", ContractStatusExpired, EventRenew, ContractStatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextStatus(tt.from, tt.event)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("NextStatus() err = %v, want ErrInvalidTransition", err)
				}
			} else if err != nil {
				t.Fatalf("NextStatus() unexpected err: %v", err)
			}
			if got != tt.want {
				t.Errorf("NextStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestContract_ApplyLeavesStatusOnError(t *testing.T) {
	c := &Contract{Status: ContractStatusExpired}
	if err := c.Apply(EventActivate); err == nil {
		t.Fatal("expected error")
	}
	if c.Status != ContractStatusExpired {
		t.Errorf("status changed to %s", c.Status)
	}
}

func TestContractStatus_IsTerminal(t *testing.T) {
	for _, s := range []ContractStatus{ContractStatusDraft, ContractStatusActive, ContractStatusPaused} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []ContractStatus{ContractStatusCancelled, ContractStatusExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestComputeMonthlyValue(t *testing.T) {
	items := []ContractItem{
		{Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("49.90"), Active: true},
		{Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(30), Active: true},
		{Quantity: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(100), Active: false},
	}

	tests := []struct {
		name     string
		discount string
		addition string
		want     string
	}{
		{"plain subtotal", "0", "0", "129.8"},
		{"discount and addition", "10", "5.20", "125"},
		{"discount larger than subtotal", "500", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeMonthlyValue(items, decimal.RequireFromString(tt.discount), decimal.RequireFromString(tt.addition))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ComputeMonthlyValue() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestContract_CycleAmount(t *testing.T) {
	tests := []struct {
		bt   cadence.BillingType
		want int64
	}{
		{cadence.Monthly, 100},
		{cadence.Quarterly, 300},
		{cadence.Semiannual, 600},
		{cadence.Annual, 1200},
	}
	for _, tt := range tests {
		c := &Contract{MonthlyValue: decimal.NewFromInt(100), BillingType: tt.bt}
		if got := c.CycleAmount(); !got.Equal(decimal.NewFromInt(tt.want)) {
			t.Errorf("%s CycleAmount() = %s, want %d", tt.bt, got, tt.want)
		}
	}
}

func TestContract_RenewalMonths(t *testing.T) {
	if got := (&Contract{RenewalPeriodMonths: 6, ContractDurationMonths: 24}).RenewalMonths(); got != 6 {
		t.Errorf("RenewalMonths() = %d, want 6", got)
	}
	if got := (&Contract{ContractDurationMonths: 24}).RenewalMonths(); got != 24 {
		t.Errorf("RenewalMonths() = %d, want 24", got)
	}
	if got := (&Contract{}).RenewalMonths(); got != 12 {
		t.Errorf("RenewalMonths() = %d, want 12", got)
	}
}

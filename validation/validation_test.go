package validation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidators(t *testing.T) {
	v := Violations{}
	Required("reason", "   ", v)
	RequiredID("customer_id", 0, v)
	RequiredDate("start_date", time.Time{}, v)
	RangeInt("billing_day", 32, 1, 31, v)
	NonNegativeInt("grace_period_days", -1, v)
	NonNegativeDecimal("monthly_value", decimal.NewFromInt(-5), v)
	PositiveDecimal("quantity", decimal.Zero, v)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	NotBefore("first_billing_date", start.AddDate(0, 0, -1), start, v)

	want := map[string]string{
		"reason":             "required",
		"customer_id":        "required",
		"start_date":         "required",
		"billing_day":        "out_of_range",
		"grace_period_days":  "must_not_be_negative",
		"monthly_value":      "must_not_be_negative",
		"quantity":           "must_be_positive",
		"first_billing_date": "before_start_date",
	}
	for field, code := range want {
		if v[field] != code {
			t.Errorf("%s = %q, want %q", field, v[field], code)
		}
	}
	if len(v) != len(want) {
		t.Errorf("got %d violations, want %d: %v", len(v), len(want), v)
	}
}

func TestValidInputHasNoViolations(t *testing.T) {
	v := Violations{}
	Required("reason", "customer request", v)
	RequiredID("customer_id", 3, v)
	RangeInt("billing_day", 31, 1, 31, v)
	NonNegativeDecimal("monthly_value", decimal.Zero, v)
	NotBefore("first_billing_date", time.Time{}, time.Now(), v)
	if !v.Empty() {
		t.Fatalf("expected no violations, got %v", v)
	}
}

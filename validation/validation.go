package validation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func RequiredID(field string, id uint, v Violations) {
	if id == 0 {
		v[field] = "required"
	}
}

func RequiredDate(field string, d time.Time, v Violations) {
	if d.IsZero() {
		v[field] = "required"
	}
}

func RangeInt(field string, val, minVal, maxVal int, v Violations) {
	if val < minVal || val > maxVal {
		v[field] = "out_of_range"
	}
}

func NonNegativeInt(field string, val int, v Violations) {
	if val < 0 {
		v[field] = "must_not_be_negative"
	}
}

func NonNegativeDecimal(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v[field] = "must_not_be_negative"
	}
}

func PositiveDecimal(field string, val decimal.Decimal, v Violations) {
	if !val.IsPositive() {
		v[field] = "must_be_positive"
	}
}

// NotBefore flags field when d is set and earlier than ref.
func NotBefore(field string, d, ref time.Time, v Violations) {
	if !d.IsZero() && d.Before(ref) {
		v[field] = "before_start_date"
	}
}

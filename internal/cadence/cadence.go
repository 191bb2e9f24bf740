// Package cadence computes billing dates for recurring contracts.
//
// All values handled here are calendar dates: the year, month and day fields of
// a time.Time are taken as given and the result is always midnight UTC. No
// location conversion happens anywhere in this package.
package cadence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BillingType is the billing frequency of a contract.
type BillingType string

const (
	Monthly    BillingType = "monthly"
	Quarterly  BillingType = "quarterly"
	Semiannual BillingType = "semiannual"
	Annual     BillingType = "annual"
)

// ErrDateComputation is returned for malformed cadence input.
var ErrDateComputation = errors.New("date_computation_error")

// Months returns the length of one billing period in months, or 0 when unknown.
func (b BillingType) Months() int {
	switch b {
	case Monthly:
		return 1
	case Quarterly:
		return 3
	case Semiannual:
		return 6
	case Annual:
		return 12
	}
	return 0
}

// Valid reports whether b is one of the supported cadences.
func (b BillingType) Valid() bool { return b.Months() > 0 }

// ParseBillingType accepts a cadence name in any case.
func ParseBillingType(s string) (BillingType, error) {
	b := BillingType(strings.ToLower(strings.TrimSpace(s)))
	if !b.Valid() {
		return "", fmt.Errorf("%w: unknown billing type %q", ErrDateComputation, s)
	}
	return b, nil
}

// Date strips the clock part of t, keeping its calendar fields.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewDate builds a calendar date.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonths moves d by n months and places the result on day, clamped to the
// last day of the target month. A day <= 0 keeps d's own day.
func AddMonths(d time.Time, n, day int) time.Time {
	if day <= 0 {
		day = d.Day()
	}
	idx := d.Year()*12 + int(d.Month()) - 1 + n
	year, month := idx/12, time.Month(idx%12+1)
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return NewDate(year, month, day)
}

func validate(d time.Time, b BillingType, billingDay int) error {
	if d.IsZero() {
		return fmt.Errorf("%w: zero date", ErrDateComputation)
	}
	if !b.Valid() {
		return fmt.Errorf("%w: unknown billing type %q", ErrDateComputation, b)
	}
	if billingDay < 1 || billingDay > 31 {
		return fmt.Errorf("%w: billing day %d outside 1..31", ErrDateComputation, billingDay)
	}
	return nil
}

// FirstNextBillingDate returns the first billing date of a contract starting on
// start. It is billingDay of start's own month when that date falls strictly
// after start, otherwise billingDay of the month one billing period later.
// Short months clamp to their last day.
func FirstNextBillingDate(start time.Time, b BillingType, billingDay int) (time.Time, error) {
	if err := validate(start, b, billingDay); err != nil {
		return time.Time{}, err
	}
	start = Date(start)
	if candidate := AddMonths(start, 0, billingDay); candidate.After(start) {
		return candidate, nil
	}
	return AddMonths(start, b.Months(), billingDay), nil
}

// NextBillingDate returns the billing date one full period after current.
// The result is always strictly after current.
func NextBillingDate(current time.Time, b BillingType, billingDay int) (time.Time, error) {
	if err := validate(current, b, billingDay); err != nil {
		return time.Time{}, err
	}
	current = Date(current)
	next := AddMonths(current, b.Months(), billingDay)
	if !next.After(current) {
		return time.Time{}, fmt.Errorf("%w: %s did not advance past %s", ErrDateComputation, next.Format(time.DateOnly), current.Format(time.DateOnly))
	}
	return next, nil
}

// TermEnd returns the last day covered by a term of months starting on start.
func TermEnd(start time.Time, months int) time.Time {
	start = Date(start)
	return AddMonths(start, months, start.Day()).AddDate(0, 0, -1)
}

// OnOrAfter returns the first date falling on billingDay, clamped to short
// months, that is not before from.
func OnOrAfter(from time.Time, billingDay int) (time.Time, error) {
	if from.IsZero() {
		return time.Time{}, fmt.Errorf("%w: zero date", ErrDateComputation)
	}
	if billingDay < 1 || billingDay > 31 {
		return time.Time{}, fmt.Errorf("%w: billing day %d outside 1..31", ErrDateComputation, billingDay)
	}
	from = Date(from)
	if candidate := AddMonths(from, 0, billingDay); !candidate.Before(from) {
		return candidate, nil
	}
	return AddMonths(from, 1, billingDay), nil
}

// PeriodEnd returns the last day covered by the period billed on billingDate.
func PeriodEnd(billingDate time.Time, b BillingType, billingDay int) (time.Time, error) {
	next, err := NextBillingDate(billingDate, b, billingDay)
	if err != nil {
		return time.Time{}, err
	}
	return next.AddDate(0, 0, -1), nil
}

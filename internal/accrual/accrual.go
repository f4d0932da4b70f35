// Package accrual computes the amount due on an invoice at a point in time.
// All functions are pure; the evaluation instant is always an explicit
// parameter.
package accrual

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AddMonths advances t by the given number of calendar months, clamping the
// day down to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetMonth := int(month) + months
	targetYear := year + (targetMonth-1)/12
	targetMonth = (targetMonth-1)%12 + 1
	if targetMonth <= 0 {
		targetMonth += 12
		targetYear--
	}

	if max := daysInMonth(targetYear, time.Month(targetMonth)); day > max {
		day = max
	}

	hour, min, sec := t.Clock()
	return time.Date(targetYear, time.Month(targetMonth), day, hour, min, sec, t.Nanosecond(), t.Location())
}

// MonthsBetween counts the whole calendar months elapsed from `from` to `to`,
// using the same clamp-down arithmetic as AddMonths. Returns 0 when to is not
// after from.
func MonthsBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}

	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if months < 0 {
		return 0
	}
	for months > 0 && AddMonths(from, months).After(to) {
		months--
	}
	return months
}

// AmountDue returns the amount owed on an invoice at asOf: the base amount,
// plus a one-time fine once past the due date, plus simple monthly interest
// for every whole month late. Rates are percentages (2 means 2%). The result
// is rounded half-up to cents.
func AmountDue(amount decimal.Decimal, dueDate time.Time, finePct, interestPct decimal.Decimal, asOf time.Time) decimal.Decimal {
	if !asOf.After(dueDate) {
		return amount.Round(2)
	}

	due := amount
	if finePct.IsPositive() {
		due = due.Add(amount.Mul(finePct).Div(hundred))
	}
	if interestPct.IsPositive() {
		if monthsLate := MonthsBetween(dueDate, asOf); monthsLate > 0 {
			interest := amount.Mul(interestPct).Div(hundred).Mul(decimal.NewFromInt(int64(monthsLate)))
			due = due.Add(interest)
		}
	}
	return due.Round(2)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

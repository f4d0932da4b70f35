package accrual

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonthsClampsDown(t *testing.T) {
	assert.Equal(t, date(2024, time.February, 29), AddMonths(date(2024, time.January, 31), 1))
	assert.Equal(t, date(2023, time.February, 28), AddMonths(date(2023, time.January, 31), 1))
	assert.Equal(t, date(2024, time.March, 31), AddMonths(date(2024, time.January, 31), 2))
	assert.Equal(t, date(2024, time.April, 30), AddMonths(date(2024, time.January, 31), 3))
	assert.Equal(t, date(2025, time.January, 15), AddMonths(date(2024, time.December, 15), 1))
}

func TestMonthsBetween(t *testing.T) {
	due := date(2024, time.January, 10)

	assert.Equal(t, 0, MonthsBetween(due, due))
	assert.Equal(t, 0, MonthsBetween(due, date(2024, time.January, 25)))
	assert.Equal(t, 0, MonthsBetween(due, date(2024, time.February, 9)))
	assert.Equal(t, 1, MonthsBetween(due, date(2024, time.February, 10)))
	assert.Equal(t, 2, MonthsBetween(due, date(2024, time.March, 15)))
	assert.Equal(t, 0, MonthsBetween(due, date(2023, time.December, 1)))
}

func TestMonthsBetweenMonthEndClamp(t *testing.T) {
	due := date(2024, time.January, 31)

	// Jan 31 + 1 month clamps to Feb 29, so the 29th completes one month.
	assert.Equal(t, 0, MonthsBetween(due, date(2024, time.February, 28)))
	assert.Equal(t, 1, MonthsBetween(due, date(2024, time.February, 29)))
	assert.Equal(t, 1, MonthsBetween(due, date(2024, time.March, 30)))
	assert.Equal(t, 2, MonthsBetween(due, date(2024, time.March, 31)))
}

func TestAmountDueBeforeDueDate(t *testing.T) {
	amount := decimal.RequireFromString("1000.00")
	due := date(2024, time.January, 10)

	got := AmountDue(amount, due, decimal.NewFromInt(2), decimal.NewFromInt(1), date(2024, time.January, 5))
	assert.True(t, got.Equal(amount), "got %s", got)

	// On the due date itself nothing accrues.
	got = AmountDue(amount, due, decimal.NewFromInt(2), decimal.NewFromInt(1), due)
	assert.True(t, got.Equal(amount), "got %s", got)
}

func TestAmountDueFineAndInterest(t *testing.T) {
	amount := decimal.RequireFromString("1000.00")
	due := date(2024, time.January, 10)

	// 2% fine + 2 whole months at 1% simple interest.
	got := AmountDue(amount, due, decimal.NewFromInt(2), decimal.NewFromInt(1), date(2024, time.March, 15))
	assert.Equal(t, "1040.00", got.StringFixed(2))

	// Less than a whole month late: fine only.
	got = AmountDue(amount, due, decimal.NewFromInt(2), decimal.NewFromInt(1), date(2024, time.January, 20))
	assert.Equal(t, "1020.00", got.StringFixed(2))
}

func TestAmountDueZeroRates(t *testing.T) {
	amount := decimal.RequireFromString("350.75")
	due := date(2024, time.January, 10)

	got := AmountDue(amount, due, decimal.Zero, decimal.Zero, date(2024, time.June, 1))
	assert.Equal(t, "350.75", got.StringFixed(2))
}

func TestAmountDueRoundsToCents(t *testing.T) {
	amount := decimal.RequireFromString("333.33")
	due := date(2024, time.January, 10)

	// 2% of 333.33 = 6.6666 -> rounds half-up at cents in the total.
	got := AmountDue(amount, due, decimal.NewFromInt(2), decimal.Zero, date(2024, time.January, 11))
	assert.Equal(t, "340.00", got.StringFixed(2))
}

func TestAmountDueMonotonicInTime(t *testing.T) {
	amount := decimal.RequireFromString("1250.40")
	due := date(2024, time.February, 29)
	fine := decimal.RequireFromString("2.5")
	interest := decimal.RequireFromString("1.2")

	prev := AmountDue(amount, due, fine, interest, due)
	for i := 1; i <= 18; i++ {
		asOf := due.AddDate(0, 0, i*11)
		got := AmountDue(amount, due, fine, interest, asOf)
		assert.True(t, got.GreaterThanOrEqual(prev), "amount due decreased at %s: %s < %s", asOf, got, prev)
		prev = got
	}
}

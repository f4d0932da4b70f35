package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/studiva/campusbill/internal/accrual"
	negotiationdomain "github.com/studiva/campusbill/internal/negotiation/domain"
)

// buildInstallments splits total into n parts that sum exactly to total:
// installments 1..n-1 carry total/n rounded half-up to cents, the last one
// absorbs the remainder.
func buildInstallments(total decimal.Decimal, n int, firstDue time.Time, prefix string) ([]negotiationdomain.Installment, error) {
	per := total.Div(decimal.NewFromInt(int64(n))).Round(2)
	last := total.Sub(per.Mul(decimal.NewFromInt(int64(n - 1))))
	if !per.IsPositive() || !last.IsPositive() {
		return nil, negotiationdomain.ErrInvalidTotal
	}

	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "Negotiation"
	}

	installments := make([]negotiationdomain.Installment, 0, n)
	for i := 1; i <= n; i++ {
		amount := per
		if i == n {
			amount = last
		}
		installments = append(installments, negotiationdomain.Installment{
			Number:      i,
			Description: fmt.Sprintf("%s %d/%d", prefix, i, n),
			DueDate:     accrual.AddMonths(firstDue, i-1),
			Amount:      amount,
		})
	}
	return installments, nil
}

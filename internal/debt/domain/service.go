// Package domain describes the per-student debt projection.
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// DebtSummary is a pure read over the student's open invoices; every value is
// recomputed at request time.
type DebtSummary struct {
	StudentID                string          `json:"student_id"`
	CountPending             int             `json:"count_pending"`
	TotalPendingAmount       decimal.Decimal `json:"total_pending_amount"`
	TotalPendingWithFees     decimal.Decimal `json:"total_pending_with_fees"`
	HasCurrentTermEnrollment bool            `json:"has_current_term_enrollment"`
}

type Service interface {
	Summary(ctx context.Context, studentID string) (DebtSummary, error)
}

var (
	ErrInvalidStudent = errors.New("invalid_student")
)

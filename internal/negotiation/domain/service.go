// Package domain describes debt-negotiation plans and their execution.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type PlanRequest struct {
	StudentID         string
	TotalAmount       decimal.Decimal
	NumInstallments   int
	FirstDueDate      time.Time
	DescriptionPrefix string
	CancelPending     bool
}

type Installment struct {
	Number      int             `json:"number"`
	Description string          `json:"description"`
	DueDate     time.Time       `json:"due_date"`
	Amount      decimal.Decimal `json:"amount"`
}

// Plan is the planner's output. Building it has no side effects; identical
// inputs yield identical plans. Date adjustments (month-end clamping) are
// reflected in the returned due dates, never applied invisibly.
type Plan struct {
	StudentID         string          `json:"student_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	NumInstallments   int             `json:"num_installments"`
	FirstDueDate      time.Time       `json:"first_due_date"`
	DescriptionPrefix string          `json:"description_prefix"`
	CancelPending     bool            `json:"cancel_pending"`
	Installments      []Installment   `json:"installments"`
	PendingToCancel   []string        `json:"pending_to_cancel,omitempty"`
}

type ExecuteRequest struct {
	Plan
	TermID       string
	FineRate     *decimal.Decimal
	InterestRate *decimal.Decimal
}

type ExecuteResponse struct {
	CreatedCount  int `json:"created_count"`
	CanceledCount int `json:"canceled_count"`
}

type Service interface {
	// Preview validates and builds a plan without mutating anything.
	Preview(ctx context.Context, req PlanRequest) (Plan, error)
	// Execute applies a plan atomically: either every new invoice exists and
	// every superseded one is canceled, or nothing changed.
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error)
}

var (
	ErrInvalidStudent      = errors.New("invalid_student")
	ErrInvalidInstallments = errors.New("invalid_installments")
	ErrInvalidTotal        = errors.New("invalid_total_amount")
	ErrPastFirstDueDate    = errors.New("past_first_due_date")
	ErrInvalidInvoiceID    = errors.New("invalid_invoice_id")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrSettledPayment      = errors.New("invoice_has_settled_payment")
	ErrStudentNotFound     = errors.New("student_not_found")
)

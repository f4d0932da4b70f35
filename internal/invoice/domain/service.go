package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/studiva/campusbill/pkg/db/pagination"
)

type CreateInvoiceRequest struct {
	StudentID    string
	TermID       string
	Description  string
	DueDate      time.Time
	Amount       decimal.Decimal
	FineRate     *decimal.Decimal
	InterestRate *decimal.Decimal
}

type UpdateInvoiceRequest struct {
	ID           string
	Description  *string
	DueDate      *time.Time
	FineRate     *decimal.Decimal
	InterestRate *decimal.Decimal
}

type ListInvoiceRequest struct {
	pagination.Pagination
	StudentID string
	Status    string
	DueFrom   *time.Time
	DueTo     *time.Time
	Query     string
}

// InvoiceView is an invoice enriched with the values recomputed per read.
type InvoiceView struct {
	Invoice
	EffectiveStatus InvoiceStatus   `json:"effective_status"`
	AmountDue       decimal.Decimal `json:"amount_due"`
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []InvoiceView `json:"invoices"`
}

type SummaryRequest struct {
	StudentID string
}

type SummaryResponse struct {
	TotalPending decimal.Decimal `json:"total_pending"`
	TotalOverdue decimal.Decimal `json:"total_overdue"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	CountPending int64           `json:"count_pending"`
	CountOverdue int64           `json:"count_overdue"`
	CountPaid    int64           `json:"count_paid"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (InvoiceView, error)
	Update(ctx context.Context, req UpdateInvoiceRequest) (InvoiceView, error)
	GetByID(ctx context.Context, id string) (InvoiceView, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	Summary(ctx context.Context, req SummaryRequest) (SummaryResponse, error)

	// MarkOverdue is idempotent: an invoice already OVERDUE is left as is.
	MarkOverdue(ctx context.Context, id string) (InvoiceView, error)
	MarkPaid(ctx context.Context, id string) (InvoiceView, error)
	Cancel(ctx context.Context, id string) (InvoiceView, error)
}

var (
	ErrInvalidStudent    = errors.New("invalid_student")
	ErrInvalidInvoiceID  = errors.New("invalid_invoice_id")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidDueDate    = errors.New("invalid_due_date")
	ErrInvalidRate       = errors.New("invalid_rate")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrSettledPayment    = errors.New("invoice_has_settled_payment")
	ErrInvoiceImmutable  = errors.New("invoice_immutable")
)

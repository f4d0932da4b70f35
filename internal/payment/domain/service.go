package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
)

type CreatePaymentRequest struct {
	InvoiceID   string
	Amount      decimal.Decimal
	Method      string
	Provider    string
	ProviderRef string
}

// PaymentView pairs a payment with the owning invoice state after the
// operation, so callers observe the status the operation produced.
type PaymentView struct {
	Payment
	Invoice invoicedomain.Invoice `json:"invoice"`
}

type Service interface {
	Create(ctx context.Context, req CreatePaymentRequest) (PaymentView, error)
	Settle(ctx context.Context, id string) (PaymentView, error)
	Fail(ctx context.Context, id string) (PaymentView, error)
	Refund(ctx context.Context, id string) (PaymentView, error)
}

var (
	ErrInvalidPaymentID   = errors.New("invalid_payment_id")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidMethod      = errors.New("invalid_method")
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrOverpayment        = errors.New("overpayment")
	ErrInvoiceNotPayable  = errors.New("invoice_not_payable")
	ErrNotAuthorized      = errors.New("payment_not_authorized")
	ErrNotSettled         = errors.New("payment_not_settled")
	ErrRateLimitedPayment = errors.New("payment_rate_limited")
)

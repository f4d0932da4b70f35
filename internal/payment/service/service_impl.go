package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/studiva/campusbill/internal/accrual"
	auditdomain "github.com/studiva/campusbill/internal/audit/domain"
	"github.com/studiva/campusbill/internal/audit/masking"
	"github.com/studiva/campusbill/internal/clock"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"github.com/studiva/campusbill/internal/observability/metrics"
	paymentdomain "github.com/studiva/campusbill/internal/payment/domain"
	pkgdb "github.com/studiva/campusbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func New(p Params) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,

		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req paymentdomain.CreatePaymentRequest) (paymentdomain.PaymentView, error) {
	invoiceID, err := parseID(req.InvoiceID)
	if err != nil || invoiceID == 0 {
		return paymentdomain.PaymentView{}, invoicedomain.ErrInvalidInvoiceID
	}
	if !req.Amount.IsPositive() {
		return paymentdomain.PaymentView{}, paymentdomain.ErrInvalidAmount
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		return paymentdomain.PaymentView{}, paymentdomain.ErrInvalidMethod
	}

	now := s.clock.Now().UTC()
	payment := paymentdomain.Payment{
		ID:          s.genID.Generate(),
		InvoiceID:   invoiceID,
		ReceiptCode: ulid.Make().String(),
		Amount:      req.Amount.Round(2),
		Method:      method,
		Status:      paymentdomain.PaymentStatusAuthorized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if provider := strings.TrimSpace(req.Provider); provider != "" {
		payment.Provider = &provider
	}
	if ref := strings.TrimSpace(req.ProviderRef); ref != "" {
		payment.ProviderRef = &ref
	}

	var invoice invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if !loaded.Open() {
			return paymentdomain.ErrInvoiceNotPayable
		}
		if req.Amount.GreaterThan(loaded.AmountDue(now)) {
			return paymentdomain.ErrOverpayment
		}

		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO payments (
				id, invoice_id, receipt_code, amount, method, provider, provider_ref,
				status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			payment.ID,
			payment.InvoiceID,
			payment.ReceiptCode,
			payment.Amount,
			payment.Method,
			payment.Provider,
			payment.ProviderRef,
			payment.Status,
			payment.CreatedAt,
			payment.UpdatedAt,
		).Error; err != nil {
			return err
		}
		invoice = *loaded
		return nil
	})
	if err != nil {
		return paymentdomain.PaymentView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionPaymentRecorded, &payment, nil)
	s.metrics.RecordPayment(ctx, string(paymentdomain.PaymentStatusAuthorized))

	return paymentdomain.PaymentView{Payment: payment, Invoice: invoice}, nil
}

func (s *Service) Settle(ctx context.Context, id string) (paymentdomain.PaymentView, error) {
	paymentID, err := parseID(id)
	if err != nil || paymentID == 0 {
		return paymentdomain.PaymentView{}, paymentdomain.ErrInvalidPaymentID
	}

	now := s.clock.Now().UTC()

	var view paymentdomain.PaymentView
	var invoicePaid bool
	var previousStatus invoicedomain.InvoiceStatus
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := loadPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if payment.Status != paymentdomain.PaymentStatusAuthorized {
			return paymentdomain.ErrNotAuthorized
		}

		invoice, err := loadInvoiceForUpdate(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		payment.Status = paymentdomain.PaymentStatusSettled
		payment.SettledAt = &now
		payment.UpdatedAt = now
		if err := tx.WithContext(ctx).Exec(
			`UPDATE payments SET status = ?, settled_at = ?, updated_at = ? WHERE id = ?`,
			paymentdomain.PaymentStatusSettled, now, now, paymentID,
		).Error; err != nil {
			return err
		}

		// Coverage is evaluated at this instant, fees included.
		settledTotal, err := sumSettledPayments(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if invoice.Open() && settledTotal.GreaterThanOrEqual(invoice.AmountDue(now)) {
			previousStatus = invoice.Status
			invoice.Status = invoicedomain.InvoiceStatusPaid
			invoice.PaidAt = &now
			invoice.UpdatedAt = now
			if err := tx.WithContext(ctx).Exec(
				`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
				invoicedomain.InvoiceStatusPaid, now, now, invoice.ID,
			).Error; err != nil {
				return err
			}
			invoicePaid = true
		}

		view = paymentdomain.PaymentView{Payment: *payment, Invoice: *invoice}
		return nil
	})
	if err != nil {
		return paymentdomain.PaymentView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionPaymentSettled, &view.Payment, nil)
	s.metrics.RecordPayment(ctx, string(paymentdomain.PaymentStatusSettled))
	if invoicePaid {
		s.metrics.RecordTransition(ctx, string(previousStatus), string(invoicedomain.InvoiceStatusPaid))
	}

	return view, nil
}

func (s *Service) Fail(ctx context.Context, id string) (paymentdomain.PaymentView, error) {
	paymentID, err := parseID(id)
	if err != nil || paymentID == 0 {
		return paymentdomain.PaymentView{}, paymentdomain.ErrInvalidPaymentID
	}

	now := s.clock.Now().UTC()

	var view paymentdomain.PaymentView
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := loadPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if payment.Status != paymentdomain.PaymentStatusAuthorized {
			return paymentdomain.ErrNotAuthorized
		}

		invoice, err := loadInvoiceForUpdate(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		payment.Status = paymentdomain.PaymentStatusFailed
		payment.UpdatedAt = now
		if err := tx.WithContext(ctx).Exec(
			`UPDATE payments SET status = ?, updated_at = ? WHERE id = ?`,
			paymentdomain.PaymentStatusFailed, now, paymentID,
		).Error; err != nil {
			return err
		}

		view = paymentdomain.PaymentView{Payment: *payment, Invoice: *invoice}
		return nil
	})
	if err != nil {
		return paymentdomain.PaymentView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionPaymentFailed, &view.Payment, nil)
	s.metrics.RecordPayment(ctx, string(paymentdomain.PaymentStatusFailed))

	return view, nil
}

func (s *Service) Refund(ctx context.Context, id string) (paymentdomain.PaymentView, error) {
	paymentID, err := parseID(id)
	if err != nil || paymentID == 0 {
		return paymentdomain.PaymentView{}, paymentdomain.ErrInvalidPaymentID
	}

	now := s.clock.Now().UTC()

	var view paymentdomain.PaymentView
	var reverted bool
	var fromStatus, toStatus invoicedomain.InvoiceStatus
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := loadPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if payment.Status != paymentdomain.PaymentStatusSettled {
			return paymentdomain.ErrNotSettled
		}

		invoice, err := loadInvoiceForUpdate(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		payment.Status = paymentdomain.PaymentStatusRefunded
		payment.UpdatedAt = now
		if err := tx.WithContext(ctx).Exec(
			`UPDATE payments SET status = ?, updated_at = ? WHERE id = ?`,
			paymentdomain.PaymentStatusRefunded, now, paymentID,
		).Error; err != nil {
			return err
		}

		// Status is recomputed from scratch against the current date and the
		// remaining settled coverage, never restored from a prior value.
		if invoice.Status != invoicedomain.InvoiceStatusCanceled {
			settledTotal, err := sumSettledPayments(ctx, tx, invoice.ID)
			if err != nil {
				return err
			}

			due := accrual.AmountDue(invoice.Amount, invoice.DueDate, invoice.FineRate, invoice.InterestRate, now)

			recomputed := invoicedomain.InvoiceStatusPending
			var paidAt *time.Time
			switch {
			case settledTotal.GreaterThanOrEqual(due):
				recomputed = invoicedomain.InvoiceStatusPaid
				paidAt = invoice.PaidAt
				if paidAt == nil {
					paidAt = &now
				}
			case now.After(invoice.DueDate):
				recomputed = invoicedomain.InvoiceStatusOverdue
			}

			if recomputed != invoice.Status {
				fromStatus = invoice.Status
				toStatus = recomputed
				reverted = true
			}
			invoice.Status = recomputed
			invoice.PaidAt = paidAt
			invoice.UpdatedAt = now
			if err := tx.WithContext(ctx).Exec(
				`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
				invoice.Status, invoice.PaidAt, now, invoice.ID,
			).Error; err != nil {
				return err
			}
		}

		view = paymentdomain.PaymentView{Payment: *payment, Invoice: *invoice}
		return nil
	})
	if err != nil {
		return paymentdomain.PaymentView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionPaymentRefunded, &view.Payment, map[string]any{
		"invoice_status": string(view.Invoice.Status),
	})
	s.metrics.RecordPayment(ctx, string(paymentdomain.PaymentStatusRefunded))
	if reverted {
		s.metrics.RecordTransition(ctx, string(fromStatus), string(toStatus))
	}

	return view, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, payment *paymentdomain.Payment, extra map[string]any) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"invoice_id":   payment.InvoiceID.String(),
		"receipt_code": payment.ReceiptCode,
		"amount":       payment.Amount.StringFixed(2),
		"method":       payment.Method,
		"status":       string(payment.Status),
	}
	if payment.ProviderRef != nil {
		metadata["provider_ref"] = masking.MaskReference(*payment.ProviderRef)
	}
	for key, value := range extra {
		metadata[key] = value
	}
	targetID := payment.ID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "payment", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func loadPaymentForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := tx.WithContext(ctx).Raw(
		`SELECT id, invoice_id, receipt_code, amount, method, provider, provider_ref,
		        status, settled_at, created_at, updated_at
		 FROM payments
		 WHERE id = ?`+pkgdb.LockSuffix(tx),
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT id, student_id, reference_code, status, due_date, amount,
		        fine_rate, interest_rate, paid_at, created_at, updated_at
		 FROM invoices
		 WHERE id = ?`+pkgdb.LockSuffix(tx),
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

// sumSettledPayments folds the settled amounts in Go so the decimal column
// never round-trips through a dialect-dependent SUM.
func sumSettledPayments(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (decimal.Decimal, error) {
	var payments []paymentdomain.Payment
	err := tx.WithContext(ctx).
		Where("invoice_id = ? AND status = ?", invoiceID, paymentdomain.PaymentStatusSettled).
		Find(&payments).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, payment := range payments {
		total = total.Add(payment.Amount)
	}
	return total, nil
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}

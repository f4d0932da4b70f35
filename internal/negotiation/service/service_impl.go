package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/studiva/campusbill/internal/audit/domain"
	"github.com/studiva/campusbill/internal/clock"
	"github.com/studiva/campusbill/internal/config"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"github.com/studiva/campusbill/internal/invoice/format"
	negotiationdomain "github.com/studiva/campusbill/internal/negotiation/domain"
	"github.com/studiva/campusbill/internal/observability/metrics"
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
	Billing  *config.BillingConfigHolder
	AuditSvc auditdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder

	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func New(p Params) negotiationdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("negotiation.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,

		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Preview(ctx context.Context, req negotiationdomain.PlanRequest) (negotiationdomain.Plan, error) {
	studentID, err := parseID(req.StudentID)
	if err != nil || studentID == 0 {
		return negotiationdomain.Plan{}, negotiationdomain.ErrInvalidStudent
	}
	if err := s.validate(req.NumInstallments, req.TotalAmount, req.FirstDueDate); err != nil {
		return negotiationdomain.Plan{}, err
	}

	firstDue := dateOnly(req.FirstDueDate)
	installments, err := buildInstallments(req.TotalAmount, req.NumInstallments, firstDue, req.DescriptionPrefix)
	if err != nil {
		return negotiationdomain.Plan{}, err
	}

	plan := negotiationdomain.Plan{
		StudentID:         studentID.String(),
		TotalAmount:       req.TotalAmount.Round(2),
		NumInstallments:   req.NumInstallments,
		FirstDueDate:      firstDue,
		DescriptionPrefix: strings.TrimSpace(req.DescriptionPrefix),
		CancelPending:     req.CancelPending,
		Installments:      installments,
	}

	if req.CancelPending {
		ids, err := s.openInvoiceIDs(ctx, studentID)
		if err != nil {
			return negotiationdomain.Plan{}, err
		}
		plan.PendingToCancel = ids
	}

	return plan, nil
}

func (s *Service) Execute(ctx context.Context, req negotiationdomain.ExecuteRequest) (negotiationdomain.ExecuteResponse, error) {
	studentID, err := parseID(req.StudentID)
	if err != nil || studentID == 0 {
		return negotiationdomain.ExecuteResponse{}, negotiationdomain.ErrInvalidStudent
	}
	if err := s.validate(req.NumInstallments, req.TotalAmount, req.FirstDueDate); err != nil {
		return negotiationdomain.ExecuteResponse{}, err
	}

	var termID *snowflake.ID
	if strings.TrimSpace(req.TermID) != "" {
		parsed, err := parseID(req.TermID)
		if err != nil || parsed == 0 {
			return negotiationdomain.ExecuteResponse{}, negotiationdomain.ErrInvalidInvoiceID
		}
		termID = &parsed
	}

	cancelIDs := make([]snowflake.ID, 0, len(req.PendingToCancel))
	for _, raw := range req.PendingToCancel {
		id, err := parseID(raw)
		if err != nil || id == 0 {
			return negotiationdomain.ExecuteResponse{}, negotiationdomain.ErrInvalidInvoiceID
		}
		cancelIDs = append(cancelIDs, id)
	}

	// The installment schedule is rebuilt from the plan's scalars, so a
	// tampered plan cannot break the sum invariant.
	firstDue := dateOnly(req.FirstDueDate)
	installments, err := buildInstallments(req.TotalAmount, req.NumInstallments, firstDue, req.DescriptionPrefix)
	if err != nil {
		return negotiationdomain.ExecuteResponse{}, err
	}

	billing := s.billing.Get()
	fineRate := billing.FineRate()
	if req.FineRate != nil {
		fineRate = *req.FineRate
	}
	interestRate := billing.MonthlyInterest()
	if req.InterestRate != nil {
		interestRate = *req.InterestRate
	}
	if fineRate.IsNegative() || interestRate.IsNegative() {
		return negotiationdomain.ExecuteResponse{}, negotiationdomain.ErrInvalidTotal
	}

	now := s.clock.Now().UTC()
	total := req.NumInstallments

	var resp negotiationdomain.ExecuteResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Per-student write serialization: the student row lock is held
		// across the whole create+cancel sequence.
		if err := lockStudent(ctx, tx, studentID); err != nil {
			return err
		}

		baseSeq, err := nextReferenceSeq(ctx, tx)
		if err != nil {
			return err
		}

		for i, installment := range installments {
			seq := baseSeq + int64(i)
			code, err := format.FormatReferenceCode(billing.ReferencePrefix, seq)
			if err != nil {
				return err
			}
			number := installment.Number
			invoice := invoicedomain.Invoice{
				ID:                s.genID.Generate(),
				StudentID:         studentID,
				TermID:            termID,
				ReferenceSeq:      seq,
				ReferenceCode:     code,
				Description:       installment.Description,
				DueDate:           installment.DueDate,
				Amount:            installment.Amount,
				FineRate:          fineRate,
				InterestRate:      interestRate,
				Status:            invoicedomain.InvoiceStatusPending,
				InstallmentNumber: &number,
				InstallmentTotal:  &total,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := insertInvoice(ctx, tx, &invoice); err != nil {
				return err
			}
			resp.CreatedCount++
		}

		for _, id := range cancelIDs {
			invoice, err := loadInvoiceForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if invoice == nil {
				return fmt.Errorf("%w: %s", negotiationdomain.ErrInvoiceNotFound, id)
			}
			if !invoice.Open() {
				return fmt.Errorf("%w: %s", negotiationdomain.ErrInvalidTransition, id)
			}
			settled, err := countSettledPayments(ctx, tx, id)
			if err != nil {
				return err
			}
			if settled > 0 {
				return fmt.Errorf("%w: %s", negotiationdomain.ErrSettledPayment, id)
			}
			if err := tx.WithContext(ctx).Exec(
				`UPDATE invoices SET status = ?, canceled_at = ?, updated_at = ? WHERE id = ?`,
				invoicedomain.InvoiceStatusCanceled, now, now, id,
			).Error; err != nil {
				return err
			}
			resp.CanceledCount++
		}

		return nil
	})
	if err != nil {
		return negotiationdomain.ExecuteResponse{}, err
	}

	s.emitAudit(ctx, studentID, req, resp)
	s.metrics.RecordNegotiationExecuted(ctx, req.NumInstallments)

	return resp, nil
}

func (s *Service) validate(n int, total decimal.Decimal, firstDue time.Time) error {
	maxInstallments := s.billing.Get().MaxInstallments
	if maxInstallments < 1 {
		maxInstallments = 24
	}
	if n < 1 || n > maxInstallments {
		return negotiationdomain.ErrInvalidInstallments
	}
	if !total.IsPositive() {
		return negotiationdomain.ErrInvalidTotal
	}
	if firstDue.IsZero() || dateOnly(firstDue).Before(clock.Today(s.clock)) {
		return negotiationdomain.ErrPastFirstDueDate
	}
	return nil
}

func (s *Service) openInvoiceIDs(ctx context.Context, studentID snowflake.ID) ([]string, error) {
	var rows []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM invoices
		 WHERE student_id = ? AND status IN (?, ?)
		 ORDER BY created_at, id`,
		studentID,
		invoicedomain.InvoiceStatusPending,
		invoicedomain.InvoiceStatusOverdue,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, id := range rows {
		ids = append(ids, id.String())
	}
	return ids, nil
}

func (s *Service) emitAudit(ctx context.Context, studentID snowflake.ID, req negotiationdomain.ExecuteRequest, resp negotiationdomain.ExecuteResponse) {
	if s.auditSvc == nil {
		return
	}
	targetID := studentID.String()
	metadata := map[string]any{
		"total_amount":     req.TotalAmount.StringFixed(2),
		"num_installments": req.NumInstallments,
		"first_due_date":   req.FirstDueDate.Format(time.RFC3339),
		"created_count":    resp.CreatedCount,
		"canceled_count":   resp.CanceledCount,
	}
	if err := s.auditSvc.AuditLog(ctx, "", nil, auditdomain.ActionNegotiationExecuted, "student", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func lockStudent(ctx context.Context, tx *gorm.DB, studentID snowflake.ID) error {
	var id snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM students WHERE id = ?`+pkgdb.LockSuffix(tx),
		studentID,
	).Scan(&id).Error
	if err != nil {
		return err
	}
	if id == 0 {
		return negotiationdomain.ErrStudentNotFound
	}
	return nil
}

func loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT id, student_id, status, due_date, amount, fine_rate, interest_rate
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

func countSettledPayments(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM payments WHERE invoice_id = ? AND status = ?`,
		invoiceID,
		"SETTLED",
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func nextReferenceSeq(ctx context.Context, tx *gorm.DB) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(reference_seq), 0) + 1 FROM invoices`,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func insertInvoice(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, student_id, term_id, reference_seq, reference_code, description,
			due_date, amount, fine_rate, interest_rate, status,
			installment_number, installment_total, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.StudentID,
		invoice.TermID,
		invoice.ReferenceSeq,
		invoice.ReferenceCode,
		invoice.Description,
		invoice.DueDate,
		invoice.Amount,
		invoice.FineRate,
		invoice.InterestRate,
		invoice.Status,
		invoice.InstallmentNumber,
		invoice.InstallmentTotal,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/studiva/campusbill/internal/audit/domain"
	"github.com/studiva/campusbill/internal/clock"
	"github.com/studiva/campusbill/internal/config"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"github.com/studiva/campusbill/internal/invoice/format"
	"github.com/studiva/campusbill/internal/observability/metrics"
	pkgdb "github.com/studiva/campusbill/pkg/db"
	"github.com/studiva/campusbill/pkg/db/pagination"
	"github.com/studiva/campusbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
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
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	billing     *config.BillingConfigHolder
	invoicerepo repository.Repository[invoicedomain.Invoice]

	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		billing:     p.Billing,
		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),

		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.InvoiceView, error) {
	studentID, err := parseID(req.StudentID)
	if err != nil || studentID == 0 {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidStudent
	}
	if !req.Amount.IsPositive() {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidAmount
	}
	if req.DueDate.IsZero() {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidDueDate
	}

	var termID *snowflake.ID
	if strings.TrimSpace(req.TermID) != "" {
		parsed, err := parseID(req.TermID)
		if err != nil || parsed == 0 {
			return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidInvoiceID
		}
		termID = &parsed
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
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidRate
	}

	now := s.clock.Now().UTC()
	invoice := invoicedomain.Invoice{
		ID:           s.genID.Generate(),
		StudentID:    studentID,
		TermID:       termID,
		Description:  strings.TrimSpace(req.Description),
		DueDate:      req.DueDate.UTC(),
		Amount:       req.Amount.Round(2),
		FineRate:     fineRate,
		InterestRate: interestRate,
		Status:       invoicedomain.InvoiceStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextReferenceSeq(ctx, tx)
		if err != nil {
			return err
		}
		code, err := format.FormatReferenceCode(billing.ReferencePrefix, seq)
		if err != nil {
			return err
		}
		invoice.ReferenceSeq = seq
		invoice.ReferenceCode = code
		return insertInvoice(ctx, tx, &invoice)
	})
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionInvoiceCreated, &invoice, nil)
	s.metrics.RecordInvoiceCreated(ctx, "manual")

	return s.view(invoice), nil
}

func (s *Service) Update(ctx context.Context, req invoicedomain.UpdateInvoiceRequest) (invoicedomain.InvoiceView, error) {
	id, err := parseID(req.ID)
	if err != nil || id == 0 {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidInvoiceID
	}
	if req.FineRate != nil && req.FineRate.IsNegative() {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidRate
	}
	if req.InterestRate != nil && req.InterestRate.IsNegative() {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidRate
	}
	if req.DueDate != nil && req.DueDate.IsZero() {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidDueDate
	}

	var updated invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if !invoice.Open() {
			return invoicedomain.ErrInvoiceImmutable
		}

		if req.Description != nil {
			invoice.Description = strings.TrimSpace(*req.Description)
		}
		if req.DueDate != nil {
			invoice.DueDate = req.DueDate.UTC()
		}
		if req.FineRate != nil {
			invoice.FineRate = *req.FineRate
		}
		if req.InterestRate != nil {
			invoice.InterestRate = *req.InterestRate
		}
		invoice.UpdatedAt = s.clock.Now().UTC()

		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET description = ?, due_date = ?, fine_rate = ?, interest_rate = ?, updated_at = ?
			 WHERE id = ?`,
			invoice.Description,
			invoice.DueDate,
			invoice.FineRate,
			invoice.InterestRate,
			invoice.UpdatedAt,
			id,
		).Error; err != nil {
			return err
		}
		updated = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionInvoiceUpdated, &updated, nil)
	return s.view(updated), nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.InvoiceView, error) {
	invoiceID, err := parseID(id)
	if err != nil || invoiceID == 0 {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidInvoiceID
	}

	invoice, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID})
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}
	if invoice == nil {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvoiceNotFound
	}

	return s.view(*invoice), nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	now := s.clock.Now().UTC()

	stmt := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{})

	if raw := strings.TrimSpace(req.StudentID); raw != "" {
		studentID, err := parseID(raw)
		if err != nil || studentID == 0 {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStudent
		}
		stmt = stmt.Where("student_id = ?", studentID)
	}

	// Status filters match the effective status: a PENDING row past its due
	// date counts as OVERDUE even before the sweep persists it.
	switch status := invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(req.Status))); status {
	case "":
	case invoicedomain.InvoiceStatusPending:
		stmt = stmt.Where("status = ? AND due_date >= ?", invoicedomain.InvoiceStatusPending, now)
	case invoicedomain.InvoiceStatusOverdue:
		stmt = stmt.Where("(status = ? OR (status = ? AND due_date < ?))",
			invoicedomain.InvoiceStatusOverdue, invoicedomain.InvoiceStatusPending, now)
	case invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusCanceled:
		stmt = stmt.Where("status = ?", status)
	default:
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatus
	}

	if req.DueFrom != nil {
		stmt = stmt.Where("due_date >= ?", req.DueFrom.UTC())
	}
	if req.DueTo != nil {
		stmt = stmt.Where("due_date <= ?", req.DueTo.UTC())
	}
	if q := strings.TrimSpace(req.Query); q != "" {
		like := "%" + q + "%"
		stmt = stmt.Where("description LIKE ? OR reference_code LIKE ?", like, like)
	}

	var cursor *invoiceCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := decodeInvoiceCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		cursor = decoded
	}
	if cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	var items []*invoicedomain.Invoice
	err := stmt.
		Order("created_at desc, id desc").
		Limit(int(pageSize) + 1).
		Find(&items).Error
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	views := make([]invoicedomain.InvoiceView, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		views = append(views, s.viewAt(*item, now))
	}

	resp := invoicedomain.ListInvoiceResponse{Invoices: views}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Summary(ctx context.Context, req invoicedomain.SummaryRequest) (invoicedomain.SummaryResponse, error) {
	now := s.clock.Now().UTC()

	stmt := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("status IN ?", []invoicedomain.InvoiceStatus{
			invoicedomain.InvoiceStatusPending,
			invoicedomain.InvoiceStatusOverdue,
			invoicedomain.InvoiceStatusPaid,
		})

	if raw := strings.TrimSpace(req.StudentID); raw != "" {
		studentID, err := parseID(raw)
		if err != nil || studentID == 0 {
			return invoicedomain.SummaryResponse{}, invoicedomain.ErrInvalidStudent
		}
		stmt = stmt.Where("student_id = ?", studentID)
	}

	var invoices []invoicedomain.Invoice
	if err := stmt.Find(&invoices).Error; err != nil {
		return invoicedomain.SummaryResponse{}, err
	}

	resp := invoicedomain.SummaryResponse{
		TotalPending: decimal.Zero,
		TotalOverdue: decimal.Zero,
		TotalPaid:    decimal.Zero,
	}
	for _, invoice := range invoices {
		switch invoice.EffectiveStatus(now) {
		case invoicedomain.InvoiceStatusPending:
			resp.CountPending++
			resp.TotalPending = resp.TotalPending.Add(invoice.AmountDue(now))
		case invoicedomain.InvoiceStatusOverdue:
			resp.CountOverdue++
			resp.TotalOverdue = resp.TotalOverdue.Add(invoice.AmountDue(now))
		case invoicedomain.InvoiceStatusPaid:
			resp.CountPaid++
			resp.TotalPaid = resp.TotalPaid.Add(invoice.Amount)
		}
	}
	return resp, nil
}

func (s *Service) MarkOverdue(ctx context.Context, id string) (invoicedomain.InvoiceView, error) {
	invoiceID, err := parseID(id)
	if err != nil || invoiceID == 0 {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidInvoiceID
	}

	now := s.clock.Now().UTC()

	var marked *invoicedomain.Invoice
	var result invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		switch invoice.Status {
		case invoicedomain.InvoiceStatusOverdue:
			// Already there; idempotent.
			result = *invoice
			return nil
		case invoicedomain.InvoiceStatusPending:
		default:
			return invoicedomain.ErrInvalidTransition
		}

		if !now.After(invoice.DueDate) {
			return invoicedomain.ErrInvalidTransition
		}

		invoice.Status = invoicedomain.InvoiceStatusOverdue
		invoice.UpdatedAt = now
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, updated_at = ? WHERE id = ?`,
			invoicedomain.InvoiceStatusOverdue, now, invoiceID,
		).Error; err != nil {
			return err
		}
		marked = invoice
		result = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}

	if marked != nil {
		s.emitAudit(ctx, auditdomain.ActionInvoiceMarkedOverdue, marked, map[string]any{
			"previous_status": string(invoicedomain.InvoiceStatusPending),
		})
		s.metrics.RecordTransition(ctx, string(invoicedomain.InvoiceStatusPending), string(invoicedomain.InvoiceStatusOverdue))
	}
	return s.view(result), nil
}

func (s *Service) MarkPaid(ctx context.Context, id string) (invoicedomain.InvoiceView, error) {
	invoiceID, err := parseID(id)
	if err != nil || invoiceID == 0 {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidInvoiceID
	}

	now := s.clock.Now().UTC()

	var previous invoicedomain.InvoiceStatus
	var paid invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if !invoice.Open() {
			return invoicedomain.ErrInvalidTransition
		}

		previous = invoice.Status
		invoice.Status = invoicedomain.InvoiceStatusPaid
		invoice.PaidAt = &now
		invoice.UpdatedAt = now
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
			invoicedomain.InvoiceStatusPaid, now, now, invoiceID,
		).Error; err != nil {
			return err
		}
		paid = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionInvoicePaid, &paid, map[string]any{
		"previous_status": string(previous),
	})
	s.metrics.RecordTransition(ctx, string(previous), string(invoicedomain.InvoiceStatusPaid))
	return s.view(paid), nil
}

func (s *Service) Cancel(ctx context.Context, id string) (invoicedomain.InvoiceView, error) {
	invoiceID, err := parseID(id)
	if err != nil || invoiceID == 0 {
		return invoicedomain.InvoiceView{}, invoicedomain.ErrInvalidInvoiceID
	}

	now := s.clock.Now().UTC()

	var previous invoicedomain.InvoiceStatus
	var canceled invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if !invoice.Open() {
			return invoicedomain.ErrInvalidTransition
		}

		settled, err := countSettledPayments(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if settled > 0 {
			return invoicedomain.ErrSettledPayment
		}

		previous = invoice.Status
		invoice.Status = invoicedomain.InvoiceStatusCanceled
		invoice.CanceledAt = &now
		invoice.UpdatedAt = now
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, canceled_at = ?, updated_at = ? WHERE id = ?`,
			invoicedomain.InvoiceStatusCanceled, now, now, invoiceID,
		).Error; err != nil {
			return err
		}
		canceled = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.InvoiceView{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionInvoiceCancelled, &canceled, map[string]any{
		"previous_status": string(previous),
	})
	s.metrics.RecordTransition(ctx, string(previous), string(invoicedomain.InvoiceStatusCanceled))
	return s.view(canceled), nil
}

func (s *Service) view(invoice invoicedomain.Invoice) invoicedomain.InvoiceView {
	return s.viewAt(invoice, s.clock.Now().UTC())
}

func (s *Service) viewAt(invoice invoicedomain.Invoice, asOf time.Time) invoicedomain.InvoiceView {
	effective := invoice.EffectiveStatus(asOf)
	return invoicedomain.InvoiceView{
		Invoice:         invoice,
		EffectiveStatus: effective,
		AmountDue:       invoice.AmountDue(asOf),
	}
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"student_id":     invoice.StudentID.String(),
		"reference_code": invoice.ReferenceCode,
		"amount":         invoice.Amount.StringFixed(2),
		"due_date":       invoice.DueDate.Format(time.RFC3339),
		"status":         string(invoice.Status),
	}
	for key, value := range extra {
		metadata[key] = value
	}
	targetID := invoice.ID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

type invoiceCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

func decodeInvoiceCursor(token string) (*invoiceCursor, error) {
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, invoicedomain.ErrInvalidPageToken
	}
	return &invoiceCursor{ID: id, CreatedAt: createdAt}, nil
}

func loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT id, student_id, term_id, reference_seq, reference_code, description,
		        due_date, amount, fine_rate, interest_rate, status,
		        installment_number, installment_total, paid_at, canceled_at,
		        created_at, updated_at
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

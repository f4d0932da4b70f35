package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	academicdomain "github.com/studiva/campusbill/internal/academic/domain"
	"github.com/studiva/campusbill/internal/clock"
	debtdomain "github.com/studiva/campusbill/internal/debt/domain"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Academic academicdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	academic academicdomain.Service
}

func New(p Params) debtdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("debt.service"),
		clock:    p.Clock,
		academic: p.Academic,
	}
}

func (s *Service) Summary(ctx context.Context, studentID string) (debtdomain.DebtSummary, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(studentID))
	if err != nil || id == 0 {
		return debtdomain.DebtSummary{}, debtdomain.ErrInvalidStudent
	}

	now := s.clock.Now().UTC()

	var invoices []invoicedomain.Invoice
	err = s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("student_id = ? AND status IN ?", id, []invoicedomain.InvoiceStatus{
			invoicedomain.InvoiceStatusPending,
			invoicedomain.InvoiceStatusOverdue,
		}).
		Find(&invoices).Error
	if err != nil {
		return debtdomain.DebtSummary{}, err
	}

	summary := debtdomain.DebtSummary{
		StudentID:            id.String(),
		TotalPendingAmount:   decimal.Zero,
		TotalPendingWithFees: decimal.Zero,
	}
	for _, invoice := range invoices {
		summary.CountPending++
		summary.TotalPendingAmount = summary.TotalPendingAmount.Add(invoice.Amount)
		summary.TotalPendingWithFees = summary.TotalPendingWithFees.Add(invoice.AmountDue(now))
	}

	enrolled, err := s.academic.IsEnrolledCurrentTerm(ctx, id)
	if err != nil {
		return debtdomain.DebtSummary{}, err
	}
	summary.HasCurrentTermEnrollment = enrolled

	return summary, nil
}

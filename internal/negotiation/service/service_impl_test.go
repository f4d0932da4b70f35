package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	academicdomain "github.com/studiva/campusbill/internal/academic/domain"
	"github.com/studiva/campusbill/internal/clock"
	"github.com/studiva/campusbill/internal/config"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	negotiationdomain "github.com/studiva/campusbill/internal/negotiation/domain"
	paymentdomain "github.com/studiva/campusbill/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, dsn string, now time.Time) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&academicdomain.Student{},
	))

	node, _ := snowflake.NewNode(1)

	svc := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(now),
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	}).(*Service)

	return svc, db, node
}

func seedStudent(t *testing.T, db *gorm.DB, node *snowflake.Node) snowflake.ID {
	t.Helper()
	id := node.Generate()
	assert.NoError(t, db.Create(&academicdomain.Student{ID: id, Name: "Ana Souza"}).Error)
	return id
}

func seedOpenInvoice(t *testing.T, db *gorm.DB, node *snowflake.Node, studentID snowflake.ID, seq int64, amount string) snowflake.ID {
	t.Helper()
	id := node.Generate()
	assert.NoError(t, db.Create(&invoicedomain.Invoice{
		ID:            id,
		StudentID:     studentID,
		ReferenceSeq:  seq,
		ReferenceCode: invoiceCode(seq),
		Description:   "Tuition",
		DueDate:       time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString(amount),
		FineRate:      decimal.NewFromInt(2),
		InterestRate:  decimal.NewFromInt(1),
		Status:        invoicedomain.InvoiceStatusPending,
	}).Error)
	return id
}

func invoiceCode(seq int64) string {
	return fmt.Sprintf("TUI-%06d", seq)
}

func TestPreview_SplitsInstallmentsExactly(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:negotiation_split?mode=memory&cache=shared", now)
	studentID := seedStudent(t, db, node)

	firstDue := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	plan, err := svc.Preview(context.Background(), negotiationdomain.PlanRequest{
		StudentID:         studentID.String(),
		TotalAmount:       decimal.RequireFromString("1044.05"),
		NumInstallments:   3,
		FirstDueDate:      firstDue,
		DescriptionPrefix: "Negotiation",
	})
	assert.NoError(t, err)
	assert.Len(t, plan.Installments, 3)
	assert.Equal(t, "348.02", plan.Installments[0].Amount.StringFixed(2))
	assert.Equal(t, "348.02", plan.Installments[1].Amount.StringFixed(2))
	assert.Equal(t, "348.01", plan.Installments[2].Amount.StringFixed(2))
	assert.Equal(t, "Negotiation 1/3", plan.Installments[0].Description)
	assert.Equal(t, "Negotiation 3/3", plan.Installments[2].Description)

	// Due dates at month offsets 0, 1, 2.
	assert.True(t, plan.Installments[0].DueDate.Equal(firstDue))
	assert.True(t, plan.Installments[1].DueDate.Equal(firstDue.AddDate(0, 1, 0)))
	assert.True(t, plan.Installments[2].DueDate.Equal(firstDue.AddDate(0, 2, 0)))

	sum := decimal.Zero
	for _, inst := range plan.Installments {
		sum = sum.Add(inst.Amount)
	}
	assert.Equal(t, "1044.05", sum.StringFixed(2))
}

func TestPreview_MonthEndClampReflectedInPlan(t *testing.T) {
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:negotiation_clamp?mode=memory&cache=shared", now)
	studentID := seedStudent(t, db, node)

	plan, err := svc.Preview(context.Background(), negotiationdomain.PlanRequest{
		StudentID:       studentID.String(),
		TotalAmount:     decimal.RequireFromString("300.00"),
		NumInstallments: 3,
		FirstDueDate:    time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC),
	})
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), plan.Installments[1].DueDate)
	assert.Equal(t, time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC), plan.Installments[2].DueDate)
}

func TestPreview_Idempotent(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:negotiation_idempotent?mode=memory&cache=shared", now)
	studentID := seedStudent(t, db, node)
	seedOpenInvoice(t, db, node, studentID, 1, "500.00")

	req := negotiationdomain.PlanRequest{
		StudentID:       studentID.String(),
		TotalAmount:     decimal.RequireFromString("600.00"),
		NumInstallments: 4,
		FirstDueDate:    time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC),
		CancelPending:   true,
	}
	first, err := svc.Preview(context.Background(), req)
	assert.NoError(t, err)
	second, err := svc.Preview(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first.PendingToCancel, 1)
}

func TestPreview_Validation(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:negotiation_validation?mode=memory&cache=shared", now)
	studentID := seedStudent(t, db, node)

	base := negotiationdomain.PlanRequest{
		StudentID:       studentID.String(),
		TotalAmount:     decimal.RequireFromString("100.00"),
		NumInstallments: 3,
		FirstDueDate:    time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC),
	}

	req := base
	req.NumInstallments = 0
	_, err := svc.Preview(context.Background(), req)
	assert.ErrorIs(t, err, negotiationdomain.ErrInvalidInstallments)

	req = base
	req.NumInstallments = 25
	_, err = svc.Preview(context.Background(), req)
	assert.ErrorIs(t, err, negotiationdomain.ErrInvalidInstallments)

	req = base
	req.TotalAmount = decimal.Zero
	_, err = svc.Preview(context.Background(), req)
	assert.ErrorIs(t, err, negotiationdomain.ErrInvalidTotal)

	req = base
	req.FirstDueDate = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.Preview(context.Background(), req)
	assert.ErrorIs(t, err, negotiationdomain.ErrPastFirstDueDate)

	// Today is a valid first due date.
	req = base
	req.FirstDueDate = now
	_, err = svc.Preview(context.Background(), req)
	assert.NoError(t, err)
}

func TestExecute_CreatesAndCancelsAtomically(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:negotiation_execute?mode=memory&cache=shared", now)
	studentID := seedStudent(t, db, node)
	first := seedOpenInvoice(t, db, node, studentID, 1, "700.00")
	second := seedOpenInvoice(t, db, node, studentID, 2, "344.05")

	plan, err := svc.Preview(context.Background(), negotiationdomain.PlanRequest{
		StudentID:         studentID.String(),
		TotalAmount:       decimal.RequireFromString("1044.05"),
		NumInstallments:   6,
		FirstDueDate:      time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC),
		DescriptionPrefix: "Negotiation",
		CancelPending:     true,
	})
	assert.NoError(t, err)
	assert.Len(t, plan.PendingToCancel, 2)

	resp, err := svc.Execute(context.Background(), negotiationdomain.ExecuteRequest{Plan: plan})
	assert.NoError(t, err)
	assert.Equal(t, 6, resp.CreatedCount)
	assert.Equal(t, 2, resp.CanceledCount)

	var canceled int64
	db.Model(&invoicedomain.Invoice{}).
		Where("id IN ? AND status = ?", []snowflake.ID{first, second}, invoicedomain.InvoiceStatusCanceled).
		Count(&canceled)
	assert.Equal(t, int64(2), canceled)

	var open []invoicedomain.Invoice
	db.Where("student_id = ? AND status = ?", studentID, invoicedomain.InvoiceStatusPending).
		Order("reference_seq").
		Find(&open)
	assert.Len(t, open, 6)
	sum := decimal.Zero
	for i, invoice := range open {
		assert.Equal(t, i+1, *invoice.InstallmentNumber)
		assert.Equal(t, 6, *invoice.InstallmentTotal)
		sum = sum.Add(invoice.Amount)
	}
	assert.Equal(t, "1044.05", sum.StringFixed(2))
}

func TestExecute_AbortsWhenCancelTargetHasSettledPayment(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	svc, db, node := newTestService(t, "file:negotiation_abort?mode=memory&cache=shared", now)
	studentID := seedStudent(t, db, node)
	paidTarget := seedOpenInvoice(t, db, node, studentID, 1, "700.00")
	seedOpenInvoice(t, db, node, studentID, 2, "300.00")

	settledAt := now
	assert.NoError(t, db.Create(&paymentdomain.Payment{
		ID:          node.Generate(),
		InvoiceID:   paidTarget,
		ReceiptCode: "01HTESTRECEIPTNEGOTIATION001",
		Amount:      decimal.RequireFromString("100.00"),
		Method:      "card",
		Status:      paymentdomain.PaymentStatusSettled,
		SettledAt:   &settledAt,
	}).Error)

	plan, err := svc.Preview(context.Background(), negotiationdomain.PlanRequest{
		StudentID:       studentID.String(),
		TotalAmount:     decimal.RequireFromString("1000.00"),
		NumInstallments: 4,
		FirstDueDate:    time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC),
		CancelPending:   true,
	})
	assert.NoError(t, err)

	_, err = svc.Execute(context.Background(), negotiationdomain.ExecuteRequest{Plan: plan})
	assert.ErrorIs(t, err, negotiationdomain.ErrSettledPayment)

	// Nothing persisted: no new invoices, no cancellations.
	var count int64
	db.Model(&invoicedomain.Invoice{}).Where("student_id = ?", studentID).Count(&count)
	assert.Equal(t, int64(2), count)
	var canceledCount int64
	db.Model(&invoicedomain.Invoice{}).
		Where("student_id = ? AND status = ?", studentID, invoicedomain.InvoiceStatusCanceled).
		Count(&canceledCount)
	assert.Equal(t, int64(0), canceledCount)
}

func TestExecute_UnknownStudent(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	svc, _, node := newTestService(t, "file:negotiation_nostudent?mode=memory&cache=shared", now)

	_, err := svc.Execute(context.Background(), negotiationdomain.ExecuteRequest{
		Plan: negotiationdomain.Plan{
			StudentID:       node.Generate().String(),
			TotalAmount:     decimal.RequireFromString("100.00"),
			NumInstallments: 2,
			FirstDueDate:    time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC),
		},
	})
	assert.ErrorIs(t, err, negotiationdomain.ErrStudentNotFound)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	academicdomain "github.com/studiva/campusbill/internal/academic/domain"
	"github.com/studiva/campusbill/internal/clock"
	debtdomain "github.com/studiva/campusbill/internal/debt/domain"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockAcademic struct {
	mock.Mock
}

func (m *mockAcademic) GetStudent(ctx context.Context, id snowflake.ID) (academicdomain.Student, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(academicdomain.Student), args.Error(1)
}

func (m *mockAcademic) IsEnrolledCurrentTerm(ctx context.Context, studentID snowflake.ID) (bool, error) {
	args := m.Called(ctx, studentID)
	return args.Bool(0), args.Error(1)
}

func TestDebtSummary(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:debt_summary?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}))

	node, _ := snowflake.NewNode(1)
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

	academic := &mockAcademic{}
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(now),
		Academic: academic,
	})

	studentID := node.Generate()
	academic.On("IsEnrolledCurrentTerm", mock.Anything, studentID).Return(true, nil)

	twoRate := decimal.NewFromInt(2)
	oneRate := decimal.NewFromInt(1)

	// Overdue: 1000 -> 1040 with fees at 2024-03-15.
	assert.NoError(t, db.Create(&invoicedomain.Invoice{
		ID: node.Generate(), StudentID: studentID,
		ReferenceSeq: 1, ReferenceCode: "TUI-000001",
		DueDate: time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC),
		Amount:  decimal.RequireFromString("1000.00"),
		FineRate: twoRate, InterestRate: oneRate,
		Status: invoicedomain.InvoiceStatusOverdue,
	}).Error)
	// Pending, not yet due: no fees.
	assert.NoError(t, db.Create(&invoicedomain.Invoice{
		ID: node.Generate(), StudentID: studentID,
		ReferenceSeq: 2, ReferenceCode: "TUI-000002",
		DueDate: time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC),
		Amount:  decimal.RequireFromString("200.00"),
		FineRate: twoRate, InterestRate: oneRate,
		Status: invoicedomain.InvoiceStatusPending,
	}).Error)
	// Canceled rows are excluded.
	assert.NoError(t, db.Create(&invoicedomain.Invoice{
		ID: node.Generate(), StudentID: studentID,
		ReferenceSeq: 3, ReferenceCode: "TUI-000003",
		DueDate: time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC),
		Amount:  decimal.RequireFromString("999.00"),
		FineRate: twoRate, InterestRate: oneRate,
		Status: invoicedomain.InvoiceStatusCanceled,
	}).Error)

	summary, err := svc.Summary(context.Background(), studentID.String())
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.CountPending)
	assert.Equal(t, "1200.00", summary.TotalPendingAmount.StringFixed(2))
	assert.Equal(t, "1240.00", summary.TotalPendingWithFees.StringFixed(2))
	assert.True(t, summary.HasCurrentTermEnrollment)
}

func TestDebtSummaryInvalidStudent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:debt_invalid?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Now().UTC()),
		Academic: &mockAcademic{},
	})

	_, err = svc.Summary(context.Background(), "abc")
	assert.ErrorIs(t, err, debtdomain.ErrInvalidStudent)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/studiva/campusbill/internal/clock"
	"github.com/studiva/campusbill/internal/config"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	paymentdomain "github.com/studiva/campusbill/internal/payment/domain"
	"github.com/studiva/campusbill/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, dsn string, now time.Time) (*Service, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}, &paymentdomain.Payment{}))

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFakeClock(now)

	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	}).(*Service)

	return svc, db, fake, node
}

func createInvoice(t *testing.T, svc *Service, node *snowflake.Node, amount string, due time.Time) invoicedomain.InvoiceView {
	t.Helper()
	view, err := svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		StudentID:   node.Generate().String(),
		Description: "Tuition",
		DueDate:     due,
		Amount:      decimal.RequireFromString(amount),
	})
	assert.NoError(t, err)
	return view
}

func TestCreateInvoice_AssignsSequentialReferenceCodes(t *testing.T) {
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_refcodes?mode=memory&cache=shared", now)

	due := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	first := createInvoice(t, svc, node, "1000.00", due)
	second := createInvoice(t, svc, node, "500.00", due)

	assert.Equal(t, "TUI-000001", first.ReferenceCode)
	assert.Equal(t, "TUI-000002", second.ReferenceCode)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, first.Status)
	assert.Equal(t, "2", first.FineRate.String())
	assert.Equal(t, "1", first.InterestRate.String())
}

func TestCreateInvoice_Validation(t *testing.T) {
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_validation?mode=memory&cache=shared", now)

	_, err := svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		StudentID: node.Generate().String(),
		DueDate:   now,
		Amount:    decimal.Zero,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidAmount)

	_, err = svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		StudentID: node.Generate().String(),
		Amount:    decimal.RequireFromString("10.00"),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidDueDate)

	_, err = svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		StudentID: "not-a-number",
		DueDate:   now,
		Amount:    decimal.RequireFromString("10.00"),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStudent)
}

func TestGetByID_ComputesAmountDue(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_amount_due?mode=memory&cache=shared", now)

	due := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	created := createInvoice(t, svc, node, "1000.00", due)

	view, err := svc.GetByID(context.Background(), created.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, "1040.00", view.AmountDue.StringFixed(2))
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, view.EffectiveStatus)
	// Stored status stays PENDING until a transition persists it.
	assert.Equal(t, invoicedomain.InvoiceStatusPending, view.Status)
}

func TestMarkOverdue_Idempotent(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_overdue?mode=memory&cache=shared", now)

	due := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	created := createInvoice(t, svc, node, "1000.00", due)

	view, err := svc.MarkOverdue(context.Background(), created.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, view.Status)

	view, err = svc.MarkOverdue(context.Background(), created.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, view.Status)
}

func TestMarkOverdue_RejectsBeforeDueDate(t *testing.T) {
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_overdue_early?mode=memory&cache=shared", now)

	due := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	created := createInvoice(t, svc, node, "1000.00", due)

	_, err := svc.MarkOverdue(context.Background(), created.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)
}

func TestMarkPaid_AndTerminalTransitions(t *testing.T) {
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_paid?mode=memory&cache=shared", now)

	due := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	created := createInvoice(t, svc, node, "1000.00", due)

	view, err := svc.MarkPaid(context.Background(), created.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, view.Status)
	assert.NotNil(t, view.PaidAt)
	assert.True(t, view.AmountDue.IsZero())

	_, err = svc.MarkPaid(context.Background(), created.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)

	_, err = svc.Cancel(context.Background(), created.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)

	_, err = svc.MarkOverdue(context.Background(), created.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)
}

func TestCancel_RejectsSettledPayment(t *testing.T) {
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	svc, db, _, node := newTestService(t, "file:invoice_cancel_settled?mode=memory&cache=shared", now)

	due := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	created := createInvoice(t, svc, node, "1000.00", due)

	settledAt := now
	assert.NoError(t, db.Create(&paymentdomain.Payment{
		ID:          node.Generate(),
		InvoiceID:   created.ID,
		ReceiptCode: "01HTESTRECEIPT00000000CANCEL",
		Amount:      decimal.RequireFromString("400.00"),
		Method:      "card",
		Status:      paymentdomain.PaymentStatusSettled,
		SettledAt:   &settledAt,
	}).Error)

	_, err := svc.Cancel(context.Background(), created.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrSettledPayment)

	view, err := svc.GetByID(context.Background(), created.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, view.Status)
}

func TestCancel_Succeeds(t *testing.T) {
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_cancel_ok?mode=memory&cache=shared", now)

	due := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	created := createInvoice(t, svc, node, "1000.00", due)

	view, err := svc.Cancel(context.Background(), created.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusCanceled, view.Status)
	assert.True(t, view.AmountDue.IsZero())
}

func TestUpdate_OnlyWhileOpen(t *testing.T) {
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_update?mode=memory&cache=shared", now)

	due := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	created := createInvoice(t, svc, node, "1000.00", due)

	newDesc := "Tuition adjusted"
	newDue := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	view, err := svc.Update(context.Background(), invoicedomain.UpdateInvoiceRequest{
		ID:          created.ID.String(),
		Description: &newDesc,
		DueDate:     &newDue,
	})
	assert.NoError(t, err)
	assert.Equal(t, "Tuition adjusted", view.Description)
	assert.True(t, view.DueDate.Equal(newDue))

	_, err = svc.MarkPaid(context.Background(), created.ID.String())
	assert.NoError(t, err)

	_, err = svc.Update(context.Background(), invoicedomain.UpdateInvoiceRequest{
		ID:          created.ID.String(),
		Description: &newDesc,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceImmutable)
}

func TestList_FiltersAndCursor(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_list?mode=memory&cache=shared", now)

	studentID := node.Generate().String()
	pastDue := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	futureDue := time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
			StudentID:   studentID,
			Description: "Tuition",
			DueDate:     pastDue,
			Amount:      decimal.RequireFromString("100.00"),
		})
		assert.NoError(t, err)
	}
	_, err := svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		StudentID:   studentID,
		Description: "Lab fee",
		DueDate:     futureDue,
		Amount:      decimal.RequireFromString("50.00"),
	})
	assert.NoError(t, err)

	// Effective-status filter: the past-due rows count as OVERDUE even while
	// stored PENDING.
	resp, err := svc.List(context.Background(), invoicedomain.ListInvoiceRequest{
		StudentID: studentID,
		Status:    "OVERDUE",
	})
	assert.NoError(t, err)
	assert.Len(t, resp.Invoices, 3)
	for _, view := range resp.Invoices {
		assert.Equal(t, invoicedomain.InvoiceStatusOverdue, view.EffectiveStatus)
	}

	resp, err = svc.List(context.Background(), invoicedomain.ListInvoiceRequest{
		StudentID: studentID,
		Status:    "PENDING",
	})
	assert.NoError(t, err)
	assert.Len(t, resp.Invoices, 1)
	assert.Equal(t, "Lab fee", resp.Invoices[0].Description)

	resp, err = svc.List(context.Background(), invoicedomain.ListInvoiceRequest{
		StudentID: studentID,
		Query:     "Lab",
	})
	assert.NoError(t, err)
	assert.Len(t, resp.Invoices, 1)

	// Cursor pagination walks the whole set without duplicates.
	seen := map[string]bool{}
	token := ""
	for {
		page, err := svc.List(context.Background(), invoicedomain.ListInvoiceRequest{
			Pagination: paginationWith(token, 2),
			StudentID:  studentID,
		})
		assert.NoError(t, err)
		for _, view := range page.Invoices {
			assert.False(t, seen[view.ID.String()])
			seen[view.ID.String()] = true
		}
		if !page.HasMore {
			break
		}
		token = page.NextPageToken
	}
	assert.Len(t, seen, 4)
}

func TestSummary(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	svc, _, _, node := newTestService(t, "file:invoice_summary?mode=memory&cache=shared", now)

	studentID := node.Generate().String()
	overdueDue := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	pendingDue := time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		StudentID: studentID, Description: "Tuition", DueDate: overdueDue,
		Amount: decimal.RequireFromString("1000.00"),
	})
	assert.NoError(t, err)
	pending, err := svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		StudentID: studentID, Description: "Tuition", DueDate: pendingDue,
		Amount: decimal.RequireFromString("200.00"),
	})
	assert.NoError(t, err)
	paid, err := svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		StudentID: studentID, Description: "Tuition", DueDate: pendingDue,
		Amount: decimal.RequireFromString("300.00"),
	})
	assert.NoError(t, err)
	_, err = svc.MarkPaid(context.Background(), paid.ID.String())
	assert.NoError(t, err)

	summary, err := svc.Summary(context.Background(), invoicedomain.SummaryRequest{StudentID: studentID})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), summary.CountPending)
	assert.Equal(t, int64(1), summary.CountOverdue)
	assert.Equal(t, int64(1), summary.CountPaid)
	assert.Equal(t, "200.00", summary.TotalPending.StringFixed(2))
	// 1000 + 2% fine + 2 months at 1%.
	assert.Equal(t, "1040.00", summary.TotalOverdue.StringFixed(2))
	assert.Equal(t, "300.00", summary.TotalPaid.StringFixed(2))
	_ = pending
}

func paginationWith(token string, size int) pagination.Pagination {
	return pagination.Pagination{PageToken: token, PageSize: size}
}

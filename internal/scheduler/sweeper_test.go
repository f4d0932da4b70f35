package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/studiva/campusbill/internal/clock"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestSweeper(t *testing.T, dsn string, now time.Time, batchSize int) (*Sweeper, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}))

	node, _ := snowflake.NewNode(1)
	sweeper, err := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(now),
		Config: Config{BatchSize: batchSize},
	})
	assert.NoError(t, err)

	return sweeper, db, node
}

func seedSweepInvoice(t *testing.T, db *gorm.DB, node *snowflake.Node, seq int64, due time.Time, status invoicedomain.InvoiceStatus) snowflake.ID {
	t.Helper()
	id := node.Generate()
	assert.NoError(t, db.Create(&invoicedomain.Invoice{
		ID:            id,
		StudentID:     node.Generate(),
		ReferenceSeq:  seq,
		ReferenceCode: fmt.Sprintf("TUI-%06d", seq),
		Description:   "Tuition",
		DueDate:       due,
		Amount:        decimal.RequireFromString("1000.00"),
		FineRate:      decimal.NewFromInt(2),
		InterestRate:  decimal.NewFromInt(1),
		Status:        status,
	}).Error)
	return id
}

func TestSweepBatch_MarksPastDuePending(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	past := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	future := time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC)
	sweeper, db, node := newTestSweeper(t, "file:sweep_batch?mode=memory&cache=shared", now, 10)

	pastDueID := seedSweepInvoice(t, db, node, 1, past, invoicedomain.InvoiceStatusPending)
	futureID := seedSweepInvoice(t, db, node, 2, future, invoicedomain.InvoiceStatusPending)
	paidID := seedSweepInvoice(t, db, node, 3, past, invoicedomain.InvoiceStatusPaid)

	processed, err := sweeper.SweepBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, processed)

	var stored invoicedomain.Invoice
	assert.NoError(t, db.Where("id = ?", pastDueID).Take(&stored).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, stored.Status)

	stored = invoicedomain.Invoice{}
	assert.NoError(t, db.Where("id = ?", futureID).Take(&stored).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, stored.Status)

	stored = invoicedomain.Invoice{}
	assert.NoError(t, db.Where("id = ?", paidID).Take(&stored).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, stored.Status)
}

func TestSweepBatch_Idempotent(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	past := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	sweeper, db, node := newTestSweeper(t, "file:sweep_idem?mode=memory&cache=shared", now, 10)

	seedSweepInvoice(t, db, node, 1, past, invoicedomain.InvoiceStatusPending)

	processed, err := sweeper.SweepBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, processed)

	processed, err = sweeper.SweepBatch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestRunOnce_DrainsInBatches(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	past := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	sweeper, db, node := newTestSweeper(t, "file:sweep_drain?mode=memory&cache=shared", now, 2)

	for seq := int64(1); seq <= 5; seq++ {
		seedSweepInvoice(t, db, node, seq, past, invoicedomain.InvoiceStatusPending)
	}

	assert.NoError(t, sweeper.RunOnce(context.Background()))

	var remaining int64
	assert.NoError(t, db.Model(&invoicedomain.Invoice{}).
		Where("status = ?", invoicedomain.InvoiceStatusPending).
		Count(&remaining).Error)
	assert.Zero(t, remaining)
}

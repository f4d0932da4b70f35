package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/studiva/campusbill/internal/audit/domain"
	auditcontext "github.com/studiva/campusbill/internal/auditcontext"
	"github.com/studiva/campusbill/internal/clock"
	invoicedomain "github.com/studiva/campusbill/internal/invoice/domain"
	"github.com/studiva/campusbill/internal/observability/metrics"
	"github.com/studiva/campusbill/internal/ratelimit"
	pkgdb "github.com/studiva/campusbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	AuditSvc auditdomain.Service
	Limiter  *ratelimit.PaymentLimiter `optional:"true"`
	Metrics  *metrics.Metrics          `optional:"true"`
	Config   Config                    `optional:"true"`
}

// Sweeper persists the OVERDUE status for invoices whose due date has passed.
// Reads already present the effective status, so the sweep exists for
// reporting queries and downstream consumers that look at the stored column.
type Sweeper struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	audit   auditdomain.Service
	limiter *ratelimit.PaymentLimiter
	metrics *metrics.Metrics
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "overdue_sweep")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		audit:   p.AuditSvc,
		limiter: p.Limiter,
		metrics: p.Metrics,
	}, nil
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("overdue sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce drains everything currently past due, batch by batch. When redis
// arbitration is configured, only the instance holding the sweep lock runs.
func (s *Sweeper) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "overdue_sweep")

	if s.limiter.Enabled() {
		token, ok, err := s.limiter.TryLockSweep(ctx)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("overdue sweep already running elsewhere")
			return nil
		}
		defer func() {
			if err := s.limiter.ReleaseSweep(context.WithoutCancel(ctx), token); err != nil {
				s.log.Warn("sweep lock release failed", zap.Error(err))
			}
		}()
	}

	total := 0
	for {
		processed, err := s.SweepBatch(ctx)
		if err != nil {
			return err
		}
		total += processed
		if processed < s.cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		s.log.Info("overdue sweep finished", zap.Int("invoices", total))
	}
	return nil
}

type sweepRow struct {
	ID            snowflake.ID
	ReferenceCode string
}

// SweepBatch flips at most one batch of past-due PENDING invoices to OVERDUE.
func (s *Sweeper) SweepBatch(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()

	var rows []sweepRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows = rows[:0]
		if err := tx.WithContext(ctx).Raw(
			`SELECT id, reference_code
			 FROM invoices
			 WHERE status = ? AND due_date < ?
			 ORDER BY due_date
			 LIMIT ?`+pkgdb.SkipLockedSuffix(tx),
			invoicedomain.InvoiceStatusPending,
			now,
			s.cfg.BatchSize,
		).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, updated_at = ? WHERE id IN ?`,
			invoicedomain.InvoiceStatusOverdue,
			now,
			ids,
		).Error
	})
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		s.emitAudit(ctx, row)
		s.metrics.RecordTransition(ctx, string(invoicedomain.InvoiceStatusPending), string(invoicedomain.InvoiceStatusOverdue))
	}
	s.metrics.RecordOverdueSweep(ctx, int64(len(rows)))

	return len(rows), nil
}

func (s *Sweeper) emitAudit(ctx context.Context, row sweepRow) {
	if s.audit == nil {
		return
	}
	targetID := row.ID.String()
	metadata := map[string]any{
		"reference_code": row.ReferenceCode,
		"from":           string(invoicedomain.InvoiceStatusPending),
		"to":             string(invoicedomain.InvoiceStatusOverdue),
	}
	if err := s.audit.AuditLog(ctx, "", nil, auditdomain.ActionInvoiceMarkedOverdue, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
}

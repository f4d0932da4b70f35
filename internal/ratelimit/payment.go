package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/studiva/campusbill/internal/config"
)

const (
	keyPaymentInvoice  = "payment:record:invoice:%s"
	keyOverdueSweepRun = "sweep:overdue:run"
)

// PaymentLimiter throttles payment recording per invoice and arbitrates which
// instance runs the overdue sweep. Disabled limiters admit everything, so a
// redis outage or an empty config never blocks payments.
type PaymentLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewPaymentLimiter(cfg config.Config) (*PaymentLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.PaymentRate <= 0 || limitCfg.PaymentBurst <= 0 {
		return nil, errors.New("payment rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &PaymentLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.PaymentRate,
		burst:   limitCfg.PaymentBurst,
		lockTTL: time.Duration(cfg.Sweep.LockTTLSeconds) * time.Second,
	}, nil
}

func (l *PaymentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowPayment admits or rejects one payment attempt against the invoice's
// bucket.
func (l *PaymentLimiter) AllowPayment(ctx context.Context, invoiceID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPaymentInvoice, strings.TrimSpace(invoiceID)), l.rate, l.burst)
}

// TryLockSweep claims the overdue-sweep slot so concurrent instances do not
// scan the same invoices.
func (l *PaymentLimiter) TryLockSweep(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keyOverdueSweepRun, l.lockTTL)
}

func (l *PaymentLimiter) ReleaseSweep(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keyOverdueSweepRun, token)
}

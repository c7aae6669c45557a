package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/cabofitpass/backend/internal/config"
	"github.com/cabofitpass/backend/internal/metrics"
)

// Retrier reruns whole transactions that failed on a transient store error.
type Retrier struct {
	maxAttempts uint
	initial     time.Duration
	max         time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewRetrier(cfg config.RetryConfig, m *metrics.Metrics, logger *zap.Logger) *Retrier {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		maxAttempts: cfg.MaxAttempts,
		initial:     cfg.InitialInterval,
		max:         cfg.MaxInterval,
		metrics:     m,
		logger:      logger,
	}
}

func (r *Retrier) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.initial > 0 {
		b.InitialInterval = r.initial
	}
	if r.max > 0 {
		b.MaxInterval = r.max
	}
	return b
}

// withRetry runs fn until it succeeds, returns a non-retryable error, or
// the attempt budget is spent. A nil Retrier runs fn once.
func withRetry[T any](ctx context.Context, r *Retrier, operation string, fn func() (T, error)) (T, error) {
	if r == nil {
		return fn()
	}

	op := func() (T, error) {
		res, err := fn()
		if err != nil && !IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, wait time.Duration) {
		r.metrics.Retry(operation)
		r.logger.Warn("retrying after transient store error",
			zap.String("operation", operation),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithNotify(notify),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

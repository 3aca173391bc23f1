package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

// Retry defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
	DefaultWriteBatchSize = 1000
)

// RetryPolicy bounds how persistence writes are retried.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts including the first
	InitialBackoff time.Duration // delay before the second attempt
	MaxBackoff     time.Duration // cap on a single delay
	AttemptTimeout time.Duration // per-attempt deadline; 0 disables
}

// DefaultRetryPolicy returns the production retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultInitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// retryingWriter wraps a Persistence with bounded exponential backoff and
// splits large writes into atomic chunks.
type retryingWriter struct {
	store     Persistence
	policy    RetryPolicy
	batchSize int
	metrics   *Metrics
	logger    *slog.Logger
}

func newRetryingWriter(store Persistence, policy RetryPolicy, batchSize int, metrics *Metrics, logger *slog.Logger) *retryingWriter {
	if batchSize <= 0 {
		batchSize = DefaultWriteBatchSize
	}
	return &retryingWriter{
		store:     store,
		policy:    policy.withDefaults(),
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// InsertMany writes rows in chunks. Each chunk is retried independently; a
// chunk that exhausts its attempts stops the write with an error marked
// ErrInfrastructure. Chunks already written stay written.
func (w *retryingWriter) InsertMany(ctx context.Context, kind TableKind, rows []any) error {
	for start := 0; start < len(rows); start += w.batchSize {
		end := min(start+w.batchSize, len(rows))
		if err := w.insertChunk(ctx, kind, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *retryingWriter) insertChunk(ctx context.Context, kind TableKind, rows []any) error {
	attempts := 0
	op := func() error {
		attempts++
		actx, cancel := w.attemptContext(ctx)
		defer cancel()

		err := w.store.InsertMany(actx, kind, rows)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.metrics.writeRetried(kind)
		w.logger.Warn("persistence write failed, retrying",
			"table", kind,
			"rows", len(rows),
			"attempt", attempts,
			"next_backoff", next,
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, w.policy.backOff(ctx), notify)
	if err == nil {
		return nil
	}

	err = errors.WithDetailf(
		fmt.Errorf("insert %d %s rows failed after %d attempt(s): %w", len(rows), kind, attempts, err),
		"table=%s rows=%d attempts=%d", kind, len(rows), attempts,
	)
	return errors.Mark(err, ErrInfrastructure)
}

func (w *retryingWriter) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.policy.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.policy.AttemptTimeout)
}

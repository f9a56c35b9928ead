package txsubmit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultRetryInterval = 3 * time.Second

// Idempotent wraps a Submitter with duplicate suppression and
// sleep-and-retry. A batch that already settled within the TTL returns its
// original hash immediately; otherwise submission is retried until it
// succeeds or the context deadline expires, which the caller reports as a
// round timeout.
type Idempotent struct {
	inner    Submitter
	interval time.Duration
	seen     *settled
	logger   *slog.Logger
}

// NewIdempotent wraps inner. The TTL bounds how long a settled batch is
// remembered; it needs to exceed the longest round deadline.
func NewIdempotent(inner Submitter, interval, ttl time.Duration, logger *slog.Logger) *Idempotent {
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	return &Idempotent{
		inner:    inner,
		interval: interval,
		seen:     newSettled(ttl),
		logger:   logger.With(slog.String("component", "txsubmit")),
	}
}

// Submit implements Submitter.
func (s *Idempotent) Submit(ctx context.Context, batch Batch) (string, error) {
	fingerprint := batch.Fingerprint()
	if hash, ok := s.seen.get(fingerprint); ok {
		s.logger.Info("batch already settled, returning recorded hash",
			slog.String("batch_id", batch.ID), slog.String("tx_hash", hash))
		return hash, nil
	}

	for {
		hash, err := s.inner.Submit(ctx, batch)
		if err == nil {
			s.seen.put(fingerprint, hash)
			return hash, nil
		}
		s.logger.Warn("batch submission failed, retrying",
			slog.String("batch_id", batch.ID), slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("txsubmit: batch %s: %w", batch.ID, ctx.Err())
		case <-time.After(s.interval):
		}
	}
}

// Cleanup drops expired settlement records. Call it periodically from the
// runtime to bound memory.
func (s *Idempotent) Cleanup() {
	s.seen.cleanup()
}

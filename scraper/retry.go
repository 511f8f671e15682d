package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/metrics"
)

// retryPolicy retries transient fetch failures with capped exponential
// backoff. Attempts run synchronously on the caller's goroutine.
type retryPolicy struct {
	source      string
	maxAttempts int
	base        time.Duration
	max         time.Duration
	metrics     *metrics.Metrics
}

func newRetryPolicy(cfg config.SourceConfig, m *metrics.Metrics) retryPolicy {
	return retryPolicy{
		source:      cfg.Name,
		maxAttempts: cfg.MaxAttempts,
		base:        cfg.RetryBackoff,
		max:         cfg.RetryBackoffMax,
		metrics:     m,
	}
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := p.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if p.max > 0 && delay > p.max {
		delay = p.max
	}
	return delay
}

// do runs fn until it succeeds, returns a non-transient error, the attempt
// budget is spent or ctx is done. The last error is returned.
func (p retryPolicy) do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		p.metrics.IncError(p.source, errorTypeLabel(lastErr))
		if !IsTransient(lastErr) || attempt == attempts {
			break
		}

		delay := p.backoff(attempt)
		p.metrics.IncRetry(p.source)
		zap.L().Warn("fetch failed, retrying",
			zap.String("source", p.source),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("category", errorTypeLabel(lastErr)),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

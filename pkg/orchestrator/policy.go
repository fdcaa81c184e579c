package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_retries_total",
		Help: "Total number of retry attempts by loader and error class",
	}, []string{"loader", "error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by loader",
	}, []string{"loader"})
)

// ErrExhausted is matched by errors returned once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError carries the last failure of an exhausted retry loop.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrExhausted, e.Attempts, e.Err)
}

// Unwrap returns the last failure.
func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is matches ErrExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Retryable is false: an exhausted loop is not retried by outer layers.
func (e *ExhaustedError) Retryable() bool { return false }

// Policy is a bounded retry with a fixed delay between attempts.
type Policy struct {
	// Name labels metrics and logs.
	Name string

	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// Delay is the pause between attempts.
	Delay time.Duration
}

// DefaultPolicy returns the default policy: 3 attempts, 1s apart.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: 3,
		Delay:       1 * time.Second,
	}
}

// Observer sees every attempt. It is called with err == nil right before
// attempt n starts, and with the failure after attempt n fails.
type Observer func(attempt int, err error)

// Do runs op until it succeeds, fails with a non-retryable error, ctx is
// done, or MaxAttempts attempts have failed. Exhaustion is reported as
// *ExhaustedError; non-retryable errors are returned as they are without
// consuming further attempts.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, observe Observer) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		// retry.NewConstant panics on a non-positive duration
		delay = time.Nanosecond
	}
	name := p.Name
	if name == "" {
		name = "default"
	}

	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewConstant(delay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if observe != nil {
			observe(attempt, nil)
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("loader", name).
					Int("attempt", attempt).
					Msg("Load succeeded after retry")
			}
			return nil
		}

		if observe != nil {
			observe(attempt, err)
		}

		if ctx.Err() != nil || !client.IsRetryable(err) {
			return err
		}

		if attempt < maxAttempts {
			retriesTotal.WithLabelValues(name, string(client.ClassOf(err))).Inc()
			log.Warn().
				Err(err).
				Str("loader", name).
				Int("attempt", attempt).
				Dur("delay", p.Delay).
				Msg("Retrying load after delay")
		}
		return retry.RetryableError(err)
	})

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	if attempt >= maxAttempts && client.IsRetryable(err) {
		retryExhaustedTotal.WithLabelValues(name).Inc()
		log.Warn().
			Err(err).
			Str("loader", name).
			Int("max_attempts", maxAttempts).
			Msg("Retry attempts exhausted")
		return &ExhaustedError{Attempts: attempt, Err: err}
	}
	return err
}

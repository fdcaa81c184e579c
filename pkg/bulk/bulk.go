// Package bulk fans a mutating operation out over many item ids. Each item
// succeeds or fails on its own; there is no rollback. After every run the
// collection is reloaded and one aggregate notification is sent.
package bulk

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/Sternrassler/dashboard-sync/pkg/logging"
	"github.com/Sternrassler/dashboard-sync/pkg/notify"
	"github.com/Sternrassler/dashboard-sync/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_bulk_items_total",
		Help: "Bulk item outcomes by operation",
	}, []string{"operation", "outcome"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashsync_bulk_duration_seconds",
		Help:    "Bulk run duration in seconds by operation",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})
)

// Operation is a single-item mutation.
type Operation struct {
	// Name describes the operation in messages and metrics, e.g. "delete".
	Name string

	Apply func(ctx context.Context, id string) error
}

// Delete removes items from a collection.
func Delete(c *client.Client, endpoint string) Operation {
	return Operation{
		Name: "delete",
		Apply: func(ctx context.Context, id string) error {
			return c.Delete(ctx, endpoint, id)
		},
	}
}

// SetField sets one field on each item, e.g. a status change.
func SetField(c *client.Client, endpoint, field string, value any) Operation {
	return Operation{
		Name: "set " + field,
		Apply: func(ctx context.Context, id string) error {
			_, err := c.Update(ctx, endpoint, id, map[string]any{field: value})
			return err
		},
	}
}

// ItemFailure is one item that failed.
type ItemFailure struct {
	ID  string
	Err error
}

// Result of a bulk run. Every requested id is in exactly one of
// SucceededIDs and Failed, in request order.
type Result struct {
	SucceededIDs []string
	Failed       []ItemFailure

	// ReloadErr is the error of the reload that follows the run.
	ReloadErr error
}

// Total returns the number of ids processed.
func (r Result) Total() int {
	return len(r.SucceededIDs) + len(r.Failed)
}

// FailureReasons returns one "id: reason" line per failed item.
func (r Result) FailureReasons() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, fmt.Sprintf("%s: %v", f.ID, f.Err))
	}
	return out
}

// Reloader refreshes the collection after a run.
type Reloader func(ctx context.Context) error

// Config holds coordinator configuration.
type Config struct {
	// MaxConcurrency caps in-flight requests. Zero means unlimited.
	MaxConcurrency int

	// ThrottledConcurrency replaces MaxConcurrency while RateLimiter
	// reports a low budget.
	ThrottledConcurrency int

	RateLimiter *ratelimit.Tracker
	Notifier    notify.Notifier
	Reloader    Reloader
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:       0,
		ThrottledConcurrency: 2,
	}
}

// Coordinator runs bulk operations.
type Coordinator struct {
	config Config
	logger zerolog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop
	}
	if cfg.ThrottledConcurrency <= 0 {
		cfg.ThrottledConcurrency = DefaultConfig().ThrottledConcurrency
	}
	return &Coordinator{
		config: cfg,
		logger: logging.NewLogger("bulk"),
	}
}

// WithReloader returns a copy of c that reloads through r.
func (c *Coordinator) WithReloader(r Reloader) *Coordinator {
	cp := *c
	cp.config.Reloader = r
	return &cp
}

// Apply runs op once per distinct id, concurrently. Duplicate ids are
// applied once. Cancelling ctx fails the items that have not completed.
// An empty id list does nothing.
func (c *Coordinator) Apply(ctx context.Context, ids []string, op Operation) Result {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return Result{}
	}

	start := time.Now()
	limit := c.concurrency(ctx)
	errs := make([]error, len(unique))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range unique {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = op.Apply(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for i, id := range unique {
		if errs[i] != nil {
			res.Failed = append(res.Failed, ItemFailure{ID: id, Err: errs[i]})
			itemsTotal.WithLabelValues(op.Name, "failed").Inc()
			continue
		}
		res.SucceededIDs = append(res.SucceededIDs, id)
		itemsTotal.WithLabelValues(op.Name, "succeeded").Inc()
	}
	runDuration.WithLabelValues(op.Name).Observe(time.Since(start).Seconds())

	c.logger.Info().
		Str("operation", op.Name).
		Int("requested", len(ids)).
		Int("succeeded", len(res.SucceededIDs)).
		Int("failed", len(res.Failed)).
		Int("concurrency", limit).
		Dur("duration", time.Since(start)).
		Msg("Bulk operation complete")

	if c.config.Reloader != nil {
		// the reload runs even when ctx was cancelled mid-run
		reloadCtx := context.WithoutCancel(ctx)
		if err := c.config.Reloader(reloadCtx); err != nil {
			res.ReloadErr = err
			c.logger.Warn().Err(err).Str("operation", op.Name).Msg("Reload after bulk operation failed")
		}
	}

	c.config.Notifier.Notify(summarize(op.Name, res))
	return res
}

func (c *Coordinator) concurrency(ctx context.Context) int {
	limit := c.config.MaxConcurrency
	if c.config.RateLimiter != nil && c.config.RateLimiter.Throttled(ctx) {
		if limit <= 0 || limit > c.config.ThrottledConcurrency {
			limit = c.config.ThrottledConcurrency
		}
		c.logger.Warn().Int("concurrency", limit).Msg("Remote budget low, narrowing bulk fan-out")
	}
	return limit
}

func summarize(name string, res Result) notify.Notification {
	ok, failed := len(res.SucceededIDs), len(res.Failed)
	switch {
	case failed == 0:
		return notify.Notification{
			Severity: notify.SeveritySuccess,
			Message:  fmt.Sprintf("%s: %d of %d items succeeded", name, ok, res.Total()),
		}
	case ok == 0:
		return notify.Notification{
			Severity: notify.SeverityError,
			Message:  fmt.Sprintf("%s: all %d items failed", name, failed),
			Details:  res.FailureReasons(),
		}
	default:
		return notify.Notification{
			Severity: notify.SeverityWarning,
			Message:  fmt.Sprintf("%s: %d succeeded, %d failed", name, ok, failed),
			Details:  res.FailureReasons(),
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

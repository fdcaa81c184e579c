package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrTooManyPages is returned when a collection has more pages than
// Config.MaxPages allows in a working set.
var ErrTooManyPages = errors.New("collection exceeds working set page limit")

// Config holds page fan-out configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page requests.
	MaxConcurrency int

	// PageSize is the page size requested from the server.
	PageSize int

	// MaxPages bounds the working set.
	MaxPages int
}

// DefaultConfig returns the default fan-out configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		PageSize:       100,
		MaxPages:       50,
	}
}

// PageFunc fetches one page and reports the total page count.
type PageFunc[T any] func(ctx context.Context, page int) (items []T, totalPages int, err error)

// FetchAll fetches page 1 to learn the page count, then the remaining pages
// in parallel. Items are returned in page order. Any failing page fails the
// whole fetch: a partial working set would render wrong totals.
func FetchAll[T any](ctx context.Context, fetch PageFunc[T], cfg Config) ([]T, error) {
	defaults := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}

	start := time.Now()

	first, totalPages, err := fetch(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch page 1: %w", err)
	}
	if totalPages <= 1 {
		return first, nil
	}
	if totalPages > cfg.MaxPages {
		return nil, fmt.Errorf("%w: %d pages, limit %d", ErrTooManyPages, totalPages, cfg.MaxPages)
	}

	log.Debug().
		Int("total_pages", totalPages).
		Int("concurrency", cfg.MaxConcurrency).
		Msg("Starting parallel page fetch")

	pages := make([][]T, totalPages)
	pages[0] = first

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)
	for page := 2; page <= totalPages; page++ {
		g.Go(func() error {
			items, _, err := fetch(gctx, page)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", page, err)
			}
			pages[page-1] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range pages {
		total += len(p)
	}
	out := make([]T, 0, total)
	for _, p := range pages {
		out = append(out, p...)
	}

	log.Debug().
		Int("pages", totalPages).
		Int("items", len(out)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return out, nil
}

// ClientPages adapts client.FetchPage to a PageFunc. opts supplies the
// server-side filters; Page and PageSize are set per request.
func ClientPages[T any](c *client.Client, endpoint string, opts client.ListOptions, pageSize int) PageFunc[T] {
	if pageSize <= 0 {
		pageSize = DefaultConfig().PageSize
	}
	return func(ctx context.Context, page int) ([]T, int, error) {
		o := opts
		o.Page = page
		o.PageSize = pageSize
		p, err := client.FetchPage[T](ctx, c, endpoint, o)
		if err != nil {
			return nil, 0, err
		}
		return p.Items, p.Pagination.TotalPages, nil
	}
}

// Package session keeps one dashboard screen in sync with the remote. A
// Session owns the view parameters, load states, selection and the working
// data of the screen, and ties the client, the reference loader, the
// orchestrator, the view model and the bulk coordinator together.
//
// Load first loads the reference sets under the orchestrator (fallback
// guarded), then issues the primary fetch. Every primary fetch takes a
// sequence number; only the latest one is applied.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/bulk"
	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/Sternrassler/dashboard-sync/pkg/logging"
	"github.com/Sternrassler/dashboard-sync/pkg/notify"
	"github.com/Sternrassler/dashboard-sync/pkg/orchestrator"
	"github.com/Sternrassler/dashboard-sync/pkg/pagination"
	"github.com/Sternrassler/dashboard-sync/pkg/reference"
	"github.com/Sternrassler/dashboard-sync/pkg/view"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	staleResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_stale_responses_total",
		Help: "Primary responses dropped because a newer request was issued",
	}, []string{"screen"})

	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_loads_total",
		Help: "Primary loads by outcome",
	}, []string{"screen", "outcome"})
)

// ErrSuperseded is returned by a load whose response was dropped because a
// newer load was issued while it was in flight.
var ErrSuperseded = errors.New("load superseded by a newer request")

// supersededError stops the retry policy without consuming attempts.
type supersededError struct{}

func (supersededError) Error() string        { return ErrSuperseded.Error() }
func (supersededError) Is(target error) bool { return target == ErrSuperseded }
func (supersededError) Retryable() bool      { return false }

// Mode selects where the displayed page is computed.
type Mode int

const (
	// ModeServer passes server pages through. Param changes require a
	// reload by the caller.
	ModeServer Mode = iota

	// ModeClient fetches the working set once and derives every page with
	// the view model.
	ModeClient
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeClient {
		return "client"
	}
	return "server"
}

// Config holds session configuration.
type Config[T any] struct {
	// Name labels logs, metrics and notifications, e.g. "toys".
	Name string

	// Endpoint is the primary collection path, e.g. "/api/toys".
	Endpoint string

	// ID returns the stable unique id of an item.
	ID func(T) string

	Mode Mode

	// Schema is used by ModeClient to search, filter and sort.
	Schema view.Schema[T]

	PageSize int

	References    []reference.Spec
	ReferenceMode reference.Mode

	MaxAttempts     int
	Delay           time.Duration
	FallbackTimeout time.Duration

	// WorkingSet bounds the ModeClient fetch.
	WorkingSet pagination.Config

	Bulk bulk.Config

	Notifier notify.Notifier
}

// DefaultConfig returns a server-mode configuration for a screen.
func DefaultConfig[T any](name, endpoint string, id func(T) string) Config[T] {
	oc := orchestrator.DefaultConfig(name)
	return Config[T]{
		Name:            name,
		Endpoint:        endpoint,
		ID:              id,
		Mode:            ModeServer,
		PageSize:        20,
		ReferenceMode:   reference.ModePartial,
		MaxAttempts:     oc.MaxAttempts,
		Delay:           oc.Delay,
		FallbackTimeout: oc.FallbackTimeout,
		WorkingSet:      pagination.DefaultConfig(),
		Bulk:            bulk.DefaultConfig(),
	}
}

// Snapshot is a consistent copy of the session's displayed state.
type Snapshot[T any] struct {
	Items      []T
	Total      int
	TotalPages int
	Params     view.Params

	Primary    orchestrator.LoadState
	References orchestrator.LoadState

	// Sets are the loaded reference sets. Degraded is true when some
	// configured sets are missing.
	Sets     reference.Sets
	Degraded bool

	Selected []string
}

// Session is the controller of one screen.
type Session[T any] struct {
	id      string
	client  *client.Client
	config  Config[T]
	refs    *reference.Loader
	refOrch *orchestrator.Orchestrator
	policy  orchestrator.Policy
	bulk    *bulk.Coordinator
	logger  zerolog.Logger

	mu         sync.Mutex
	params     view.Params
	seq        uint64
	refsLoaded bool
	sets       reference.Sets
	degraded   bool
	primary    orchestrator.LoadState
	working    []T
	page       []T
	total      int
	totalPages int
	selection  map[string]struct{}
}

// New creates a session for a screen.
func New[T any](c *client.Client, cfg Config[T]) (*Session[T], error) {
	if c == nil {
		return nil, errors.New("client is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.ID == nil {
		return nil, errors.New("id accessor is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Endpoint
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop
	}

	id := uuid.NewString()
	logger := logging.ForSession(logging.NewLogger("session"), id).With().Str("screen", cfg.Name).Logger()

	s := &Session[T]{
		id:        id,
		client:    c,
		config:    cfg,
		refs:      reference.NewLoader(c),
		policy:    orchestrator.Policy{Name: cfg.Name, MaxAttempts: cfg.MaxAttempts, Delay: cfg.Delay},
		logger:    logger,
		params:    view.NewParams(cfg.PageSize),
		primary:   orchestrator.LoadState{MaxAttempts: cfg.MaxAttempts, Status: orchestrator.StatusIdle},
		selection: make(map[string]struct{}),
	}

	s.refOrch = orchestrator.New(orchestrator.Config{
		Name:            cfg.Name + " references",
		MaxAttempts:     cfg.MaxAttempts,
		Delay:           cfg.Delay,
		FallbackTimeout: cfg.FallbackTimeout,
		Notifier:        cfg.Notifier,
	})

	bc := cfg.Bulk
	bc.Notifier = cfg.Notifier
	bc.Reloader = s.reload
	s.bulk = bulk.NewCoordinator(bc)

	return s, nil
}

// ID returns the session id.
func (s *Session[T]) ID() string {
	return s.id
}

// Params returns the current view parameters.
func (s *Session[T]) Params() view.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Snapshot returns the displayed state.
func (s *Session[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]T, len(s.page))
	copy(items, s.page)
	return Snapshot[T]{
		Items:      items,
		Total:      s.total,
		TotalPages: s.totalPages,
		Params:     s.params,
		Primary:    s.primary,
		References: s.refOrch.State(),
		Sets:       s.sets,
		Degraded:   s.degraded,
		Selected:   s.selectedLocked(),
	}
}

// Load loads the reference sets, unless they already loaded, then the
// primary collection. A reference failure does not prevent the primary
// fetch; the screen renders degraded. ErrSuperseded means a newer load
// replaced this one.
func (s *Session[T]) Load(ctx context.Context) error {
	s.ensureReferences(ctx, false)
	return s.fetchPrimary(ctx)
}

// Retry is the manual retry: it restarts the reference cycle when the sets
// are missing and issues a new primary fetch. Responses of earlier loads
// are discarded.
func (s *Session[T]) Retry(ctx context.Context) error {
	s.logger.Info().Msg("Manual retry requested")
	s.ensureReferences(ctx, true)
	return s.fetchPrimary(ctx)
}

// Reload issues a new primary fetch with the current parameters. It is the
// reload the caller triggers after a param change in ModeServer.
func (s *Session[T]) Reload(ctx context.Context) error {
	return s.fetchPrimary(ctx)
}

func (s *Session[T]) reload(ctx context.Context) error {
	err := s.fetchPrimary(ctx)
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	return err
}

func (s *Session[T]) ensureReferences(ctx context.Context, retry bool) {
	if len(s.config.References) == 0 {
		return
	}
	s.mu.Lock()
	loaded := s.refsLoaded
	s.mu.Unlock()
	if loaded {
		return
	}

	var (
		st  orchestrator.Settlement
		err error
	)
	if retry {
		st, err = s.refOrch.Retry(ctx, s.loadReferences)
	} else {
		st, err = s.refOrch.Run(ctx, s.loadReferences)
	}
	if errors.Is(err, orchestrator.ErrCycleInProgress) {
		// the primary fetch still waits for the running cycle (or its fallback)
		s.logger.Debug().Msg("Reference load already in progress, waiting")
		if err := s.refOrch.Wait(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("Stopped waiting for reference load")
		}
		return
	}

	if st.Reason != orchestrator.Succeeded {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		s.logger.Warn().
			Str("reason", string(st.Reason)).
			Err(st.Err).
			Msg("Reference sets incomplete, rendering degraded")
	}
}

func (s *Session[T]) loadReferences(ctx context.Context) error {
	return s.storeReferences(s.refs.Load(ctx, s.config.References, s.config.ReferenceMode))
}

func (s *Session[T]) refreshReferences(ctx context.Context) error {
	return s.storeReferences(s.refs.Refresh(ctx, s.config.References, s.config.ReferenceMode))
}

func (s *Session[T]) storeReferences(res *reference.Result, err error) error {
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = res.Sets
	s.degraded = res.Degraded()
	if !res.Degraded() {
		s.refsLoaded = true
	}
	return res.Err()
}

// RefreshReferences drops the cached reference sets and loads them again,
// replacing any reference cycle in flight.
func (s *Session[T]) RefreshReferences(ctx context.Context) error {
	if len(s.config.References) == 0 {
		return nil
	}
	s.mu.Lock()
	s.refsLoaded = false
	s.mu.Unlock()

	st, err := s.refOrch.Retry(ctx, s.refreshReferences)
	if err != nil {
		return err
	}
	return st.Err
}

type fetched[T any] struct {
	items      []T
	total      int
	totalPages int
}

func (s *Session[T]) fetchPrimary(ctx context.Context) error {
	for {
		s.mu.Lock()
		s.seq++
		seq := s.seq
		params := s.params
		s.primary = orchestrator.LoadState{MaxAttempts: s.config.MaxAttempts, Status: orchestrator.StatusLoading}
		s.mu.Unlock()

		start := time.Now()
		var out fetched[T]
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			if !s.current(seq) {
				return supersededError{}
			}
			var err error
			out, err = s.fetch(ctx, params)
			return err
		}, func(attempt int, err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.seq != seq {
				return
			}
			s.primary.Attempt = attempt
			if err != nil {
				s.primary.LastError = err
			}
		})

		s.mu.Lock()
		if s.seq != seq {
			s.mu.Unlock()
			staleResponsesTotal.WithLabelValues(s.config.Name).Inc()
			loadsTotal.WithLabelValues(s.config.Name, "stale").Inc()
			s.logger.Warn().Uint64("seq", seq).Msg("Dropping stale response")
			return ErrSuperseded
		}

		if err != nil {
			s.primary.Status = orchestrator.StatusFailed
			s.primary.LastError = err
			attempt := s.primary.Attempt
			s.mu.Unlock()
			s.failed(err, attempt)
			return err
		}

		s.primary.Status = orchestrator.StatusSuccess
		s.primary.LastError = nil
		clamped := s.applyLocked(out)
		s.mu.Unlock()

		if clamped && s.config.Mode == ModeServer {
			s.logger.Debug().Uint64("seq", seq).Msg("Page beyond last page, reloading page 1")
			continue
		}

		loadsTotal.WithLabelValues(s.config.Name, "success").Inc()
		s.logger.Info().
			Uint64("seq", seq).
			Str("mode", s.config.Mode.String()).
			Int("items", len(out.items)).
			Dur("duration", time.Since(start)).
			Msg("Load complete")
		return nil
	}
}

func (s *Session[T]) failed(err error, attempt int) {
	outcome := "failed"
	msg := fmt.Sprintf("Loading %s failed: %v", s.config.Name, err)
	if errors.Is(err, orchestrator.ErrExhausted) {
		outcome = "exhausted"
		msg = fmt.Sprintf("Loading %s failed after %d attempts: %v", s.config.Name, attempt, errors.Unwrap(err))
	}
	loadsTotal.WithLabelValues(s.config.Name, outcome).Inc()
	if errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Msg("Load cancelled")
		return
	}
	s.logger.Error().Err(err).Str("error_class", string(client.ClassOf(err))).Int("attempt", attempt).Msg("Load failed")
	s.config.Notifier.Notify(notify.Notification{Severity: notify.SeverityError, Message: msg})
}

func (s *Session[T]) current(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq == seq
}

func (s *Session[T]) fetch(ctx context.Context, p view.Params) (fetched[T], error) {
	if s.config.Mode == ModeClient {
		cfg := s.config.WorkingSet
		items, err := pagination.FetchAll(ctx,
			pagination.ClientPages[T](s.client, s.config.Endpoint, client.ListOptions{}, cfg.PageSize), cfg)
		if err != nil {
			return fetched[T]{}, err
		}
		return fetched[T]{items: items}, nil
	}

	page, err := client.FetchPage[T](ctx, s.client, s.config.Endpoint, ListOptions(p))
	if err != nil {
		return fetched[T]{}, err
	}
	return fetched[T]{
		items:      page.Items,
		total:      page.Pagination.Total,
		totalPages: page.Pagination.TotalPages,
	}, nil
}

// applyLocked installs a fetch result and reports whether the page had to
// be reset to 1 because it is beyond the last page.
func (s *Session[T]) applyLocked(out fetched[T]) bool {
	if s.config.Mode == ModeClient {
		s.working = out.items
		return s.recomputeLocked()
	}

	s.page = out.items
	s.total = out.total
	s.totalPages = out.totalPages
	if s.params.Page > s.totalPages && s.totalPages > 0 {
		s.params = s.params.WithPage(1)
		return true
	}
	s.pruneLocked()
	return false
}

// recomputeLocked derives the page from the working set. It clamps to page
// 1 when the page is beyond the last page.
func (s *Session[T]) recomputeLocked() bool {
	res := view.Compute(s.working, s.config.Schema, s.params)
	s.total = res.TotalFiltered
	s.totalPages = view.TotalPages(res.TotalFiltered, s.params.PageSize)

	clamped := false
	if s.params.Page > s.totalPages && s.totalPages > 0 {
		s.params = s.params.WithPage(1)
		res = view.Compute(s.working, s.config.Schema, s.params)
		clamped = true
	}
	s.page = res.PageItems
	s.pruneLocked()
	return clamped
}

// ListOptions maps view parameters to the remote query. Equality facets
// become filters, facets with bounds become ranges.
func ListOptions(p view.Params) client.ListOptions {
	opts := client.ListOptions{
		Search:    p.Search,
		SortField: p.SortKey,
		Page:      p.Page,
		PageSize:  p.PageSize,
	}
	if p.SortDirection == view.Desc {
		opts.SortDirection = client.SortDesc
	} else {
		opts.SortDirection = client.SortAsc
	}
	for _, name := range p.ActiveFacets() {
		f := p.Facets[name]
		if f.Value != "" {
			if opts.Filters == nil {
				opts.Filters = make(map[string]string)
			}
			opts.Filters[name] = f.Value
		}
		if f.Min != nil || f.Max != nil {
			if opts.Ranges == nil {
				opts.Ranges = make(map[string]client.Range)
			}
			opts.Ranges[name] = client.Range{Min: f.Min, Max: f.Max}
		}
	}
	return opts
}

// Package orchestrator runs load cycles: bounded retries with a fixed delay,
// raced against a fallback timer so a screen never waits on a slow loader
// indefinitely.
//
// A cycle moves Idle -> Attempting(1) -> ... and settles as Succeeded,
// Exhausted (every attempt failed with a retryable error), Failed (terminal
// error) or FallbackFired. When the fallback fires first the cycle keeps
// running; its later outcome still updates the LoadState.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var fallbackFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dashsync_fallback_fired_total",
	Help: "Total number of load cycles released by the fallback timer",
}, []string{"loader"})

// ErrCycleInProgress is returned by Run while a cycle is attempting.
var ErrCycleInProgress = errors.New("load cycle already in progress")

// Status of a loader.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// LoadState is the observable state of one loader. Attempt is monotonic
// within a cycle and reset when the next cycle starts.
type LoadState struct {
	Attempt       int
	MaxAttempts   int
	Status        Status
	LastError     error
	FallbackFired bool
}

// Reason a cycle settled.
type Reason string

const (
	Succeeded     Reason = "succeeded"
	Exhausted     Reason = "exhausted"
	Failed        Reason = "failed"
	FallbackFired Reason = "fallback_fired"
	Cancelled     Reason = "cancelled"
)

// Settlement is the first outcome of a cycle.
type Settlement struct {
	Reason Reason
	Err    error
	State  LoadState
}

// Op is one load attempt.
type Op func(ctx context.Context) error

// Config holds orchestrator configuration.
type Config struct {
	// Name labels metrics, logs and notifications.
	Name string

	MaxAttempts int
	Delay       time.Duration

	// FallbackTimeout releases the caller when the cycle has not settled in
	// time. Zero disables the fallback.
	FallbackTimeout time.Duration

	Notifier notify.Notifier

	// OnUpdate, when set, receives every LoadState change. It runs under the
	// orchestrator's lock and must not call back into it.
	OnUpdate func(LoadState)
}

// DefaultConfig returns the default configuration for a loader.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		MaxAttempts:     3,
		Delay:           1000 * time.Millisecond,
		FallbackTimeout: 5000 * time.Millisecond,
	}
}

// Orchestrator drives load cycles for one loader.
type Orchestrator struct {
	config Config
	policy Policy
	logger zerolog.Logger

	mu         sync.Mutex
	state      LoadState
	generation uint64
	attempting bool
	cancel     context.CancelFunc
	done       chan struct{}
	settled    chan struct{}
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop
	}
	return &Orchestrator{
		config: cfg,
		policy: Policy{Name: cfg.Name, MaxAttempts: cfg.MaxAttempts, Delay: cfg.Delay},
		logger: log.With().Str("component", "orchestrator").Str("loader", cfg.Name).Logger(),
		state:  LoadState{MaxAttempts: cfg.MaxAttempts, Status: StatusIdle},
	}
}

// State returns a snapshot of the current LoadState.
func (o *Orchestrator) State() LoadState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Attempting reports whether a cycle is in flight.
func (o *Orchestrator) Attempting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempting
}

// Done returns a channel closed when the current cycle ends, including any
// background continuation after the fallback fired.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.done
}

// Settled returns a channel closed when the current cycle first settles:
// it succeeded, failed, was exhausted or its fallback fired.
func (o *Orchestrator) Settled() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.settled == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.settled
}

// Wait blocks until the current cycle settles or ctx is done. A Retry that
// replaces the cycle while waiting is followed to its own settlement.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		ch := o.Settled()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		if o.Settled() == ch {
			return nil
		}
	}
}

// Run starts a cycle and blocks until it settles. It returns
// ErrCycleInProgress without side effects while a cycle is attempting.
// The cycle lives as long as ctx.
func (o *Orchestrator) Run(ctx context.Context, op Op) (Settlement, error) {
	o.mu.Lock()
	if o.attempting {
		o.mu.Unlock()
		return Settlement{}, ErrCycleInProgress
	}
	return o.start(ctx, op)
}

// Retry abandons the current cycle, if any, and starts a fresh one with the
// attempt counter reset. Outcomes of the abandoned cycle are discarded.
func (o *Orchestrator) Retry(ctx context.Context, op Op) (Settlement, error) {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.attempting = false
	o.logger.Info().Msg("Manual retry requested")
	return o.start(ctx, op)
}

// start must be called with o.mu held; it releases it.
func (o *Orchestrator) start(ctx context.Context, op Op) (Settlement, error) {
	o.generation++
	gen := o.generation

	cycleCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.attempting = true
	o.done = make(chan struct{})
	done := o.done
	o.settled = make(chan struct{})
	settledCh := o.settled
	o.state = LoadState{MaxAttempts: o.config.MaxAttempts, Status: StatusLoading}
	o.publishLocked()

	settled := make(chan Settlement, 1)
	var once sync.Once
	settle := func(s Settlement) {
		once.Do(func() {
			settled <- s
			close(settledCh)
		})
	}

	var timer *time.Timer
	if o.config.FallbackTimeout > 0 {
		timer = time.AfterFunc(o.config.FallbackTimeout, func() {
			o.mu.Lock()
			if o.generation != gen || !o.attempting {
				o.mu.Unlock()
				return
			}
			o.state.FallbackFired = true
			o.publishLocked()
			st := o.state
			o.mu.Unlock()

			fallbackFiredTotal.WithLabelValues(o.config.Name).Inc()
			o.logger.Warn().
				Int("attempt", st.Attempt).
				Dur("timeout", o.config.FallbackTimeout).
				Msg("Fallback timer fired, continuing load in background")
			settle(Settlement{Reason: FallbackFired, State: st})
		})
	}
	o.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()

		err := o.policy.Do(cycleCtx, op, func(attempt int, err error) {
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.generation != gen {
				return
			}
			o.state.Attempt = attempt
			if err != nil {
				o.state.LastError = err
			}
			o.publishLocked()
		})
		if timer != nil {
			timer.Stop()
		}

		o.mu.Lock()
		if o.generation != gen {
			o.mu.Unlock()
			settle(Settlement{Reason: Cancelled, Err: err})
			return
		}
		o.attempting = false

		var reason Reason
		switch {
		case err == nil:
			reason = Succeeded
			o.state.Status = StatusSuccess
			o.state.LastError = nil
		case errors.Is(err, ErrExhausted):
			reason = Exhausted
			o.state.Status = StatusFailed
			o.state.LastError = err
		case cycleCtx.Err() != nil:
			reason = Cancelled
			o.state.Status = StatusFailed
			o.state.LastError = err
		default:
			reason = Failed
			o.state.Status = StatusFailed
			o.state.LastError = err
		}
		o.publishLocked()
		st := o.state
		o.mu.Unlock()

		switch reason {
		case Succeeded:
			o.logger.Info().Int("attempt", st.Attempt).Msg("Load succeeded")
		case Exhausted:
			o.logger.Error().Err(err).Int("attempts", st.Attempt).Msg("Load failed, attempts exhausted")
			o.config.Notifier.Notify(notify.Notification{
				Severity: notify.SeverityError,
				Message:  fmt.Sprintf("Loading %s failed after %d attempts: %v", o.config.Name, st.Attempt, errors.Unwrap(err)),
			})
		case Failed:
			o.logger.Error().Err(err).Int("attempt", st.Attempt).Msg("Load failed")
			o.config.Notifier.Notify(notify.Notification{
				Severity: notify.SeverityError,
				Message:  fmt.Sprintf("Loading %s failed: %v", o.config.Name, err),
			})
		case Cancelled:
			o.logger.Debug().Err(err).Msg("Load cancelled")
		}

		settle(Settlement{Reason: reason, Err: err, State: st})
	}()

	return <-settled, nil
}

func (o *Orchestrator) publishLocked() {
	if o.config.OnUpdate != nil {
		o.config.OnUpdate(o.state)
	}
}

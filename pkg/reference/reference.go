// Package reference loads the reference sets a screen needs before it can
// render: brands, categories, statuses and the like. Sets are loaded
// concurrently; the loader itself never retries, that is the orchestrator's
// job.
package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/Sternrassler/dashboard-sync/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// ErrEmptySet is matched by failures of sets that loaded without entries.
// A screen cannot render facets from an empty set, so it is retryable.
var ErrEmptySet = errors.New("reference set is empty")

type emptySetError struct {
	name string
}

func (e *emptySetError) Error() string { return fmt.Sprintf("%v: %s", ErrEmptySet, e.name) }
func (e *emptySetError) Is(target error) bool { return target == ErrEmptySet }
func (e *emptySetError) Retryable() bool { return true }

// Mode selects how failures are reported.
type Mode int

const (
	// ModeStrict fails the whole load when any set fails.
	ModeStrict Mode = iota

	// ModePartial returns the sets that loaded alongside the failures.
	ModePartial
)

// Spec names a reference set and where to fetch it.
type Spec struct {
	Name     string
	Endpoint string

	// IDField and NameField are gjson paths into each record.
	// Defaults: "id" and "name".
	IDField   string
	NameField string
}

func (s Spec) idField() string {
	if s.IDField == "" {
		return "id"
	}
	return s.IDField
}

func (s Spec) nameField() string {
	if s.NameField == "" {
		return "name"
	}
	return s.NameField
}

// Entry is one reference record.
type Entry struct {
	ID         string
	Name       string
	Attributes map[string]any
}

// Set is a loaded, immutable reference set.
type Set struct {
	Name    string
	Entries []Entry
	index   map[string]int
}

// NewSet builds a set and its id index.
func NewSet(name string, entries []Entry) *Set {
	s := &Set{Name: name, Entries: entries, index: make(map[string]int, len(entries))}
	for i, e := range entries {
		s.index[e.ID] = i
	}
	return s
}

// Lookup finds an entry by id.
func (s *Set) Lookup(id string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.Entries[i], true
}

// Len returns the number of entries.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Sets are loaded sets by name.
type Sets map[string]*Set

// Lookup finds an entry of a named set.
func (s Sets) Lookup(set, id string) (Entry, bool) {
	return s[set].Lookup(id)
}

// NameOf returns the display name of id in set, or id itself when the set
// is missing or does not know it (degraded mode renders raw identifiers).
func (s Sets) NameOf(set, id string) string {
	if e, ok := s.Lookup(set, id); ok && e.Name != "" {
		return e.Name
	}
	return id
}

// Failure is one set that did not load.
type Failure struct {
	Spec Spec
	Err  error
}

// LoadFailed reports the sets that did not load.
type LoadFailed struct {
	Failures []Failure
}

// Error implements the error interface.
func (e *LoadFailed) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Spec.Name, f.Err))
	}
	return "reference load failed: " + strings.Join(parts, "; ")
}

// Unwrap returns the individual failures.
func (e *LoadFailed) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Retryable is true when at least one failure is transient.
func (e *LoadFailed) Retryable() bool {
	for _, f := range e.Failures {
		if client.IsRetryable(f.Err) {
			return true
		}
	}
	return false
}

// Names returns the names of the failed sets.
func (e *LoadFailed) Names() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Spec.Name)
	}
	return names
}

// Result of a load.
type Result struct {
	Sets     Sets
	Failures []Failure
}

// Err returns the failures as *LoadFailed, or nil.
func (r *Result) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	return &LoadFailed{Failures: r.Failures}
}

// Degraded reports whether some sets are missing.
func (r *Result) Degraded() bool {
	return r != nil && len(r.Failures) > 0
}

// Loader fetches reference sets through a client.
type Loader struct {
	client *client.Client
	logger zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(c *client.Client) *Loader {
	return &Loader{
		client: c,
		logger: logging.NewLogger("reference-loader"),
	}
}

// Load fetches every spec concurrently. In ModeStrict any failure returns
// *LoadFailed and no sets. In ModePartial the error is nil and the failures
// are carried in the Result.
func (l *Loader) Load(ctx context.Context, specs []Spec, mode Mode) (*Result, error) {
	for _, s := range specs {
		if s.Name == "" || s.Endpoint == "" {
			return nil, fmt.Errorf("reference spec needs a name and an endpoint: %+v", s)
		}
	}

	start := time.Now()
	sets := make([]*Set, len(specs))
	errs := make([]error, len(specs))

	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			sets[i], errs[i] = l.fetch(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Sets: make(Sets, len(specs))}
	for i, spec := range specs {
		if errs[i] != nil {
			res.Failures = append(res.Failures, Failure{Spec: spec, Err: errs[i]})
			continue
		}
		res.Sets[spec.Name] = sets[i]
	}

	if len(res.Failures) > 0 {
		failed := res.Err().(*LoadFailed)
		l.logger.Warn().
			Strs("failed", failed.Names()).
			Int("loaded", len(res.Sets)).
			Bool("retryable", failed.Retryable()).
			Msg("Reference sets failed to load")
		if mode == ModeStrict {
			return nil, failed
		}
		return res, nil
	}

	l.logger.Debug().
		Int("sets", len(res.Sets)).
		Dur("duration", time.Since(start)).
		Msg("Reference sets loaded")
	return res, nil
}

// Refresh drops cached copies of the sets and loads them again.
func (l *Loader) Refresh(ctx context.Context, specs []Spec, mode Mode) (*Result, error) {
	for _, s := range specs {
		if err := l.client.Invalidate(ctx, s.Endpoint, nil); err != nil {
			l.logger.Warn().Err(err).Str("set", s.Name).Msg("Failed to invalidate cached reference set")
		}
	}
	return l.Load(ctx, specs, mode)
}

func (l *Loader) fetch(ctx context.Context, spec Spec) (*Set, error) {
	raws, err := client.FetchList[json.RawMessage](ctx, l.client, spec.Endpoint)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, &emptySetError{name: spec.Name}
	}

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		id := gjson.GetBytes(raw, spec.idField())
		if !id.Exists() {
			continue
		}
		var attrs map[string]any
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return nil, &client.ProtocolError{Status: 200, Snippet: truncate(string(raw), 256)}
		}
		entries = append(entries, Entry{
			ID:         id.String(),
			Name:       gjson.GetBytes(raw, spec.nameField()).String(),
			Attributes: attrs,
		})
	}
	if len(entries) == 0 {
		return nil, &emptySetError{name: spec.Name}
	}
	return NewSet(spec.Name, entries), nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

package session

import "github.com/Sternrassler/dashboard-sync/pkg/view"

// The setters below update the view parameters. Every setter except
// SetPage resets the page to 1. In ModeClient the page is recomputed
// immediately; in ModeServer the caller issues Reload.

func (s *Session[T]) SetSearch(search string) {
	s.update(func(p view.Params) view.Params { return p.WithSearch(search) })
}

func (s *Session[T]) SetFacet(name string, f view.Facet) {
	s.update(func(p view.Params) view.Params { return p.WithFacet(name, f) })
}

func (s *Session[T]) ClearFacet(name string) {
	s.update(func(p view.Params) view.Params { return p.WithoutFacet(name) })
}

func (s *Session[T]) ClearFacets() {
	s.update(func(p view.Params) view.Params { return p.WithoutFacets() })
}

func (s *Session[T]) SetSort(key string, dir view.Direction) {
	s.update(func(p view.Params) view.Params { return p.WithSort(key, dir) })
}

func (s *Session[T]) ToggleSort(key string) {
	s.update(func(p view.Params) view.Params { return p.ToggleSort(key) })
}

// SetPageSize ignores sizes below 1.
func (s *Session[T]) SetPageSize(size int) {
	if size < 1 {
		return
	}
	s.update(func(p view.Params) view.Params { return p.WithPageSize(size) })
}

// SetPage ignores pages below 1.
func (s *Session[T]) SetPage(page int) {
	if page < 1 {
		return
	}
	s.update(func(p view.Params) view.Params { return p.WithPage(page) })
}

// SetParams replaces the parameters wholesale, e.g. from a query string.
func (s *Session[T]) SetParams(p view.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.update(func(view.Params) view.Params { return p })
	return nil
}

func (s *Session[T]) update(fn func(view.Params) view.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = fn(s.params)
	if s.config.Mode == ModeClient {
		s.recomputeLocked()
	}
}

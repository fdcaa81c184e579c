package session

import (
	"errors"
	"fmt"
)

// ErrNotOnPage is returned when selecting an id that is not on the rendered
// page.
var ErrNotOnPage = errors.New("item is not on the current page")

// Select adds id to the selection.
func (s *Session[T]) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.onPageLocked(id) {
		return fmt.Errorf("%w: %s", ErrNotOnPage, id)
	}
	s.selection[id] = struct{}{}
	return nil
}

// Deselect removes id from the selection.
func (s *Session[T]) Deselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selection, id)
}

// Toggle flips the selection of id.
func (s *Session[T]) Toggle(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selection[id]; ok {
		delete(s.selection, id)
		return nil
	}
	if !s.onPageLocked(id) {
		return fmt.Errorf("%w: %s", ErrNotOnPage, id)
	}
	s.selection[id] = struct{}{}
	return nil
}

// SelectPage selects every item on the rendered page.
func (s *Session[T]) SelectPage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.page {
		s.selection[s.config.ID(item)] = struct{}{}
	}
}

// ClearSelection empties the selection.
func (s *Session[T]) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.selection)
}

// Selected returns the selected ids in page order.
func (s *Session[T]) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked()
}

func (s *Session[T]) selectedLocked() []string {
	out := make([]string, 0, len(s.selection))
	for _, item := range s.page {
		id := s.config.ID(item)
		if _, ok := s.selection[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *Session[T]) onPageLocked(id string) bool {
	for _, item := range s.page {
		if s.config.ID(item) == id {
			return true
		}
	}
	return false
}

// pruneLocked drops selected ids that are no longer on the page.
func (s *Session[T]) pruneLocked() {
	if len(s.selection) == 0 {
		return
	}
	onPage := make(map[string]struct{}, len(s.page))
	for _, item := range s.page {
		onPage[s.config.ID(item)] = struct{}{}
	}
	pruned := 0
	for id := range s.selection {
		if _, ok := onPage[id]; !ok {
			delete(s.selection, id)
			pruned++
		}
	}
	if pruned > 0 {
		s.logger.Debug().Int("pruned", pruned).Msg("Selection pruned")
	}
}

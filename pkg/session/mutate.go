package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/dashboard-sync/pkg/bulk"
	"github.com/Sternrassler/dashboard-sync/pkg/notify"
)

// BulkApply runs op over the selection, then reloads. Succeeded ids leave
// the selection; the reload prunes whatever is no longer on the page.
func (s *Session[T]) BulkApply(ctx context.Context, op bulk.Operation) bulk.Result {
	ids := s.Selected()
	res := s.bulk.Apply(ctx, ids, op)

	s.mu.Lock()
	for _, id := range res.SucceededIDs {
		delete(s.selection, id)
	}
	s.mu.Unlock()
	return res
}

// BulkDelete deletes the selected items.
func (s *Session[T]) BulkDelete(ctx context.Context) bulk.Result {
	return s.BulkApply(ctx, bulk.Delete(s.client, s.config.Endpoint))
}

// BulkSetField sets field to value on the selected items.
func (s *Session[T]) BulkSetField(ctx context.Context, field string, value any) bulk.Result {
	return s.BulkApply(ctx, bulk.SetField(s.client, s.config.Endpoint, field, value))
}

// Patch edits an item of the current data in place, without a request. The
// edit is overwritten by the next reload. It reports whether id was found.
func (s *Session[T]) Patch(id string, fn func(T) T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	if s.config.Mode == ModeClient {
		for i, item := range s.working {
			if s.config.ID(item) == id {
				s.working[i] = fn(item)
				found = true
				break
			}
		}
		if found {
			s.recomputeLocked()
		}
		return found
	}

	for i, item := range s.page {
		if s.config.ID(item) == id {
			s.page[i] = fn(item)
			return true
		}
	}
	return false
}

// Create posts a new item and reloads.
func (s *Session[T]) Create(ctx context.Context, body any) (json.RawMessage, error) {
	data, err := s.client.Create(ctx, s.config.Endpoint, body)
	return data, s.afterMutation(ctx, "create", "", err)
}

// Update replaces fields of one item and reloads.
func (s *Session[T]) Update(ctx context.Context, id string, body any) (json.RawMessage, error) {
	data, err := s.client.Update(ctx, s.config.Endpoint, id, body)
	return data, s.afterMutation(ctx, "update", id, err)
}

// Delete removes one item and reloads.
func (s *Session[T]) Delete(ctx context.Context, id string) error {
	err := s.client.Delete(ctx, s.config.Endpoint, id)
	return s.afterMutation(ctx, "delete", id, err)
}

// afterMutation reloads whether or not the mutation succeeded: the server is
// the record of truth either way. The mutation error wins over a reload
// error.
func (s *Session[T]) afterMutation(ctx context.Context, op, id string, err error) error {
	if err != nil {
		s.logger.Error().Err(err).Str("operation", op).Str("id", id).Msg("Mutation failed")
		s.config.Notifier.Notify(notify.Notification{
			Severity: notify.SeverityError,
			Message:  fmt.Sprintf("%s %s failed: %v", op, s.config.Name, err),
		})
	} else {
		s.mu.Lock()
		delete(s.selection, id)
		s.mu.Unlock()
	}

	if rerr := s.reload(ctx); rerr != nil && err == nil {
		return fmt.Errorf("reload after %s: %w", op, rerr)
	}
	return err
}

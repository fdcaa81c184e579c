package bulk

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/dashboard-sync/internal/testutil"
	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/Sternrassler/dashboard-sync/pkg/notify"
	"github.com/Sternrassler/dashboard-sync/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const endpoint = "/api/products"

func seed(mock *testutil.MockDashboard, n int) []string {
	records := make([]testutil.Record, 0, n)
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := string(rune('a' + i - 1))
		records = append(records, testutil.Record{"id": id, "name": "item " + id, "status": "draft"})
		ids = append(ids, id)
	}
	mock.SetCollection(endpoint, records)
	return ids
}

func last(t *testing.T, rec *notify.Recorder) notify.Notification {
	t.Helper()
	n, ok := rec.Last()
	require.True(t, ok, "no notification sent")
	return n
}

func newClient(t *testing.T, mock *testutil.MockDashboard) *client.Client {
	t.Helper()
	c, err := client.New(client.DefaultConfig(mock.URL(), "dashsync-test/1.0"), client.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return c
}

func TestApply_DeleteWithOneFailure(t *testing.T) {
	mock := testutil.NewMockDashboard()
	defer mock.Close()
	ids := seed(mock, 5)
	mock.FailItem(endpoint, ids[2], http.StatusNotFound)

	rec := &notify.Recorder{}
	var reloads atomic.Int32
	coord := NewCoordinator(Config{
		Notifier: rec,
		Reloader: func(ctx context.Context) error {
			reloads.Add(1)
			return nil
		},
	})

	res := coord.Apply(context.Background(), ids, Delete(newClient(t, mock), endpoint))

	assert.Equal(t, []string{"a", "b", "d", "e"}, res.SucceededIDs)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "c", res.Failed[0].ID)
	assert.Equal(t, http.StatusNotFound, res.Failed[0].Err.(*client.RemoteRequestFailed).Status)
	assert.Equal(t, int32(1), reloads.Load())
	assert.NoError(t, res.ReloadErr)

	remaining := mock.Records(endpoint)
	require.Len(t, remaining, 1)
	assert.Equal(t, "c", remaining[0].ID())

	require.Equal(t, 1, rec.Len(), "one aggregate notification")
	n := last(t, rec)
	assert.Equal(t, notify.SeverityWarning, n.Severity)
	assert.Contains(t, n.Message, "4 succeeded, 1 failed")
	require.Len(t, n.Details, 1)
	assert.Contains(t, n.Details[0], "c: ")
}

func TestApply_AllSucceed(t *testing.T) {
	mock := testutil.NewMockDashboard()
	defer mock.Close()
	ids := seed(mock, 3)

	rec := &notify.Recorder{}
	res := NewCoordinator(Config{Notifier: rec}).
		Apply(context.Background(), ids, SetField(newClient(t, mock), endpoint, "status", "published"))

	assert.Len(t, res.SucceededIDs, 3)
	assert.Empty(t, res.Failed)
	for _, r := range mock.Records(endpoint) {
		assert.Equal(t, "published", r["status"])
	}
	assert.Equal(t, notify.SeveritySuccess, last(t, rec).Severity)
	assert.Empty(t, last(t, rec).Details)
}

func TestApply_AllFail(t *testing.T) {
	rec := &notify.Recorder{}
	op := Operation{Name: "archive", Apply: func(ctx context.Context, id string) error {
		return errors.New("boom")
	}}

	res := NewCoordinator(Config{Notifier: rec}).Apply(context.Background(), []string{"1", "2"}, op)

	assert.Empty(t, res.SucceededIDs)
	assert.Len(t, res.Failed, 2)
	assert.Equal(t, notify.SeverityError, last(t, rec).Severity)
	assert.Equal(t, []string{"1: boom", "2: boom"}, res.FailureReasons())
}

func TestApply_DeduplicatesIDs(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	op := Operation{Name: "touch", Apply: func(ctx context.Context, id string) error {
		mu.Lock()
		calls[id]++
		mu.Unlock()
		return nil
	}}

	res := NewCoordinator(DefaultConfig()).Apply(context.Background(), []string{"1", "2", "1", "3", "2"}, op)

	assert.Equal(t, []string{"1", "2", "3"}, res.SucceededIDs)
	assert.Equal(t, map[string]int{"1": 1, "2": 1, "3": 1}, calls)
}

func TestApply_EmptyIDsDoesNothing(t *testing.T) {
	rec := &notify.Recorder{}
	reloaded := false
	coord := NewCoordinator(Config{Notifier: rec, Reloader: func(ctx context.Context) error {
		reloaded = true
		return nil
	}})

	res := coord.Apply(context.Background(), nil, Operation{Name: "noop", Apply: func(context.Context, string) error { return nil }})

	assert.Zero(t, res.Total())
	assert.False(t, reloaded)
	assert.Zero(t, rec.Len())
}

func TestApply_ReloadFailureIsReported(t *testing.T) {
	reloadErr := errors.New("reload failed")
	coord := NewCoordinator(Config{Reloader: func(ctx context.Context) error { return reloadErr }})

	res := coord.Apply(context.Background(), []string{"1"}, Operation{Name: "noop", Apply: func(context.Context, string) error { return nil }})

	assert.Equal(t, []string{"1"}, res.SucceededIDs)
	assert.ErrorIs(t, res.ReloadErr, reloadErr)
}

func TestApply_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reloaded := false
	coord := NewCoordinator(Config{Reloader: func(rctx context.Context) error {
		reloaded = rctx.Err() == nil
		return nil
	}})
	res := coord.Apply(ctx, []string{"1", "2"}, Operation{Name: "noop", Apply: func(context.Context, string) error { return nil }})

	assert.Len(t, res.Failed, 2)
	for _, f := range res.Failed {
		assert.ErrorIs(t, f.Err, context.Canceled)
	}
	assert.True(t, reloaded, "reload runs on an uncancelled context")
}

func TestApply_ConcurrencyLimits(t *testing.T) {
	throttled := ratelimit.NewTracker(nil, ratelimit.DefaultConfig(), zerolog.Nop())
	h := http.Header{}
	h.Set(ratelimit.HeaderRemaining, "10")
	h.Set(ratelimit.HeaderReset, "60")
	require.NoError(t, throttled.UpdateFromHeaders(context.Background(), h))

	tests := []struct {
		name    string
		config  Config
		wantMax int32
	}{
		{"limited", Config{MaxConcurrency: 3}, 3},
		{"throttled", Config{MaxConcurrency: 8, ThrottledConcurrency: 1, RateLimiter: throttled}, 1},
		{"healthy tracker", Config{MaxConcurrency: 4, RateLimiter: ratelimit.NewTracker(nil, ratelimit.DefaultConfig(), zerolog.Nop())}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inFlight, peak atomic.Int32
			op := Operation{Name: "slow", Apply: func(ctx context.Context, id string) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			}}

			ids := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
			res := NewCoordinator(tt.config).Apply(context.Background(), ids, op)

			assert.Len(t, res.SucceededIDs, len(ids))
			assert.LessOrEqual(t, peak.Load(), tt.wantMax)
		})
	}
}

func TestCoordinator_WithReloader(t *testing.T) {
	base := NewCoordinator(DefaultConfig())
	called := false
	derived := base.WithReloader(func(ctx context.Context) error {
		called = true
		return nil
	})

	base.Apply(context.Background(), []string{"1"}, Operation{Name: "noop", Apply: func(context.Context, string) error { return nil }})
	assert.False(t, called)

	derived.Apply(context.Background(), []string{"1"}, Operation{Name: "noop", Apply: func(context.Context, string) error { return nil }})
	assert.True(t, called)
}

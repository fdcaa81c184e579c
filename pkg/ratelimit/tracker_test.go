package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func headers(remaining, reset string) http.Header {
	h := http.Header{}
	if remaining != "" {
		h.Set(HeaderRemaining, remaining)
	}
	if reset != "" {
		h.Set(HeaderReset, reset)
	}
	return h
}

func newMemoryTracker() *Tracker {
	cfg := DefaultConfig()
	cfg.ThrottleDelay = 10 * time.Millisecond
	return NewTracker(nil, cfg, zerolog.Nop())
}

func TestTracker_DefaultStateIsHealthy(t *testing.T) {
	tracker := newMemoryTracker()

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsHealthy {
		t.Error("default state should be healthy")
	}
	if state.Remaining != 100 {
		t.Errorf("Remaining = %d, want 100", state.Remaining)
	}
}

func TestTracker_UpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name            string
		remaining       string
		reset           string
		expectedRemain  int
		expectedHealthy bool
	}{
		{name: "healthy state", remaining: "100", reset: "60", expectedRemain: 100, expectedHealthy: true},
		{name: "warning state", remaining: "15", reset: "30", expectedRemain: 15, expectedHealthy: false},
		{name: "critical state", remaining: "3", reset: "45", expectedRemain: 3, expectedHealthy: false},
		{name: "at healthy threshold", remaining: "50", reset: "60", expectedRemain: 50, expectedHealthy: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newMemoryTracker()
			ctx := context.Background()

			if err := tracker.UpdateFromHeaders(ctx, headers(tt.remaining, tt.reset)); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			state, err := tracker.GetState(ctx)
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Remaining != tt.expectedRemain {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.expectedRemain)
			}
			if state.IsHealthy != tt.expectedHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.expectedHealthy)
			}
		})
	}
}

func TestTracker_UpdateFromHeaders_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		header    http.Header
		wantError bool
	}{
		{name: "no headers is a no-op", header: headers("", ""), wantError: false},
		{name: "non-numeric remaining", header: headers("abc", "60"), wantError: true},
		{name: "missing reset", header: headers("10", ""), wantError: true},
		{name: "non-numeric reset", header: headers("10", "soon"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newMemoryTracker().UpdateFromHeaders(context.Background(), tt.header)
			if (err != nil) != tt.wantError {
				t.Errorf("UpdateFromHeaders() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestTracker_ShouldAllowRequest(t *testing.T) {
	tests := []struct {
		name      string
		remaining string
		allowed   bool
		throttled bool
	}{
		{name: "healthy", remaining: "90", allowed: true, throttled: false},
		{name: "warning band", remaining: "10", allowed: true, throttled: true},
		{name: "critical band", remaining: "2", allowed: false, throttled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newMemoryTracker()
			ctx := context.Background()
			if err := tracker.UpdateFromHeaders(ctx, headers(tt.remaining, "60")); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			allowed, err := tracker.ShouldAllowRequest(ctx)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.allowed)
			}
			if got := tracker.Throttled(ctx); got != tt.throttled {
				t.Errorf("Throttled() = %v, want %v", got, tt.throttled)
			}
		})
	}
}

func TestTracker_ThrottleRespectsContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThrottleDelay = time.Hour
	tracker := NewTracker(nil, cfg, zerolog.Nop())

	if err := tracker.UpdateFromHeaders(context.Background(), headers("10", "60")); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if allowed {
		t.Error("ShouldAllowRequest() = true after context deadline")
	}
	if err == nil {
		t.Error("ShouldAllowRequest() should return the context error")
	}
}

func TestTracker_RedisSharedState(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx := context.Background()
	writer := NewTracker(client, DefaultConfig(), zerolog.Nop())
	reader := NewTracker(client, DefaultConfig(), zerolog.Nop())

	state, err := reader.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsHealthy {
		t.Error("empty redis should yield healthy default state")
	}

	if err := writer.UpdateFromHeaders(ctx, headers("7", "120")); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, err = reader.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 7 {
		t.Errorf("Remaining = %d, want 7", state.Remaining)
	}
	if state.LastUpdate.IsZero() {
		t.Error("LastUpdate should be restored from redis")
	}
	if got := state.TimeUntilReset(); got < 110*time.Second || got > 121*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~120s", got)
	}
}

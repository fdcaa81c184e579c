package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *State
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &State{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &State{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    &State{LastUpdate: time.Now().Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_NeedsCriticalBlock(t *testing.T) {
	future := time.Now().Add(time.Minute)

	tests := []struct {
		name      string
		remaining int
		resetAt   time.Time
		expected  bool
	}{
		{name: "well above critical threshold", remaining: 50, resetAt: future, expected: false},
		{name: "at critical threshold", remaining: ThresholdCritical, resetAt: future, expected: false},
		{name: "just below critical threshold", remaining: ThresholdCritical - 1, resetAt: future, expected: true},
		{name: "zero remaining", remaining: 0, resetAt: future, expected: true},
		{name: "zero remaining but window elapsed", remaining: 0, resetAt: time.Now().Add(-time.Second), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{Remaining: tt.remaining, ResetAt: tt.resetAt}
			if got := state.NeedsCriticalBlock(); got != tt.expected {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_NeedsThrottling(t *testing.T) {
	future := time.Now().Add(time.Minute)

	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{name: "healthy", remaining: 80, expected: false},
		{name: "at warning threshold", remaining: ThresholdWarning, expected: false},
		{name: "below warning threshold", remaining: ThresholdWarning - 1, expected: true},
		{name: "critical is not throttling", remaining: ThresholdCritical - 1, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{Remaining: tt.remaining, ResetAt: future}
			if got := state.NeedsThrottling(); got != tt.expected {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_CustomThresholds(t *testing.T) {
	state := &State{
		Remaining:  40,
		ResetAt:    time.Now().Add(time.Minute),
		thresholds: Thresholds{Critical: 50, Warning: 100, Healthy: 200},
	}

	if !state.NeedsCriticalBlock() {
		t.Error("NeedsCriticalBlock() = false with custom critical threshold 50")
	}
	state.UpdateHealth()
	if state.IsHealthy {
		t.Error("IsHealthy = true, want false")
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	past := &State{ResetAt: time.Now().Add(-time.Minute)}
	if got := past.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0", got)
	}

	future := &State{ResetAt: time.Now().Add(30 * time.Second)}
	if got := future.TimeUntilReset(); got < 29*time.Second || got > 31*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~30s", got)
	}
}

func TestState_UpdateHealth(t *testing.T) {
	tests := []struct {
		remaining int
		want      bool
	}{
		{remaining: 100, want: true},
		{remaining: ThresholdHealthy, want: true},
		{remaining: ThresholdHealthy - 1, want: false},
		{remaining: 0, want: false},
	}

	for _, tt := range tests {
		state := &State{Remaining: tt.remaining}
		state.UpdateHealth()
		if state.IsHealthy != tt.want {
			t.Errorf("UpdateHealth() with %d remaining: IsHealthy = %v, want %v", tt.remaining, state.IsHealthy, tt.want)
		}
	}
}

func TestThresholdConstants(t *testing.T) {
	if !(ThresholdCritical < ThresholdWarning && ThresholdWarning < ThresholdHealthy) {
		t.Errorf("thresholds must be ordered: critical=%d warning=%d healthy=%d",
			ThresholdCritical, ThresholdWarning, ThresholdHealthy)
	}
}

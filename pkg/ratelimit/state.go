// Package ratelimit tracks the request budget a remote dashboard API
// advertises through X-RateLimit-Remaining / X-RateLimit-Reset headers and
// gates requests before the budget runs out.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "dashsync:rate_limit:remaining"
	RedisKeyResetTimestamp = "dashsync:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "dashsync:rate_limit:last_update"
)

// Header names read from every response.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Default thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks requests when remaining falls below this value.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests when remaining falls below this value.
	ThresholdWarning = 20

	// ThresholdHealthy marks the state as healthy at or above this value.
	ThresholdHealthy = 50
)

// State represents the last known request budget of the remote.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= the healthy threshold.
	IsHealthy bool `json:"is_healthy"`

	thresholds Thresholds
}

// Thresholds configures the decision points of a State.
type Thresholds struct {
	Critical int
	Warning  int
	Healthy  int
}

// DefaultThresholds returns the package default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: ThresholdCritical,
		Warning:  ThresholdWarning,
		Healthy:  ThresholdHealthy,
	}
}

func (s *State) limits() Thresholds {
	if s.thresholds == (Thresholds{}) {
		return DefaultThresholds()
	}
	return s.thresholds
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// WindowElapsed reports whether the advertised reset time has passed, in
// which case the budget is assumed to be refilled.
func (s *State) WindowElapsed() bool {
	return !s.ResetAt.IsZero() && time.Now().After(s.ResetAt)
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *State) NeedsCriticalBlock() bool {
	return !s.WindowElapsed() && s.Remaining < s.limits().Critical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return !s.WindowElapsed() && s.Remaining < s.limits().Warning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= s.limits().Healthy
}

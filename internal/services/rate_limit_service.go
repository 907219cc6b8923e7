package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/stagllc/staginfra/internal/config"
)

// RateLimitAction identifies which attempt budget a request draws from.
type RateLimitAction string

const (
	ActionRegistration RateLimitAction = "registration"
	ActionLogin        RateLimitAction = "login"
)

// RateLimitRule bounds how many attempts a key gets inside a sliding window.
type RateLimitRule struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitService tracks per-(identifier, action) attempt timestamps in a
// sliding window. State is process memory only; a restart clears all limits.
type RateLimitService struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	rules   map[RateLimitAction]RateLimitRule
	logger  *slog.Logger
	now     func() time.Time
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(cfg config.RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		windows: make(map[string][]time.Time),
		rules: map[RateLimitAction]RateLimitRule{
			ActionRegistration: {MaxAttempts: cfg.MaxRegistrationAttempts, Window: cfg.RegistrationWindow},
			ActionLogin:        {MaxAttempts: cfg.MaxLoginAttempts, Window: cfg.LoginWindow},
		},
		logger: logger,
		now:    time.Now,
	}
}

// Allow reports whether the identifier may perform the action. Attempts older
// than the rule's window are purged first; when the remaining count is under
// the limit a new attempt is recorded and true is returned, otherwise false
// is returned without recording.
func (s *RateLimitService) Allow(identifier string, action RateLimitAction) bool {
	rule, ok := s.rules[action]
	if !ok || rule.MaxAttempts <= 0 {
		return true
	}

	key := string(action) + ":" + identifier
	now := s.now()
	cutoff := now.Add(-rule.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	recent := pruneBefore(s.windows[key], cutoff)

	if len(recent) >= rule.MaxAttempts {
		s.windows[key] = recent
		s.logger.Warn("rate limit exceeded",
			slog.String("identifier", identifier),
			slog.String("action", string(action)),
			slog.Int("attempts", len(recent)))
		return false
	}

	s.windows[key] = append(recent, now)
	return true
}

// Reset discards the identifier's whole window for the action, giving the
// client a clean slate (used after a successful login).
func (s *RateLimitService) Reset(identifier string, action RateLimitAction) {
	key := string(action) + ":" + identifier

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// PruneIdle drops keys whose every recorded attempt has aged out of the
// largest configured window. Called periodically by the cleanup manager so
// the map does not grow without bound.
func (s *RateLimitService) PruneIdle() int {
	var maxWindow time.Duration
	for _, rule := range s.rules {
		if rule.Window > maxWindow {
			maxWindow = rule.Window
		}
	}
	cutoff := s.now().Add(-maxWindow)

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for key, attempts := range s.windows {
		kept := pruneBefore(attempts, cutoff)
		if len(kept) == 0 {
			delete(s.windows, key)
			pruned++
			continue
		}
		// pruneBefore compacts in place; the shortened header must be
		// stored back or the map keeps stale entries at the tail.
		s.windows[key] = kept
	}
	return pruned
}

func pruneBefore(attempts []time.Time, cutoff time.Time) []time.Time {
	kept := attempts[:0:len(attempts)]
	for _, at := range attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

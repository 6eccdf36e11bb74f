package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrArchiveSuspended is returned by [BreakerStore.Append] while the backing
// store is suspended after repeated failures.
var ErrArchiveSuspended = errors.New("transcript: archive suspended")

const (
	defaultMaxFailures = 5
	defaultCooldown    = 30 * time.Second
)

// BreakerStore wraps a Store and suspends it after consecutive append
// failures, so a dead database does not add a connection timeout to every
// turn. After the cooldown one probe append is let through; success resumes
// normal operation, failure re-suspends.
//
// Safe for concurrent use.
type BreakerStore struct {
	inner       Store
	maxFailures int
	cooldown    time.Duration

	mu        sync.Mutex
	failures  int
	suspended bool
	lastFail  time.Time
	probing   bool
}

var _ Store = (*BreakerStore)(nil)

// BreakerConfig tunes a [BreakerStore]. Zero values select defaults.
type BreakerConfig struct {
	// MaxFailures is the consecutive failure count that suspends the store.
	// Default: 5.
	MaxFailures int

	// Cooldown is how long the store stays suspended before a probe append
	// is allowed. Default: 30s.
	Cooldown time.Duration
}

// NewBreakerStore wraps inner with failure-based suspension.
func NewBreakerStore(inner Store, cfg BreakerConfig) *BreakerStore {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &BreakerStore{
		inner:       inner,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// Append implements Store. While suspended it fails fast with
// [ErrArchiveSuspended] instead of touching the backing store.
func (s *BreakerStore) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	if s.suspended {
		if time.Since(s.lastFail) < s.cooldown || s.probing {
			s.mu.Unlock()
			return ErrArchiveSuspended
		}
		// Cooldown elapsed; this call is the probe.
		s.probing = true
	}
	s.mu.Unlock()

	err := s.inner.Append(ctx, e)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		s.lastFail = time.Now()
		s.probing = false
		if !s.suspended && s.failures >= s.maxFailures {
			s.suspended = true
			slog.Warn("transcript archive suspended after repeated failures",
				"failures", s.failures, "cooldown", s.cooldown)
		}
		return err
	}

	if s.suspended {
		slog.Info("transcript archive resumed after successful probe")
	}
	s.failures = 0
	s.suspended = false
	s.probing = false
	return nil
}

// Suspended reports whether appends currently fail fast.
func (s *BreakerStore) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended && time.Since(s.lastFail) < s.cooldown
}

// Close implements Store.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}

// Package transcript archives finalized transcript text per audio source.
//
// The archive is best-effort: failing to persist a transcript never blocks
// or fails the turn that produced it. Callers log archive errors and move on.
package transcript

import (
	"context"
	"sync"
	"time"
)

// Entry is a single archived transcript segment.
type Entry struct {
	// SourceID identifies the audio source that produced the text.
	SourceID string
	// Text is the transcribed speech, non-empty.
	Text string
	// EmittedAt is when the transcript was produced by the engine.
	EmittedAt time.Time
}

// Store persists transcript entries.
type Store interface {
	// Append archives one entry.
	Append(ctx context.Context, e Entry) error
	// Close releases any underlying resources.
	Close() error
}

// MemStore is an in-memory Store. It is the default archive when no
// database is configured, and is safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Append implements Store.
func (s *MemStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of all archived entries in append order.
func (s *MemStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Close implements Store. It is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}

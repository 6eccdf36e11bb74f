// Package mux implements the session multiplexer: the component that
// time-shares one stateful ASR engine across concurrently connected audio
// sources.
//
// It is split into three pieces. The [Store] keeps one context per source
// (buffered audio, speech flag, engine checkpoint). The [Scheduler] decides
// which source takes the next decode turn and performs the engine context
// switch behind a single lock. The [Session] is the per-connection loop that
// feeds both and dispatches turns without blocking ingestion.
package mux

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxmux/voxmux/pkg/engine"
)

// ErrDuplicateSource is returned by [Store.Add] when a context already exists
// for the given source id.
var ErrDuplicateSource = errors.New("mux: source id already active")

// ErrUnknownSource is returned by Store operations on a source id that has no
// active context.
var ErrUnknownSource = errors.New("mux: unknown source id")

// DefaultMaxChunks is the per-source audio buffer cap. When exceeded, the
// oldest chunks are dropped (sliding-window backpressure).
const DefaultMaxChunks = 200

// sourceContext is the per-source record. All access goes through the Store's
// lock.
type sourceContext struct {
	// buffer holds the audio chunks awaiting transcription, oldest first.
	buffer [][]float32

	// hasSpeech is set while the tracker reports speech within the pending
	// buffer window and cleared when a turn consumes the buffer.
	hasSpeech bool

	// checkpoint is the engine state saved when this source was last
	// switched away from. Nil until the source completes a first turn.
	checkpoint engine.Checkpoint
}

// Store is the source context store. All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	maxChunks int
	contexts  map[string]*sourceContext
}

// NewStore creates a Store with the given per-source buffer cap.
// maxChunks <= 0 selects [DefaultMaxChunks].
func NewStore(maxChunks int) *Store {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	return &Store{
		maxChunks: maxChunks,
		contexts:  make(map[string]*sourceContext),
	}
}

// Add creates a fresh context for id. Fails with [ErrDuplicateSource] when a
// context for id is already active; the existing context is left untouched.
func (s *Store) Add(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateSource, id)
	}
	s.contexts[id] = &sourceContext{}
	return nil
}

// Remove deletes the context for id. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, id)
}

// Append adds one audio chunk to id's buffer and trims the buffer to the cap
// from the front. It returns the number of chunks dropped by the trim.
func (s *Store) Append(id string, chunk []float32) (dropped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	ctx.buffer = append(ctx.buffer, chunk)
	if n := len(ctx.buffer) - s.maxChunks; n > 0 {
		ctx.buffer = append([][]float32(nil), ctx.buffer[n:]...)
		dropped = n
	}
	return dropped, nil
}

// MarkSpeech sets id's speech-presence flag.
func (s *Store) MarkSpeech(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	ctx.hasSpeech = true
	return nil
}

// ClearSpeech clears id's speech-presence flag.
func (s *Store) ClearSpeech(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	ctx.hasSpeech = false
	return nil
}

// Snapshot returns id's buffered chunks and atomically clears the buffer, so
// audio arriving during a turn accumulates in a fresh buffer rather than the
// one being decoded.
func (s *Store) Snapshot(id string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	chunks := ctx.buffer
	ctx.buffer = nil
	return chunks, nil
}

// Len reports the number of buffered chunks for id, or 0 for an unknown id.
func (s *Store) Len(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.contexts[id]; ok {
		return len(ctx.buffer)
	}
	return 0
}

// HasSpeech reports id's speech-presence flag, or false for an unknown id.
func (s *Store) HasSpeech(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.contexts[id]; ok {
		return ctx.hasSpeech
	}
	return false
}

// Active reports whether a context exists for id.
func (s *Store) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.contexts[id]
	return ok
}

// Count reports the number of active contexts.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// Eligible evaluates the scheduling predicate for id under one lock
// acquisition: id has speech, at least minChunks buffered, and no other
// speech-active source has a strictly larger buffer. The greedy
// most-backlogged-wins policy keeps latency bounded for whichever source has
// waited longest; ties leave the predicate true for all tied sources and the
// scheduler's single-flight gate picks one.
func (s *Store) Eligible(id string, minChunks int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[id]
	if !ok || !ctx.hasSpeech {
		return false
	}
	chunks := len(ctx.buffer)
	if chunks < minChunks {
		return false
	}
	for otherID, other := range s.contexts {
		if otherID == id {
			continue
		}
		if other.hasSpeech && len(other.buffer) > chunks {
			return false
		}
	}
	return true
}

// setCheckpoint stores the engine checkpoint for id. Saving against a source
// that was removed mid-switch discards the checkpoint.
func (s *Store) setCheckpoint(id string, cp engine.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.contexts[id]; ok {
		ctx.checkpoint = cp
	}
}

// getCheckpoint returns the saved checkpoint for id, or nil when the source
// has never completed a turn (or is unknown).
func (s *Store) getCheckpoint(id string) engine.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.contexts[id]; ok {
		return ctx.checkpoint
	}
	return nil
}

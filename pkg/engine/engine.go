// Package engine defines the contract for the shared incremental ASR engine.
//
// The engine is a single, expensive-to-instantiate, stateful decoder: it
// carries recurrent decoding context (partial hypothesis, acoustic buffer)
// between calls. One instance exists per process and is time-shared across
// audio sources by the session multiplexer; SaveState/LoadState let the
// multiplexer checkpoint one source's decoding context and restore another's,
// so the single instance behaves as if each source had its own.
//
// Implementations are NOT safe for concurrent use. All calls must come from
// one logical flow at a time; the multiplexer serializes access behind its
// engine lock.
package engine

import "context"

// Checkpoint is an opaque snapshot of the engine's internal decoding state.
// Callers must treat it as a value to hand back to LoadState unchanged; its
// concrete type belongs to the implementation that produced it.
type Checkpoint any

// Result is the outcome of one incremental decode pass.
type Result struct {
	// Text is the newly committed transcript fragment. May be empty when the
	// pass produced no stable text.
	Text string
}

// Engine is the shared incremental ASR decoder.
type Engine interface {
	// Init resets the engine to a fresh, empty decoding context. Used when a
	// source takes its first turn and has no checkpoint to restore.
	Init() error

	// SaveState snapshots the current decoding context.
	SaveState() (Checkpoint, error)

	// LoadState restores a decoding context previously returned by SaveState
	// on the same engine. Returns an error for a checkpoint the engine does
	// not recognise.
	LoadState(cp Checkpoint) error

	// ProcessIncrement decodes a batch of mono float32 audio against the
	// current context and returns any newly committed text. Long-running;
	// honours ctx cancellation where the backend allows it.
	ProcessIncrement(ctx context.Context, samples []float32) (Result, error)

	// Close releases the underlying model. The engine is unusable afterwards.
	Close() error
}

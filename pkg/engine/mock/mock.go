// Package mock provides a deterministic engine.Engine for tests.
package mock

import (
	"context"
	"fmt"
	"slices"

	"github.com/voxmux/voxmux/pkg/engine"
)

// Engine is a test double whose decoding state is the full sample history it
// has been fed. SaveState/LoadState deep-copy that history, so checkpoint
// fidelity is observable through the decode output.
type Engine struct {
	// TextFunc computes the transcript for a decode pass from the state
	// after the increment was absorbed, and the increment itself. When nil,
	// a default "t<total-sample-count>" text is produced; return "" to
	// simulate a silent pass.
	TextFunc func(state, increment []float32) string

	// ProcessErr, when non-nil, is returned by every ProcessIncrement call.
	ProcessErr error

	// Samples is the current decoding state.
	Samples []float32

	// Call counters.
	InitCalls    int
	SaveCalls    int
	LoadCalls    int
	ProcessCalls int
	CloseCalls   int
}

var _ engine.Engine = (*Engine)(nil)

// checkpoint is the opaque state snapshot.
type checkpoint struct {
	samples []float32
}

// Init clears the decoding state.
func (e *Engine) Init() error {
	e.InitCalls++
	e.Samples = nil
	return nil
}

// SaveState returns a deep copy of the current state.
func (e *Engine) SaveState() (engine.Checkpoint, error) {
	e.SaveCalls++
	return &checkpoint{samples: slices.Clone(e.Samples)}, nil
}

// LoadState installs a deep copy of a previously saved state.
func (e *Engine) LoadState(cp engine.Checkpoint) error {
	e.LoadCalls++
	c, ok := cp.(*checkpoint)
	if !ok {
		return fmt.Errorf("mock engine: unrecognised checkpoint type %T", cp)
	}
	e.Samples = slices.Clone(c.samples)
	return nil
}

// ProcessIncrement appends the increment to the state and produces text.
func (e *Engine) ProcessIncrement(_ context.Context, samples []float32) (engine.Result, error) {
	e.ProcessCalls++
	if e.ProcessErr != nil {
		return engine.Result{}, e.ProcessErr
	}
	e.Samples = append(e.Samples, samples...)
	if e.TextFunc != nil {
		return engine.Result{Text: e.TextFunc(e.Samples, samples)}, nil
	}
	return engine.Result{Text: fmt.Sprintf("t%d", len(e.Samples))}, nil
}

// Close records the call.
func (e *Engine) Close() error {
	e.CloseCalls++
	return nil
}

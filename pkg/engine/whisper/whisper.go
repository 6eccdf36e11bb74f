// Package whisper implements engine.Engine on top of the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// whisper.cpp contexts cannot be serialized, so the engine carries its own
// decoding state: a rolling window of recent audio plus the committed
// hypothesis for that window. SaveState/LoadState copy that state, and each
// ProcessIncrement re-decodes the window in a fresh whisper context. This
// trades some redundant compute for checkpointability of a single shared
// model instance.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxmux/voxmux/pkg/engine"
)

const (
	defaultLanguage = "en"

	// defaultMaxWindowSamples caps the rolling decode window at 10 s of
	// 16 kHz audio. Beyond that the oldest audio is dropped and the
	// hypothesis restarts.
	defaultMaxWindowSamples = 10 * 16000
)

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithMaxWindowSamples caps the rolling decode window, in samples.
func WithMaxWindowSamples(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWindow = n
		}
	}
}

// Engine is the whisper.cpp-backed incremental decoder. The model is loaded
// once in New and shared for the process lifetime; decoding state lives in a
// checkpointable struct so the multiplexer can swap it per source.
//
// Not safe for concurrent use; see the engine package documentation.
type Engine struct {
	model     whisperlib.Model
	language  string
	maxWindow int

	state decodeState
}

// decodeState is the checkpointable per-source decoding context.
type decodeState struct {
	// window is the trailing audio re-decoded on each increment.
	window []float32

	// hypothesis is the full text committed for the current window.
	hypothesis string
}

// clone deep-copies the state so checkpoints do not alias live buffers.
func (s decodeState) clone() decodeState {
	return decodeState{
		window:     slices.Clone(s.window),
		hypothesis: s.hypothesis,
	}
}

// checkpoint is the opaque value handed out by SaveState.
type checkpoint struct {
	state decodeState
}

// New loads the whisper.cpp model from modelPath. The load is costly (the
// whole model is read into memory); call once at startup and Close when the
// process exits.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &Engine{
		model:     model,
		language:  defaultLanguage,
		maxWindow: defaultMaxWindowSamples,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Init resets the decoding context to empty.
func (e *Engine) Init() error {
	e.state = decodeState{}
	return nil
}

// SaveState snapshots the current decoding context.
func (e *Engine) SaveState() (engine.Checkpoint, error) {
	return &checkpoint{state: e.state.clone()}, nil
}

// LoadState restores a checkpoint produced by this engine's SaveState.
func (e *Engine) LoadState(cp engine.Checkpoint) error {
	c, ok := cp.(*checkpoint)
	if !ok {
		return fmt.Errorf("whisper: unrecognised checkpoint type %T", cp)
	}
	e.state = c.state.clone()
	return nil
}

// ProcessIncrement appends samples to the rolling window, re-decodes the
// window, and returns the text committed beyond the previous hypothesis.
//
// When the grown hypothesis extends the previous one, only the new suffix is
// returned. When the decoder revises earlier words, the full new hypothesis
// is returned and replaces the old one.
func (e *Engine) ProcessIncrement(ctx context.Context, samples []float32) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}
	if len(samples) == 0 {
		return engine.Result{}, nil
	}

	e.state.window = append(e.state.window, samples...)
	if len(e.state.window) > e.maxWindow {
		// Slide the window: drop the oldest audio and restart the
		// hypothesis, since it no longer describes the retained audio.
		e.state.window = slices.Clone(e.state.window[len(e.state.window)-e.maxWindow:])
		e.state.hypothesis = ""
	}

	full, err := e.decode(e.state.window)
	if err != nil {
		return engine.Result{}, err
	}

	prev := e.state.hypothesis
	e.state.hypothesis = full

	if prev != "" && strings.HasPrefix(full, prev) {
		return engine.Result{Text: strings.TrimSpace(strings.TrimPrefix(full, prev))}, nil
	}
	return engine.Result{Text: strings.TrimSpace(full)}, nil
}

// decode runs one whisper.cpp pass over the window in a fresh context.
// Contexts are cheap relative to the model and are not reusable across
// state swaps.
func (e *Engine) decode(window []float32) (string, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		return "", fmt.Errorf("whisper: set language %q: %w", e.language, err)
	}

	if err := wctx.Process(window, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the whisper model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

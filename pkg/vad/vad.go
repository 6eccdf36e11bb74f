// Package vad defines the speech-classification boundary for voxmux and the
// activity tracker built on top of it.
//
// A [Detector] wraps a frame-level speech model (e.g. Silero VAD) and reports
// utterance boundaries: for each audio chunk it either returns a start or end
// marker, or nothing. The [Tracker] turns that raw boundary stream into a
// latched start/continue/end/none event stream that the session loop consumes.
//
// A Detector instance holds per-stream state and must not be shared across
// goroutines. Create one per audio source.
package vad

import "time"

// BoundaryKind distinguishes the two utterance boundary markers a Detector
// can report.
type BoundaryKind int

const (
	// BoundaryStart marks the onset of speech.
	BoundaryStart BoundaryKind = iota

	// BoundaryEnd marks the end of speech.
	BoundaryEnd
)

// Boundary is a single utterance boundary reported by a Detector.
type Boundary struct {
	// Kind is the boundary type.
	Kind BoundaryKind

	// Offset is the boundary position in the stream, measured from the first
	// sample the detector has seen.
	Offset time.Duration
}

// Detector classifies audio chunks and reports utterance boundaries. It is
// the black-box speech model behind the [Tracker]; implementations keep
// internal smoothing state across calls.
type Detector interface {
	// Detect analyses one chunk of mono float32 audio and returns the
	// boundary crossed within it, or nil when no boundary was crossed.
	// A chunk-scoped failure returns a non-nil error; the detector's state
	// for subsequent chunks is unaffected.
	Detect(samples []float32) (*Boundary, error)

	// Reset clears all accumulated detection state. Use it when a source's
	// buffer is discarded so stale boundary memory cannot influence the next
	// utterance.
	Reset() error

	// Close releases detector resources. The detector is unusable afterwards.
	Close() error
}

package vad

// Event is the tracker's per-chunk output.
type Event int

const (
	// EventNone: no speech in progress and no boundary crossed.
	EventNone Event = iota

	// EventStart: speech began within this chunk.
	EventStart

	// EventContinue: speech is ongoing.
	EventContinue

	// EventEnd: speech ended within this chunk.
	EventEnd
)

// String returns the lower-case event name.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventContinue:
		return "continue"
	case EventEnd:
		return "end"
	default:
		return "none"
	}
}

// Result is the outcome of one tracker step.
type Result struct {
	// Event is the transition emitted for this chunk.
	Event Event

	// Speaking is the latched speech state after this chunk.
	Speaking bool
}

// Tracker latches the raw boundary stream of a [Detector] into a two-state
// (idle/speaking) machine:
//
//	idle     + start boundary → speaking, emit EventStart
//	speaking + end boundary   → idle,     emit EventEnd
//	speaking + no boundary    → speaking, emit EventContinue
//	idle     + no boundary    → idle,     emit EventNone
//
// A start boundary while already speaking, or an end boundary while idle, is
// absorbed without a transition. Not safe for concurrent use; each source
// owns one Tracker.
type Tracker struct {
	det      Detector
	speaking bool
}

// NewTracker creates a Tracker over det.
func NewTracker(det Detector) *Tracker {
	return &Tracker{det: det}
}

// ProcessChunk runs one chunk through the detector and advances the state
// machine. On a detector error the tracker state is left unchanged and the
// error is returned; the caller decides whether to drop the chunk or abort
// the source.
func (t *Tracker) ProcessChunk(samples []float32) (Result, error) {
	boundary, err := t.det.Detect(samples)
	if err != nil {
		return Result{Speaking: t.speaking}, err
	}

	if boundary != nil {
		switch {
		case boundary.Kind == BoundaryStart && !t.speaking:
			t.speaking = true
			return Result{Event: EventStart, Speaking: true}, nil
		case boundary.Kind == BoundaryEnd && t.speaking:
			t.speaking = false
			return Result{Event: EventEnd, Speaking: false}, nil
		}
		// Redundant boundary: absorbed, state unchanged.
		return Result{Speaking: t.speaking}, nil
	}

	if t.speaking {
		return Result{Event: EventContinue, Speaking: true}, nil
	}
	return Result{Event: EventNone, Speaking: false}, nil
}

// Speaking reports the latched speech state.
func (t *Tracker) Speaking() bool { return t.speaking }

// Reset clears the latched state and forwards the reset to the detector.
func (t *Tracker) Reset() error {
	t.speaking = false
	return t.det.Reset()
}

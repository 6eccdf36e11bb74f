// Package mock provides a scripted vad.Detector for tests.
package mock

import (
	"github.com/voxmux/voxmux/pkg/vad"
)

// Step describes the outcome of one Detect call.
type Step struct {
	Boundary *vad.Boundary
	Err      error
}

// Detector replays a scripted sequence of Detect outcomes. Once the script is
// exhausted, Detect returns (nil, nil). Not safe for concurrent use, matching
// the vad.Detector contract.
type Detector struct {
	Script []Step

	// Calls counts Detect invocations.
	Calls int

	// Resets counts Reset invocations.
	Resets int

	// Closed reports whether Close was called.
	Closed bool
}

var _ vad.Detector = (*Detector)(nil)

// Detect pops the next scripted step.
func (d *Detector) Detect(_ []float32) (*vad.Boundary, error) {
	i := d.Calls
	d.Calls++
	if i >= len(d.Script) {
		return nil, nil
	}
	return d.Script[i].Boundary, d.Script[i].Err
}

// Reset records the call.
func (d *Detector) Reset() error {
	d.Resets++
	return nil
}

// Close records the call.
func (d *Detector) Close() error {
	d.Closed = true
	return nil
}

// Start is a convenience constructor for a start-boundary step.
func Start() Step { return Step{Boundary: &vad.Boundary{Kind: vad.BoundaryStart}} }

// End is a convenience constructor for an end-boundary step.
func End() Step { return Step{Boundary: &vad.Boundary{Kind: vad.BoundaryEnd}} }

// Silence is a convenience constructor for a no-boundary step.
func Silence() Step { return Step{} }

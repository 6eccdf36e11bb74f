// Package silero adapts the Silero VAD ONNX model (via silero-vad-go) to the
// vad.Detector interface.
//
// The underlying library segments a growing audio stream and reports absolute
// speech start/end positions; this adapter reduces that to the edge-triggered
// boundary contract the tracker expects.
package silero

import (
	"errors"
	"fmt"
	"time"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/voxmux/voxmux/pkg/vad"
)

// Config holds the Silero detector parameters.
type Config struct {
	// ModelPath is the path to the silero_vad.onnx model file.
	ModelPath string

	// SampleRate must match the pipeline sample rate. Silero supports 8000
	// and 16000 Hz.
	SampleRate int

	// Threshold is the speech probability above which a window counts as
	// speech. Typical: 0.5.
	Threshold float32

	// MinSilenceDurationMs is the trailing silence required before a speech
	// segment is considered ended.
	MinSilenceDurationMs int
}

// Detector implements vad.Detector backed by Silero VAD.
type Detector struct {
	sd       *speech.Detector
	rate     int
	inSpeech bool
	closed   bool
}

var _ vad.Detector = (*Detector)(nil)

// New loads the Silero model and returns a ready Detector.
func New(cfg Config) (*Detector, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("silero: ModelPath must not be empty")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: load model %q: %w", cfg.ModelPath, err)
	}

	return &Detector{sd: sd, rate: cfg.SampleRate}, nil
}

// Detect feeds one chunk to the model and reports the boundary crossed in it,
// if any. Only edges are reported: a segment start while idle yields a
// BoundaryStart, a completed segment while in speech yields a BoundaryEnd.
func (d *Detector) Detect(samples []float32) (*vad.Boundary, error) {
	if d.closed {
		return nil, errors.New("silero: detector is closed")
	}

	segments, err := d.sd.Detect(samples)
	if err != nil {
		return nil, fmt.Errorf("silero: detect: %w", err)
	}
	if len(segments) == 0 {
		return nil, nil
	}

	last := segments[len(segments)-1]
	// SpeechEndAt is zero while the segment is still open.
	open := last.SpeechEndAt == 0

	switch {
	case open && !d.inSpeech:
		d.inSpeech = true
		return &vad.Boundary{
			Kind:   vad.BoundaryStart,
			Offset: secondsToDuration(last.SpeechStartAt),
		}, nil
	case !open && d.inSpeech:
		d.inSpeech = false
		return &vad.Boundary{
			Kind:   vad.BoundaryEnd,
			Offset: secondsToDuration(last.SpeechEndAt),
		}, nil
	}
	return nil, nil
}

// Reset clears the model's internal state and the adapter's edge memory.
func (d *Detector) Reset() error {
	if d.closed {
		return nil
	}
	d.inSpeech = false
	if err := d.sd.Reset(); err != nil {
		return fmt.Errorf("silero: reset: %w", err)
	}
	return nil
}

// Close destroys the ONNX session. Safe to call more than once.
func (d *Detector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.sd.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy: %w", err)
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

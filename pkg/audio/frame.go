// Package audio provides the wire-level audio frame handling for voxmux:
// decoding binary WebSocket payloads into float32 sample slices, down-mixing
// interleaved multi-channel audio to mono, and small sample-level helpers.
//
// All audio inside the pipeline is mono float32 at a fixed sample rate
// (16 kHz by default). Conversion happens once, at the ingest boundary.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleRate is the fixed pipeline sample rate in Hz. Inbound frames must
// already be at this rate; the server does not resample.
const SampleRate = 16000

// ErrMisalignedFrame is returned by DecodeFrame when a payload length is not
// a whole number of float32 samples for the declared channel count.
var ErrMisalignedFrame = errors.New("audio: payload is not a whole number of samples")

// DecodeFrame decodes a binary message of little-endian IEEE-754 float32
// samples into a mono sample slice. When channels > 1 the payload is
// interpreted as interleaved and down-mixed by averaging across channels.
//
// The payload length must be a multiple of 4×channels bytes; anything else
// is a protocol violation and returns [ErrMisalignedFrame].
func DecodeFrame(payload []byte, channels int) ([]float32, error) {
	if channels <= 0 {
		channels = 1
	}
	stride := 4 * channels
	if len(payload) == 0 || len(payload)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes, %d channels", ErrMisalignedFrame, len(payload), channels)
	}

	samples := decodeFloat32(payload)
	if channels == 1 {
		return samples, nil
	}
	return DownmixMono(samples, channels), nil
}

// decodeFloat32 reinterprets little-endian bytes as float32 samples.
// The payload length must already be validated as a multiple of 4.
func decodeFloat32(payload []byte) []float32 {
	out := make([]float32, len(payload)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(payload[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// DownmixMono averages interleaved multi-channel samples into a mono slice.
// Trailing samples that do not fill a complete interleave group are dropped.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// RMS computes the root-mean-square amplitude of a sample slice.
// Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns the play time of n samples at the pipeline sample rate,
// in seconds.
func Duration(n int) float64 {
	return float64(n) / float64(SampleRate)
}

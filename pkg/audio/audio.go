// Package audio defines the capture-side audio abstractions for VoiceCue.
//
// The two primary abstractions are:
//
//   - [Source] — a live capture stream delivering PCM frames on a channel.
//   - [Device] — an exclusive-ownership guard around the underlying input
//     device, guaranteeing exactly-one acquire and exactly-once release.
//
// Implementations of [Source] are provided by platform adapter packages; this
// repository ships a file-backed source (for replay and testing) and an
// in-memory mock. The interfaces are intentionally narrow so the transport
// stays decoupled from capture details.
//
// All frames are raw little-endian signed 16-bit PCM, mono.
package audio

import "time"

// FrameInterval is the nominal capture cadence: one frame every 100ms.
const FrameInterval = 100 * time.Millisecond

// Frame is a single captured audio frame flowing from a [Source] to the
// transcription transport.
type Frame struct {
	// PCM is raw little-endian s16le mono sample data.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for streaming transcription).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time covered by the frame's samples.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Source is a live audio capture stream.
//
// Frames returns a receive channel delivering [Frame] values at roughly
// [FrameInterval] cadence. The channel is closed when the source is exhausted
// or closed. Close stops capture and releases the underlying resource; it
// must be safe to call more than once.
//
// Implementations must be safe for concurrent use.
type Source interface {
	Frames() <-chan Frame
	Close() error
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the remaining frames of a source
// are no longer needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Package mock provides an in-memory implementation of [audio.Source] for
// use in unit tests.
//
// The mock records every method call so tests can assert on call counts, and
// exposes the frame channel directly so tests can push frames on demand:
//
//	src := mock.NewSource()
//	src.Push(audio.Frame{PCM: pcm, SampleRate: 16000})
//	src.Finish() // closes the frame channel
package mock

import (
	"sync"

	"github.com/voicecue/voicecue/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// CloseError is returned by [Source.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	frames     chan audio.Frame
	finishOnce sync.Once
}

// NewSource creates a mock source with a buffered frame channel.
func NewSource() *Source {
	return &Source{frames: make(chan audio.Frame, 64)}
}

// Push delivers a frame to consumers of [Source.Frames].
func (s *Source) Push(f audio.Frame) {
	s.frames <- f
}

// Finish closes the frame channel, simulating capture end. Idempotent.
func (s *Source) Finish() {
	s.finishOnce.Do(func() { close(s.frames) })
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Close implements [audio.Source]. It closes the frame channel and records
// the call.
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	err := s.CloseError
	s.mu.Unlock()
	s.Finish()
	return err
}

// Closes returns the recorded Close call count.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

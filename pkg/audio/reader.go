package audio

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ReaderSource replays raw little-endian s16le mono PCM from an io.Reader as
// a live capture stream, emitting one frame per [FrameInterval] so
// downstream consumers observe realistic pacing. It backs both file replay
// and stdin capture.
//
// It implements [Source]. Closing the source does not close the underlying
// reader.
type ReaderSource struct {
	frames chan Frame

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewReaderSource starts replaying r at the given sample rate.
// sampleRate must be positive.
func NewReaderSource(r io.Reader, sampleRate int) (*ReaderSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate %d must be positive", sampleRate)
	}
	s := &ReaderSource{
		frames: make(chan Frame, 8),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.replay(r, sampleRate)
	return s, nil
}

// Frames returns the channel of replayed frames. Closed at EOF or Close.
func (s *ReaderSource) Frames() <-chan Frame { return s.frames }

// Close stops the replay. Safe to call more than once.
func (s *ReaderSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

// replay reads frame-sized chunks and delivers them on a ticker until EOF,
// Close, or a read error.
func (s *ReaderSource) replay(r io.Reader, sampleRate int) {
	defer s.wg.Done()
	defer close(s.frames)

	// Bytes per frame: samples-per-interval × 2 bytes per s16 sample.
	frameBytes := sampleRate * int(FrameInterval/time.Millisecond) / 1000 * 2

	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	var elapsed time.Duration
	buf := make([]byte, frameBytes)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			pcm := make([]byte, n)
			copy(pcm, buf[:n])
			select {
			case s.frames <- Frame{PCM: pcm, SampleRate: sampleRate, Timestamp: elapsed}:
			case <-s.done:
				return
			}
			elapsed += FrameInterval
		}
		if err != nil {
			// EOF (including a short final frame) ends the stream.
			return
		}
	}
}

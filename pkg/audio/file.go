package audio

import (
	"errors"
	"fmt"
	"os"
)

// FileSource replays a raw little-endian s16le mono PCM file as a live
// capture stream. It is a [ReaderSource] that owns the underlying file.
//
// It implements [Source].
type FileSource struct {
	*ReaderSource
	f *os.File
}

// OpenFile opens path and starts replaying it at the given sample rate.
// sampleRate must be positive.
func OpenFile(path string, sampleRate int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	rs, err := NewReaderSource(f, sampleRate)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{ReaderSource: rs, f: f}, nil
}

// Close stops the replay and closes the file. Safe to call more than once.
func (s *FileSource) Close() error {
	err := s.ReaderSource.Close()
	cerr := s.f.Close()
	if cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		return errors.Join(err, cerr)
	}
	return err
}

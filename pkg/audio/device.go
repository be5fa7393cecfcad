package audio

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrDeviceBusy is returned by [Device.Acquire] when the device is already
// held by another owner.
var ErrDeviceBusy = errors.New("audio: input device already acquired")

// Device guards exclusive ownership of the audio input device.
//
// The transcription transport acquires the device for the lifetime of a
// session and releases it on every exit path (stop, error, teardown).
// Release is idempotent per acquisition: the underlying release function runs
// exactly once no matter how many times Release is called.
//
// All methods are safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	open     func() (Source, error)
	acquired bool
	release  *sync.Once
	source   Source
}

// NewDevice wraps an opener function that produces a live [Source]. The
// opener is invoked on each successful Acquire.
func NewDevice(open func() (Source, error)) *Device {
	return &Device{open: open}
}

// Acquire opens the device and returns its capture source. It fails with
// [ErrDeviceBusy] if the device is currently held.
func (d *Device) Acquire() (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.acquired {
		return nil, ErrDeviceBusy
	}
	src, err := d.open()
	if err != nil {
		return nil, err
	}

	d.acquired = true
	d.release = &sync.Once{}
	d.source = src
	return src, nil
}

// Release closes the current source and frees the device for the next
// Acquire. Calling Release when nothing is held is a no-op; concurrent
// callers close the source exactly once.
func (d *Device) Release() {
	d.mu.Lock()
	once := d.release
	src := d.source
	d.mu.Unlock()

	if once == nil {
		return
	}
	once.Do(func() {
		if src != nil {
			if err := src.Close(); err != nil {
				slog.Warn("audio: source close failed", "error", err)
			}
		}
		d.mu.Lock()
		d.acquired = false
		d.source = nil
		d.mu.Unlock()
	})
}

// Held reports whether the device is currently acquired.
func (d *Device) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}

// Package audio owns microphone capture: a growing 16 kHz mono sample buffer,
// a live level meter and an optional WAV spool of the session.
package audio

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	ErrAlreadyRecording = errors.New("audio capture already active")
	ErrNotRecording     = errors.New("no active audio capture")
)

// StreamConfig describes how a device should be opened.
type StreamConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// Device opens input streams. onFrame is called from the device goroutine
// with a buffer that is only valid for the duration of the call. onError is
// called at most once, from the same goroutine, when the device stops
// delivering audio before Close.
type Device interface {
	Open(cfg StreamConfig, onFrame func(frame []float32), onError func(err error)) (Stream, error)
}

// Stream is an opened input stream. Close must release the device and may be
// called after a failed Start.
type Stream interface {
	Start() error
	Close() error
}

// Meter is a level/duration sample for UI feedback and voice activity detection.
type Meter struct {
	Level   float64
	Elapsed time.Duration
}

// Session identifies an active capture.
type Session struct {
	ID         string
	StartedAt  time.Time
	SampleRate int
}

// Capture is the result of a stopped session. Samples is owned by the caller.
type Capture struct {
	SessionID  string
	Samples    []float32
	SampleRate int
	SpoolPath  string

	keepSpool bool
}

func (c Capture) Duration() time.Duration {
	return SamplesDuration(len(c.Samples), c.SampleRate)
}

// Load returns the captured samples, preferring the in-memory buffer and
// falling back to the spool file only when memory is empty.
func (c Capture) Load() ([]float32, error) {
	if len(c.Samples) > 0 {
		return c.Samples, nil
	}
	if c.SpoolPath == "" {
		return nil, nil
	}
	samples, rate, err := ReadWAV(c.SpoolPath)
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}
	if c.SampleRate > 0 && rate != c.SampleRate {
		return nil, fmt.Errorf("spool sample rate %d does not match capture rate %d", rate, c.SampleRate)
	}
	return samples, nil
}

// Discard drops the buffer and removes the spool file unless configured to keep it.
func (c *Capture) Discard() error {
	c.Samples = nil
	if c.SpoolPath == "" || c.keepSpool {
		return nil
	}
	err := os.Remove(c.SpoolPath)
	c.SpoolPath = ""
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SamplesDuration converts a sample count to wall-clock duration.
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// DurationSamples converts a duration to a sample count.
func DurationSamples(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

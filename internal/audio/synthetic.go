package audio

import (
	"math"
	"sync"
	"time"
)

// SyntheticDevice produces a tone at real-time pace. It stands in for a
// microphone on headless hosts and in end-to-end tests.
type SyntheticDevice struct {
	Frequency float64
	// Amplitude returns the tone amplitude for the given stream offset. A nil
	// Amplitude emits a constant 0.3 tone.
	Amplitude func(offset time.Duration) float64
	// Speed > 1 delivers frames faster than real time.
	Speed float64
}

func (d *SyntheticDevice) Open(cfg StreamConfig, onFrame func([]float32), _ func(error)) (Stream, error) {
	freq := d.Frequency
	if freq <= 0 {
		freq = 440
	}
	speed := d.Speed
	if speed <= 0 {
		speed = 1
	}
	period := time.Duration(float64(SamplesDuration(cfg.FramesPerBuffer, cfg.SampleRate)) / speed)
	if period <= 0 {
		period = time.Millisecond
	}
	return &syntheticStream{
		cfg:       cfg,
		freq:      freq,
		amplitude: d.Amplitude,
		period:    period,
		onFrame:   onFrame,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

type syntheticStream struct {
	cfg       StreamConfig
	freq      float64
	amplitude func(time.Duration) float64
	period    time.Duration
	onFrame   func([]float32)

	stop      chan struct{}
	done      chan struct{}
	started   bool
	closeOnce sync.Once
}

func (s *syntheticStream) Start() error {
	s.started = true
	go s.run()
	return nil
}

func (s *syntheticStream) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	frame := make([]float32, s.cfg.FramesPerBuffer)
	var pos int
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		amp := 0.3
		if s.amplitude != nil {
			amp = s.amplitude(SamplesDuration(pos, s.cfg.SampleRate))
		}
		for i := range frame {
			t := float64(pos+i) / float64(s.cfg.SampleRate)
			frame[i] = float32(amp * math.Sin(2*math.Pi*s.freq*t))
		}
		pos += len(frame)
		s.onFrame(frame)
	}
}

func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.started {
			<-s.done
		}
	})
	return nil
}

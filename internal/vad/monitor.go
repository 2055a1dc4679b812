// Package vad watches the capture level and reports sustained silence after
// speech so auto-stop sessions can end themselves.
package vad

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/audio"
)

// Config for the energy detector.
type Config struct {
	// Threshold is the 0..1 level that counts as speech.
	Threshold float64
	// Silence is how long the level must stay below Threshold after speech.
	Silence time.Duration
}

// Monitor fires onSilence at most once per Start. Silence is measured in
// captured audio time taken from the meter stream.
type Monitor struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(cfg Config, log *slog.Logger) *Monitor {
	return &Monitor{cfg: cfg, log: log.With(slog.String("component", "vad"))}
}

// Start begins watching levels. A running monitor is stopped first.
func (m *Monitor) Start(ctx context.Context, levels <-chan audio.Meter, onSilence func()) {
	m.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(runCtx, levels, onSilence, done)
}

// Stop cancels the watcher and waits for it to exit. Safe to call when idle.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, levels <-chan audio.Meter, onSilence func(), done chan struct{}) {
	defer close(done)
	var det detector
	det.cfg = m.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case meter, ok := <-levels:
			if !ok {
				return
			}
			if det.observe(meter) {
				m.log.Info("silence detected", slog.Duration("after", meter.Elapsed))
				onSilence()
				return
			}
		}
	}
}

type detector struct {
	cfg          Config
	heardSpeech  bool
	silenceSince time.Duration
	inSilence    bool
}

// observe reports true once the silence condition is met.
func (d *detector) observe(m audio.Meter) bool {
	if m.Level >= d.cfg.Threshold {
		d.heardSpeech = true
		d.inSilence = false
		return false
	}
	if !d.heardSpeech {
		return false
	}
	if !d.inSilence {
		d.inSilence = true
		d.silenceSince = m.Elapsed
		return false
	}
	return m.Elapsed-d.silenceSince >= d.cfg.Silence
}

package vad

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/audio"
)

func feed(levels []float64, step time.Duration) []audio.Meter {
	out := make([]audio.Meter, len(levels))
	for i, l := range levels {
		out[i] = audio.Meter{Level: l, Elapsed: time.Duration(i+1) * step}
	}
	return out
}

func TestDetectorRequiresSpeechFirst(t *testing.T) {
	d := detector{cfg: Config{Threshold: 0.1, Silence: time.Second}}
	for _, m := range feed(make([]float64, 100), 100*time.Millisecond) {
		if d.observe(m) {
			t.Fatalf("silence before any speech must not fire")
		}
	}
}

func TestDetectorFiresAfterSustainedSilence(t *testing.T) {
	d := detector{cfg: Config{Threshold: 0.1, Silence: time.Second}}
	levels := []float64{0.3, 0.4, 0.02, 0.01, 0.5, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01}
	fired := -1
	for i, m := range feed(levels, 100*time.Millisecond) {
		if d.observe(m) {
			fired = i
			break
		}
	}
	// silence starts at index 5 (600ms), one second later is index 15
	if fired != 15 {
		t.Fatalf("expected to fire at index 15, got %d", fired)
	}
}

func TestMonitorCallsOnceAndStops(t *testing.T) {
	m := NewMonitor(Config{Threshold: 0.1, Silence: 200 * time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	levels := make(chan audio.Meter, 32)
	fired := make(chan struct{}, 4)
	m.Start(context.Background(), levels, func() { fired <- struct{}{} })

	for _, meter := range feed([]float64{0.5, 0, 0, 0, 0, 0, 0}, 50*time.Millisecond) {
		levels <- meter
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected silence callback")
	}

	for _, meter := range feed([]float64{0.5, 0, 0, 0, 0, 0, 0}, 50*time.Millisecond) {
		levels <- meter
	}
	m.Stop()
	select {
	case <-fired:
		t.Fatalf("monitor must fire at most once per start")
	default:
	}
}

func TestMonitorStopBeforeSilence(t *testing.T) {
	m := NewMonitor(Config{Threshold: 0.1, Silence: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	levels := make(chan audio.Meter)
	m.Start(context.Background(), levels, func() { t.Errorf("unexpected callback") })
	m.Stop()
	m.Stop()
}

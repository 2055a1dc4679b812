// Package live produces running text while a session is still recording by
// re-transcribing a bounded window of the growing capture buffer and
// periodically confirming a stable prefix.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/stt"
)

type Config struct {
	Interval    time.Duration
	MinNewAudio time.Duration
	Window      time.Duration
	Overlap     time.Duration
	// FinalizeAfter is how much unconfirmed audio triggers a finalization
	// cycle. Defaults to Window+Overlap.
	FinalizeAfter    time.Duration
	FinalizeFraction float64
	SampleRate       int
	Policy           CutPolicy
}

func DefaultConfig() Config {
	return Config{
		Interval:         1500 * time.Millisecond,
		MinNewAudio:      500 * time.Millisecond,
		Window:           8 * time.Second,
		Overlap:          2 * time.Second,
		FinalizeAfter:    10 * time.Second,
		FinalizeFraction: 0.5,
		SampleRate:       stt.DefaultSampleRate,
		Policy:           SegmentCut,
	}
}

// ConfigFromSettings converts the live section of the daemon config.
func ConfigFromSettings(c config.LiveConfig, sampleRate int) Config {
	cfg := DefaultConfig()
	if c.IntervalMS > 0 {
		cfg.Interval = time.Duration(c.IntervalMS) * time.Millisecond
	}
	if c.MinNewAudioMS > 0 {
		cfg.MinNewAudio = time.Duration(c.MinNewAudioMS) * time.Millisecond
	}
	if c.WindowSeconds > 0 {
		cfg.Window = seconds(c.WindowSeconds)
	}
	if c.OverlapSeconds > 0 {
		cfg.Overlap = seconds(c.OverlapSeconds)
	}
	cfg.FinalizeAfter = cfg.Window + cfg.Overlap
	if c.FinalizeSeconds > 0 {
		cfg.FinalizeAfter = seconds(c.FinalizeSeconds)
	}
	if c.FinalizeFraction > 0 {
		cfg.FinalizeFraction = c.FinalizeFraction
	}
	if sampleRate > 0 {
		cfg.SampleRate = sampleRate
	}
	return cfg
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// Source exposes the growing capture buffer.
type Source interface {
	Snapshot() []float32
}

// Update is published after every successful cycle.
type Update struct {
	Text      string
	Confirmed string
	// Finalized is set when this cycle grew Confirmed.
	Finalized bool
}

// Transcriber runs one streaming session at a time.
type Transcriber struct {
	cfg      Config
	source   Source
	engine   stt.Engine
	opts     stt.Options
	onUpdate func(Update)
	log      *slog.Logger

	mu            sync.Mutex
	gen           uint64
	active        bool
	cancel        context.CancelFunc
	done          chan struct{}
	confirmed     string
	display       string
	lastFinalized int
	lastProcessed int
}

func NewTranscriber(cfg Config, source Source, engine stt.Engine, opts stt.Options, onUpdate func(Update), log *slog.Logger) *Transcriber {
	if cfg.Policy == nil {
		cfg.Policy = SegmentCut
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = stt.DefaultSampleRate
	}
	if cfg.FinalizeAfter <= 0 {
		cfg.FinalizeAfter = cfg.Window + cfg.Overlap
	}
	if cfg.FinalizeFraction <= 0 || cfg.FinalizeFraction >= 1 {
		cfg.FinalizeFraction = 0.5
	}
	opts.SampleRate = cfg.SampleRate
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}
	done := make(chan struct{})
	close(done)
	return &Transcriber{
		cfg:      cfg,
		source:   source,
		engine:   engine,
		opts:     opts,
		onUpdate: onUpdate,
		log:      log.With(slog.String("component", "live"), slog.String("engine", engine.Name())),
		done:     done,
	}
}

// Start resets the session state and begins the periodic cycle.
func (t *Transcriber) Start(ctx context.Context) {
	t.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.active = true
	t.cancel = cancel
	t.done = make(chan struct{})
	t.confirmed, t.display = "", ""
	t.lastFinalized, t.lastProcessed = 0, 0
	done := t.done
	t.mu.Unlock()

	go t.loop(runCtx, gen, done)
}

// Stop cancels the loop and any in-flight inference without waiting for it.
// Results that arrive afterwards are discarded.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.active = false
	t.gen++
	t.cancel()
}

// Done is closed once the current loop goroutine has exited.
func (t *Transcriber) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Text returns the latest displayed text.
func (t *Transcriber) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.display
}

// Confirmed returns the permanent prefix.
func (t *Transcriber) Confirmed() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirmed
}

func (t *Transcriber) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.cycle(ctx, gen)
		}
	}
}

// cycle runs one sliding-window pass. It returns false when the cycle was
// skipped, failed or discarded.
func (t *Transcriber) cycle(ctx context.Context, gen uint64) bool {
	samples := t.source.Snapshot()
	n := len(samples)
	rate := t.cfg.SampleRate

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return false
	}
	lastFinalized, lastProcessed, confirmed := t.lastFinalized, t.lastProcessed, t.confirmed
	t.mu.Unlock()

	if n-lastProcessed < audio.DurationSamples(t.cfg.MinNewAudio, rate) {
		return false
	}
	window := audio.DurationSamples(t.cfg.Window, rate)
	finalizeAfter := audio.DurationSamples(t.cfg.FinalizeAfter, rate)

	var (
		update        Update
		nextFinalized = lastFinalized
		nextConfirmed = confirmed
	)
	switch {
	case lastFinalized == 0 && n <= window:
		res, err := t.engine.Transcribe(ctx, samples, t.opts)
		if err != nil {
			t.logFailure(ctx, err, n)
			return false
		}
		update.Text = res.Text

	case n-lastFinalized >= finalizeAfter:
		span := samples[lastFinalized:n]
		res, err := t.engine.Transcribe(ctx, span, t.opts)
		if err != nil {
			t.logFailure(ctx, err, n)
			return false
		}
		cut := t.cfg.Policy(res, audio.SamplesDuration(len(span), rate), t.cfg.FinalizeFraction)
		at := audio.DurationSamples(cut.At, rate)
		if at > 0 && at <= len(span) {
			nextConfirmed = joinText(confirmed, cut.Confirmed)
			nextFinalized = lastFinalized + at
			update.Finalized = true
			update.Text = joinText(nextConfirmed, cut.Rest)
		} else {
			update.Text = joinText(confirmed, res.Text)
		}

	default:
		start := max(n-window, lastFinalized)
		res, err := t.engine.Transcribe(ctx, samples[start:n], t.opts)
		if err != nil {
			t.logFailure(ctx, err, n)
			return false
		}
		update.Text = joinText(confirmed, res.Text)
	}
	update.Confirmed = nextConfirmed

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return false
	}
	t.confirmed = nextConfirmed
	t.lastFinalized = nextFinalized
	t.lastProcessed = n
	t.display = update.Text
	t.mu.Unlock()

	if update.Finalized {
		t.log.Debug("finalized live prefix",
			slog.Duration("confirmed_audio", audio.SamplesDuration(nextFinalized, rate)),
			slog.Int("confirmed_chars", len(nextConfirmed)),
		)
	}
	t.onUpdate(update)
	return true
}

func (t *Transcriber) logFailure(ctx context.Context, err error, n int) {
	if ctx.Err() != nil {
		return
	}
	t.log.Warn("live transcription cycle failed",
		slog.Duration("buffered", audio.SamplesDuration(n, t.cfg.SampleRate)),
		slog.String("error", err.Error()),
	)
}

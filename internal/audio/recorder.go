package audio

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-dictation/internal/errs"
)

const meterBuffer = 16

// Config controls capture format and spooling.
type Config struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	// SpoolDir enables writing each session to a temporary WAV file.
	SpoolDir  string
	KeepSpool bool
	// LevelGain scales frame RMS into the 0..1 meter range.
	LevelGain float64
}

// Recorder captures one session at a time into a growing mono buffer.
type Recorder struct {
	device Device
	cfg    Config
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	active    *recording
	level     float64
	subs      map[int]chan Meter
	nextSub   int
	onFailure func(sessionID string, err error)
}

type recording struct {
	session Session
	stream  Stream
	samples []float32
	spool   *spool
}

func NewRecorder(device Device, cfg Config, log *slog.Logger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	if cfg.LevelGain <= 0 {
		cfg.LevelGain = 1
	}
	return &Recorder{
		device: device,
		cfg:    cfg,
		log:    log.With(slog.String("component", "recorder")),
		now:    time.Now,
		subs:   make(map[int]chan Meter),
	}
}

// Start opens the device and begins buffering. Device failures are reported
// as permission errors since that is the common cause on desktop platforms.
func (r *Recorder) Start(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return Session{}, ErrAlreadyRecording
	}
	rec := &recording{
		session: Session{
			ID:         uuid.NewString(),
			StartedAt:  r.now(),
			SampleRate: r.cfg.SampleRate,
		},
	}
	r.active = rec
	r.level = 0
	r.mu.Unlock()

	if r.cfg.SpoolDir != "" {
		sp, err := createSpool(r.cfg.SpoolDir, rec.session.ID, r.cfg.SampleRate)
		if err != nil {
			r.log.Warn("capture spool unavailable, buffering in memory only", slog.String("error", err.Error()))
		} else {
			rec.spool = sp
		}
	}

	streamCfg := StreamConfig{
		SampleRate:      r.cfg.SampleRate,
		Channels:        r.cfg.Channels,
		FramesPerBuffer: r.cfg.FramesPerBuffer,
	}
	stream, err := r.device.Open(streamCfg,
		func(frame []float32) { r.append(rec, frame) },
		func(err error) { r.fail(rec, err) },
	)
	if err != nil {
		r.abandon(rec)
		return Session{}, errs.Wrap(err, errs.KindPermissionDenied, "open microphone")
	}
	r.mu.Lock()
	rec.stream = stream
	r.mu.Unlock()

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		r.abandon(rec)
		return Session{}, errs.Wrap(err, errs.KindPermissionDenied, "start microphone")
	}

	r.log.Info("capture started", slog.String("session_id", rec.session.ID))
	return rec.session, nil
}

func (r *Recorder) abandon(rec *recording) {
	r.mu.Lock()
	if r.active == rec {
		r.active = nil
	}
	r.mu.Unlock()
	if rec.spool != nil {
		rec.spool.remove()
	}
}

// OnFailure registers fn to run when the device stops delivering audio in
// the middle of a session. The session stays active until Stop or Cancel.
// fn runs on the device goroutine and must not call back into the Recorder.
func (r *Recorder) OnFailure(fn func(sessionID string, err error)) {
	r.mu.Lock()
	r.onFailure = fn
	r.mu.Unlock()
}

func (r *Recorder) fail(rec *recording, err error) {
	r.mu.Lock()
	current := r.active == rec
	fn := r.onFailure
	r.mu.Unlock()
	if !current {
		return
	}
	r.log.Warn("capture interrupted", slog.String("session_id", rec.session.ID), slog.String("error", err.Error()))
	if fn != nil {
		fn(rec.session.ID, errs.Wrap(err, errs.KindPermissionDenied, "microphone stopped delivering audio"))
	}
}

func (r *Recorder) append(rec *recording, frame []float32) {
	mono := downmix(frame, r.cfg.Channels)
	level := rmsLevel(mono, r.cfg.LevelGain)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != rec {
		return
	}
	rec.samples = append(rec.samples, mono...)
	if rec.spool != nil {
		if err := rec.spool.write(mono); err != nil {
			r.log.Warn("capture spool write failed", slog.String("error", err.Error()))
			rec.spool.remove()
			rec.spool = nil
		}
	}
	r.level = level
	meter := Meter{Level: level, Elapsed: SamplesDuration(len(rec.samples), r.cfg.SampleRate)}
	for _, ch := range r.subs {
		select {
		case ch <- meter:
		default:
		}
	}
}

// Stop ends the active session, releases the device and hands the buffer to
// the caller.
func (r *Recorder) Stop() (Capture, error) {
	rec, err := r.detach()
	if err != nil {
		return Capture{}, err
	}
	r.closeStream(rec)

	capture := Capture{
		SessionID:  rec.session.ID,
		Samples:    rec.samples,
		SampleRate: r.cfg.SampleRate,
		keepSpool:  r.cfg.KeepSpool,
	}
	if rec.spool != nil {
		if err := rec.spool.close(); err != nil {
			r.log.Warn("capture spool finalize failed", slog.String("error", err.Error()))
			if err := os.Remove(rec.spool.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.log.Warn("failed to remove capture spool", slog.String("error", err.Error()))
			}
		} else {
			capture.SpoolPath = rec.spool.path
		}
	}
	r.log.Info("capture stopped",
		slog.String("session_id", rec.session.ID),
		slog.Duration("duration", capture.Duration()),
	)
	return capture, nil
}

// Cancel ends the active session and drops everything it captured. It is a
// no-op when nothing is recording.
func (r *Recorder) Cancel() error {
	rec, err := r.detach()
	if err != nil {
		return nil
	}
	r.closeStream(rec)
	if rec.spool != nil && !r.cfg.KeepSpool {
		rec.spool.remove()
	} else if rec.spool != nil {
		_ = rec.spool.close()
	}
	rec.samples = nil
	r.log.Info("capture cancelled", slog.String("session_id", rec.session.ID))
	return nil
}

func (r *Recorder) detach() (*recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.active
	if rec == nil || rec.stream == nil {
		return nil, ErrNotRecording
	}
	r.active = nil
	r.level = 0
	return rec, nil
}

func (r *Recorder) closeStream(rec *recording) {
	if err := rec.stream.Close(); err != nil {
		r.log.Warn("failed to release input device", slog.String("error", err.Error()))
	}
}

// Snapshot returns a copy of everything captured so far in the active session.
func (r *Recorder) Snapshot() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	return append([]float32(nil), r.active.samples...)
}

func (r *Recorder) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return 0
	}
	return SamplesDuration(len(r.active.samples), r.cfg.SampleRate)
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Subscribe returns a channel of meter updates. Slow readers miss updates
// rather than stalling capture.
func (r *Recorder) Subscribe() (<-chan Meter, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan Meter, meterBuffer)
	r.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func downmix(frame []float32, channels int) []float32 {
	if channels <= 1 {
		return append([]float32(nil), frame...)
	}
	out := make([]float32, len(frame)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += frame[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// rmsLevel returns frame energy scaled by gain and clamped to 0..1.
func rmsLevel(frame []float32, gain float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	level := math.Sqrt(sum/float64(len(frame))) * gain
	return math.Max(0, math.Min(1, level))
}

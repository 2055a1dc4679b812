package dictation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/errs"
	"github.com/loqalabs/loqa-dictation/internal/stt"
)

type outcome struct {
	sessionID    string
	result       stt.Result
	err          error
	discarded    bool
	liveFallback bool
	inserted     bool
	insertErr    error
}

// finalize runs the one-shot pass over the stopped capture. It runs off the
// Run goroutine and never touches orchestrator state. The capture is always
// discarded before returning.
func (o *Orchestrator) finalize(s *session, capture audio.Capture, stopErr error, liveText string) (out outcome) {
	out.sessionID = s.id
	defer func() {
		if err := capture.Discard(); err != nil {
			o.log.Warn("failed to remove capture spool", slogError(err))
		}
	}()
	log := o.log.With(slog.String("session_id", s.id))

	if stopErr != nil {
		out.err = errs.Wrap(stopErr, errs.KindNoAudioCaptured, "stop capture")
		return out
	}
	samples, err := capture.Load()
	if err != nil {
		out.err = errs.Wrap(err, errs.KindNoAudioCaptured, "load captured audio")
		return out
	}
	if len(samples) == 0 {
		out.err = errs.New(errs.KindNoAudioCaptured, "no audio captured")
		return out
	}
	rate := capture.SampleRate
	if rate <= 0 {
		rate = o.sampleRate
	}
	duration := audio.SamplesDuration(len(samples), rate)
	if duration < s.settings.MinDuration {
		log.Info("discarding short recording", slog.Duration("duration", duration))
		out.discarded = true
		out.err = errs.Newf(errs.KindRecordingTooShort, "recording of %s is shorter than %s", duration, s.settings.MinDuration)
		return out
	}

	if !o.models.ModelLoaded(s.settings.Engine, s.settings.Model) {
		out.err = errs.Newf(errs.KindModelNotLoaded, "model for %s is not loaded", s.settings.Engine).
			WithMetadata("model", s.settings.Model)
		return out
	}
	engine, err := o.engines.Engine(s.settings.Engine)
	if err != nil {
		out.err = err
		return out
	}

	res, err := o.transcribe(s, engine, samples, rate, duration)
	if err != nil {
		if strings.TrimSpace(liveText) == "" {
			if errs.KindOf(err) == errs.KindUnknown {
				err = errs.Wrap(err, errs.KindInferenceFailed, "final transcription failed")
			}
			out.err = err
			return out
		}
		log.Warn("final transcription failed, keeping live text", slogError(err))
		res = stt.Result{Text: liveText, AudioDuration: duration, Language: s.settings.Language, Engine: engine.Name()}
		out.liveFallback = true
	}

	if s.settings.RemoveFillers {
		res.Text = RemoveFillers(res.Text)
	}
	out.result = res

	if s.settings.InsertText && strings.TrimSpace(res.Text) != "" {
		if err := o.inserter.Insert(s.ctx, res.Text); err != nil {
			out.insertErr = errs.Wrap(err, errs.KindTextInsertionFailed, "insert transcript")
			log.Warn("text insertion failed", slogError(err))
		} else {
			out.inserted = true
		}
	}
	log.Info("transcription complete",
		slog.String("engine", res.Engine),
		slog.Duration("audio", duration),
		slog.Duration("processing", res.ProcessingDuration),
		slog.Int("chars", len(res.Text)),
	)
	return out
}

func (o *Orchestrator) transcribe(s *session, engine stt.Engine, samples []float32, rate int, duration time.Duration) (stt.Result, error) {
	ctx := s.ctx
	if s.settings.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.TranscribeTimeout)
		defer cancel()
	}
	ctx, span := o.tracer.Start(ctx, "dictation.transcribe", trace.WithAttributes(
		attribute.String("dictation.session_id", s.id),
		attribute.String("dictation.engine", engine.Name()),
		attribute.Float64("dictation.audio_seconds", duration.Seconds()),
	))
	defer span.End()

	started := time.Now()
	res, err := engine.Transcribe(ctx, samples, s.settings.options(rate))
	elapsed := time.Since(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stt.Result{}, err
	}
	if res.ProcessingDuration == 0 {
		res.ProcessingDuration = elapsed
	}
	if res.AudioDuration == 0 {
		res.AudioDuration = duration
	}
	if res.Engine == "" {
		res.Engine = engine.Name()
	}
	o.metrics.transcribed(res.Engine, elapsed.Seconds(), duration.Seconds())
	return res, nil
}

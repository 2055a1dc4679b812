//go:build whispercpp

package stt

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/errs"
)

const EngineWhisperNative = "whisper-native"

func init() {
	nativeWhisper = newNativeWhisperEngine
}

// nativeWhisperEngine runs whisper.cpp in process through its cgo bindings.
// The model is loaded lazily on first use and kept for the process lifetime.
type nativeWhisperEngine struct {
	modelPath string
	threads   int

	mu    sync.Mutex
	model whisper.Model
}

func newNativeWhisperEngine(cfg config.WhisperConfig) (Engine, error) {
	return &nativeWhisperEngine{modelPath: cfg.Model, threads: cfg.Threads}, nil
}

func (e *nativeWhisperEngine) Name() string { return EngineWhisperNative }

func (e *nativeWhisperEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		model, err := whisper.New(e.modelPath)
		if err != nil {
			return Result{}, errs.Wrap(err, errs.KindModelNotLoaded, "load whisper model").WithMetadata("model", e.modelPath)
		}
		e.model = model
	}

	started := time.Now()
	wctx, err := e.model.NewContext()
	if err != nil {
		return Result{}, errs.Wrap(err, errs.KindInferenceFailed, "create whisper context")
	}
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return Result{}, errs.Wrapf(err, errs.KindInferenceFailed, "unsupported language %q", lang)
	}
	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}
	if len(opts.Vocabulary) > 0 {
		wctx.SetInitialPrompt(strings.Join(opts.Vocabulary, ", "))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, errs.Wrap(err, errs.KindInferenceFailed, "whisper inference")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, errs.Wrap(err, errs.KindCancelled, "whisper transcription cancelled")
	}

	var segments []Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, errs.Wrap(err, errs.KindInferenceFailed, "read whisper segment")
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Index: len(segments), Text: text, Start: seg.Start, End: seg.End})
	}

	language := opts.Language
	if detected := wctx.DetectedLanguage(); detected != "" {
		language = detected
	}
	return Result{
		Text:               JoinSegments(segments),
		Segments:           segments,
		Language:           language,
		AudioDuration:      samplesDuration(len(samples), opts.sampleRate()),
		ProcessingDuration: time.Since(started),
		Engine:             EngineWhisperNative,
	}, nil
}

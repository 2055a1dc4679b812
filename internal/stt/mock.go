package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/errs"
)

const EngineMock = "mock"

type mockEngine struct{}

// NewMockEngine returns an engine that describes the audio it was given.
func NewMockEngine() Engine {
	return mockEngine{}
}

func (mockEngine) Name() string { return EngineMock }

func (mockEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, errs.Wrap(err, errs.KindCancelled, "mock transcription cancelled")
	}
	dur := samplesDuration(len(samples), opts.sampleRate())
	text := fmt.Sprintf("mock transcript of %.1f seconds", dur.Seconds())
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	return Result{
		Text:          text,
		Segments:      []Segment{{Index: 0, Text: text, Start: 0, End: dur}},
		Language:      lang,
		AudioDuration: dur,
		// deterministic for tests
		ProcessingDuration: time.Millisecond,
		Engine:             EngineMock,
	}, nil
}

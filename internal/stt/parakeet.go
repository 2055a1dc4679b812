package stt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/errs"
)

const EngineParakeet = "parakeet"

// parakeetEngine runs an English-only Parakeet TDT runner that prints one
// JSON document on stdout. It has no language or vocabulary controls.
type parakeetEngine struct {
	cmd   []string
	model string
	mu    sync.Mutex
}

type parakeetOutput struct {
	Text     string `json:"text"`
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

func NewParakeetEngine(cfg config.ParakeetConfig) (Engine, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	return &parakeetEngine{cmd: args, model: cfg.Model}, nil
}

func (e *parakeetEngine) Name() string { return EngineParakeet }

func (e *parakeetEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	rate := opts.sampleRate()
	work, input, err := newWorkDir(samples, rate)
	if err != nil {
		return Result{}, errs.Wrap(err, errs.KindInferenceFailed, "prepare parakeet input")
	}
	defer work.Remove()

	args := append([]string{}, e.cmd...)
	args = append(args, "--audio", input)
	if e.model != "" {
		args = append(args, "--model", e.model)
	}
	stdout, err := runCommand(ctx, EngineParakeet, args)
	if err != nil {
		return Result{}, err
	}

	var out parakeetOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return Result{}, errs.Wrap(err, errs.KindInferenceFailed, "decode parakeet output")
	}
	segments := make([]Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Index:     len(segments),
			Text:      text,
			Start:     secondsDuration(s.Start),
			End:       secondsDuration(s.End),
			SpeakerID: s.Speaker,
		})
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		text = JoinSegments(segments)
	}
	return Result{
		Text:               text,
		Segments:           segments,
		Language:           "en",
		AudioDuration:      samplesDuration(len(samples), rate),
		ProcessingDuration: time.Since(started),
		Engine:             EngineParakeet,
	}, nil
}

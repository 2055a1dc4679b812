package stt

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/errs"
)

const EngineWhisper = "whisper"

// whisperEngine drives the whisper.cpp command line tool and reads its JSON
// output file.
type whisperEngine struct {
	cmd     []string
	model   string
	threads int
	mu      sync.Mutex
}

// whisperOutput matches the file written by `whisper-cli -oj`.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func NewWhisperEngine(cfg config.WhisperConfig) (Engine, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	return &whisperEngine{cmd: args, model: cfg.Model, threads: cfg.Threads}, nil
}

func (e *whisperEngine) Name() string { return EngineWhisper }

func (e *whisperEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	rate := opts.sampleRate()
	work, input, err := newWorkDir(samples, rate)
	if err != nil {
		return Result{}, errs.Wrap(err, errs.KindInferenceFailed, "prepare whisper input")
	}
	defer work.Remove()

	prefix := work.path("out")
	args := append([]string{}, e.cmd...)
	args = append(args, "-m", e.model, "-f", input, "-oj", "-of", prefix, "-np")
	if e.threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.threads))
	}
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	args = append(args, "-l", lang)
	if len(opts.Vocabulary) > 0 {
		args = append(args, "--prompt", strings.Join(opts.Vocabulary, ", "))
	}

	if _, err := runCommand(ctx, EngineWhisper, args); err != nil {
		return Result{}, err
	}

	data, err := os.ReadFile(prefix + ".json")
	if err != nil {
		return Result{}, errs.Wrap(err, errs.KindInferenceFailed, "read whisper output")
	}
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, errs.Wrap(err, errs.KindInferenceFailed, "decode whisper output")
	}

	segments := make([]Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Index: len(segments),
			Text:  text,
			Start: time.Duration(t.Offsets.From) * time.Millisecond,
			End:   time.Duration(t.Offsets.To) * time.Millisecond,
		})
	}
	language := out.Result.Language
	if language == "" {
		language = opts.Language
	}
	return Result{
		Text:               JoinSegments(segments),
		Segments:           segments,
		Language:           language,
		AudioDuration:      samplesDuration(len(samples), rate),
		ProcessingDuration: time.Since(started),
		Engine:             EngineWhisper,
	}, nil
}

package stt

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/errs"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

const fakeWhisper = `
out=""
lang=""
while [ $# -gt 0 ]; do
  case "$1" in
    -of) out="$2"; shift ;;
    -l) lang="$2"; shift ;;
  esac
  shift
done
cat > "$out.json" <<EOF
{"result":{"language":"$lang"},"transcription":[
 {"offsets":{"from":0,"to":1200},"text":" Hello there."},
 {"offsets":{"from":1200,"to":2000},"text":" "},
 {"offsets":{"from":2000,"to":3500},"text":" General Kenobi."}
]}
EOF
`

func TestWhisperEngineParsesJSONOutput(t *testing.T) {
	script := writeScript(t, fakeWhisper)
	engine, err := NewWhisperEngine(config.WhisperConfig{Command: script, Model: "model.bin", Threads: 2})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	res, err := engine.Transcribe(context.Background(), make([]float32, 16000), Options{Language: "de"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "Hello there. General Kenobi." {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if len(res.Segments) != 2 || res.Segments[1].Index != 1 {
		t.Fatalf("expected blank segment dropped, got %+v", res.Segments)
	}
	if res.Segments[1].Start != 2*time.Second || res.Segments[1].End != 3500*time.Millisecond {
		t.Fatalf("unexpected offsets %+v", res.Segments[1])
	}
	if res.Language != "de" || res.Engine != EngineWhisper || res.AudioDuration != time.Second {
		t.Fatalf("unexpected metadata %+v", res)
	}
}

func TestWhisperEngineAutoDetectsWithoutHint(t *testing.T) {
	script := writeScript(t, fakeWhisper)
	engine, err := NewWhisperEngine(config.WhisperConfig{Command: script, Model: "model.bin"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err := engine.Transcribe(context.Background(), make([]float32, 1600), Options{})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Language != "auto" {
		t.Fatalf("expected auto language flag to be passed, got %q", res.Language)
	}
}

func TestParakeetEngineIgnoresLanguageHint(t *testing.T) {
	script := writeScript(t, `cat <<EOF
{"text":"","segments":[{"start":0.0,"end":1.5,"text":"ship it","speaker":"spk0"},{"start":1.5,"end":2.0,"text":"today"}]}
EOF
`)
	engine, err := NewParakeetEngine(config.ParakeetConfig{Command: script, Model: "dir"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err := engine.Transcribe(context.Background(), make([]float32, 32000), Options{Language: "fr", Vocabulary: []string{"Loqa"}})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Language != "en" {
		t.Fatalf("parakeet is english only, got %q", res.Language)
	}
	if res.Text != "ship it today" || res.Segments[0].SpeakerID != "spk0" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Segments[0].End != 1500*time.Millisecond {
		t.Fatalf("unexpected segment end %v", res.Segments[0].End)
	}
}

func TestExecFailureIsInferenceFailed(t *testing.T) {
	script := writeScript(t, "echo 'model file corrupt' >&2\nexit 3\n")
	engine, err := NewParakeetEngine(config.ParakeetConfig{Command: script})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = engine.Transcribe(context.Background(), make([]float32, 1600), Options{})
	if !errs.Is(err, errs.KindInferenceFailed) {
		t.Fatalf("expected inference failed, got %v", err)
	}
}

func TestExecCancelledContext(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")
	engine, err := NewParakeetEngine(config.ParakeetConfig{Command: script})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = engine.Transcribe(ctx, make([]float32, 1600), Options{})
	if !errs.Is(err, errs.KindCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestEmptyCommandRejected(t *testing.T) {
	if _, err := NewWhisperEngine(config.WhisperConfig{Command: "  "}); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestRegistryModelLoaded(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.bin")
	if err := os.WriteFile(model, []byte("x"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	cfg := config.Default().STT
	cfg.Whisper.Model = model
	cfg.Parakeet.Model = filepath.Join(dir, "missing")
	reg := NewRegistryFromConfig(cfg)

	if !reg.ModelLoaded(EngineWhisper, "") {
		t.Fatalf("expected whisper default model to be loaded")
	}
	if reg.ModelLoaded(EngineParakeet, "") {
		t.Fatalf("expected missing parakeet model")
	}
	if !reg.ModelLoaded(EngineMock, "") {
		t.Fatalf("mock engine needs no model")
	}
	if reg.ModelLoaded("vosk", "") {
		t.Fatalf("unknown engines are never loaded")
	}

	first, err := reg.Engine(EngineMock)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	second, _ := reg.Engine(EngineMock)
	if first != second {
		t.Fatalf("expected cached engine instance")
	}
	if _, err := reg.Engine("vosk"); !errs.Is(err, errs.KindModelNotLoaded) {
		t.Fatalf("expected model not loaded for unknown engine, got %v", err)
	}
}

func TestMockEngineIsDeterministic(t *testing.T) {
	res, err := NewMockEngine().Transcribe(context.Background(), make([]float32, 24000), Options{})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "mock transcript of 1.5 seconds" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

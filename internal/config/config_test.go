package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected 16kHz default, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Dictation.MinDurationMS != 300 {
		t.Fatalf("expected 300ms minimum duration, got %d", cfg.Dictation.MinDurationMS)
	}
	if cfg.Live.IntervalMS != 1500 || cfg.Live.WindowSeconds != 8 || cfg.Live.FinalizeSeconds != 10 {
		t.Fatalf("unexpected live defaults: %+v", cfg.Live)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictation.yaml")
	data := []byte(`
dictation:
  mode: auto_stop
  language: de
  vocabulary: [Kubernetes, NATS]
  remove_fillers: true
stt:
  engine: parakeet
  parakeet:
    command: "parakeet-cli --device cpu"
vad:
  energy_threshold: 0.1
  silence_seconds: 1.5
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dictation.Mode != "auto_stop" || cfg.Dictation.Language != "de" {
		t.Fatalf("dictation section not applied: %+v", cfg.Dictation)
	}
	if len(cfg.Dictation.Vocabulary) != 2 || !cfg.Dictation.RemoveFillers {
		t.Fatalf("vocabulary/fillers not applied: %+v", cfg.Dictation)
	}
	if cfg.STT.Engine != "parakeet" || cfg.STT.Parakeet.Command != "parakeet-cli --device cpu" {
		t.Fatalf("stt section not applied: %+v", cfg.STT)
	}
	if cfg.STT.Whisper.Command != "whisper-cli" {
		t.Fatalf("expected untouched defaults to survive, got %q", cfg.STT.Whisper.Command)
	}
	if cfg.VAD.SilenceSeconds != 1.5 {
		t.Fatalf("expected silence override, got %v", cfg.VAD.SilenceSeconds)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_EMBEDDED", "false")
	t.Setenv("LOQA_DICTATION_MODE", "auto_stop")
	t.Setenv("LOQA_DICTATION_VOCABULARY", "Loqa, Parakeet")
	t.Setenv("LOQA_DICTATION_LIVE", "true")
	t.Setenv("LOQA_STT_ENGINE", "mock")
	t.Setenv("LOQA_VAD_ENERGY_THRESHOLD", "0.2")
	t.Setenv("LOQA_LIVE_WINDOW_SECONDS", "6")
	t.Setenv("LOQA_INSERT_MODE", "clipboard")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 || cfg.Bus.Embedded {
		t.Fatalf("bus overrides not applied: %+v", cfg.Bus)
	}
	if cfg.Dictation.Mode != "auto_stop" || !cfg.Dictation.Live {
		t.Fatalf("dictation overrides not applied: %+v", cfg.Dictation)
	}
	if len(cfg.Dictation.Vocabulary) != 2 || cfg.Dictation.Vocabulary[1] != "Parakeet" {
		t.Fatalf("vocabulary override not applied: %v", cfg.Dictation.Vocabulary)
	}
	if cfg.STT.Engine != "mock" {
		t.Fatalf("expected mock engine, got %s", cfg.STT.Engine)
	}
	if cfg.VAD.EnergyThreshold != 0.2 || cfg.Live.WindowSeconds != 6 {
		t.Fatalf("float overrides not applied")
	}
	if cfg.Insert.Mode != "clipboard" {
		t.Fatalf("expected clipboard insert mode, got %s", cfg.Insert.Mode)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":      func(c *Config) { c.Dictation.Mode = "always" },
		"engine":    func(c *Config) { c.STT.Engine = "vosk" },
		"stereo":    func(c *Config) { c.Audio.Channels = 2 },
		"threshold": func(c *Config) { c.VAD.EnergyThreshold = 1.5 },
		"finalize":  func(c *Config) { c.Live.FinalizeSeconds = 4 },
		"insert":    func(c *Config) { c.Insert.Mode = "type" },
		"parakeet":  func(c *Config) { c.STT.Engine = "parakeet"; c.STT.Parakeet.Command = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestWatcherReloadKeepsLastValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictation.yaml")
	if err := os.WriteFile(path, []byte("dictation:\n  language: en\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWatcher(path, initial, logger)

	changed := make(chan Config, 1)
	w.OnChange(func(c Config) { changed <- c })

	if err := os.WriteFile(path, []byte("dictation:\n  language: fr\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if !w.Reload() {
		t.Fatalf("expected reload to succeed")
	}
	if got := w.Current().Dictation.Language; got != "fr" {
		t.Fatalf("expected fr after reload, got %q", got)
	}
	select {
	case c := <-changed:
		if c.Dictation.Language != "fr" {
			t.Fatalf("callback saw %q", c.Dictation.Language)
		}
	default:
		t.Fatalf("expected change callback")
	}

	if err := os.WriteFile(path, []byte("dictation:\n  mode: sometimes\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if w.Reload() {
		t.Fatalf("expected invalid config to be rejected")
	}
	if got := w.Current().Dictation.Language; got != "fr" {
		t.Fatalf("invalid edit must keep previous snapshot, got %q", got)
	}
}

func TestWatcherPicksUpFileWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictation.yaml")
	if err := os.WriteFile(path, []byte("dictation:\n  language: en\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(path, initial, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	t.Cleanup(w.Close)

	if err := os.WriteFile(path, []byte("dictation:\n  language: nl\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().Dictation.Language == "nl" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watcher did not pick up change, still %q", w.Current().Dictation.Language)
}

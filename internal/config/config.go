package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	VAD         VADConfig        `yaml:"vad"`
	Dictation   DictationConfig  `yaml:"dictation"`
	STT         STTConfig        `yaml:"stt"`
	Live        LiveConfig       `yaml:"live"`
	Insert      InsertConfig     `yaml:"insert"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	StorePartials bool   `yaml:"store_partials"`
}

type AudioConfig struct {
	Backend         string  `yaml:"backend"` // portaudio, synthetic
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	SpoolDir        string  `yaml:"spool_dir"`
	KeepSpool       bool    `yaml:"keep_spool"`
	LevelGain       float64 `yaml:"level_gain"`
}

type VADConfig struct {
	EnergyThreshold float64 `yaml:"energy_threshold"`
	SilenceSeconds  float64 `yaml:"silence_seconds"`
}

type DictationConfig struct {
	Mode          string   `yaml:"mode"` // manual, auto_stop
	MinDurationMS int      `yaml:"min_duration_ms"`
	Language      string   `yaml:"language"`
	Vocabulary    []string `yaml:"vocabulary"`
	RemoveFillers bool     `yaml:"remove_fillers"`
	InsertText    bool     `yaml:"insert_text"`
	Live          bool     `yaml:"live"`
	CommandQueue  int      `yaml:"command_queue"`
}

type STTConfig struct {
	Engine    string         `yaml:"engine"` // whisper, whisper-native, parakeet, mock
	TimeoutMS int            `yaml:"timeout_ms"`
	Whisper   WhisperConfig  `yaml:"whisper"`
	Parakeet  ParakeetConfig `yaml:"parakeet"`
}

type WhisperConfig struct {
	Command string `yaml:"command"`
	Model   string `yaml:"model"`
	Threads int    `yaml:"threads"`
}

type ParakeetConfig struct {
	Command string `yaml:"command"`
	Model   string `yaml:"model"`
}

type LiveConfig struct {
	IntervalMS       int     `yaml:"interval_ms"`
	MinNewAudioMS    int     `yaml:"min_new_audio_ms"`
	WindowSeconds    float64 `yaml:"window_seconds"`
	OverlapSeconds   float64 `yaml:"overlap_seconds"`
	FinalizeSeconds  float64 `yaml:"finalize_seconds"`
	FinalizeFraction float64 `yaml:"finalize_fraction"`
}

type InsertConfig struct {
	Mode             string `yaml:"mode"` // none, clipboard, paste
	PasteDelayMS     int    `yaml:"paste_delay_ms"`
	RestoreClipboard bool   `yaml:"restore_clipboard"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictation",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/dictation.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Audio: AudioConfig{
			Backend:         "portaudio",
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1024,
			LevelGain:       4,
		},
		VAD: VADConfig{
			EnergyThreshold: 0.08,
			SilenceSeconds:  2.0,
		},
		Dictation: DictationConfig{
			Mode:          "manual",
			MinDurationMS: 300,
			InsertText:    true,
			CommandQueue:  32,
		},
		STT: STTConfig{
			Engine:    "whisper",
			TimeoutMS: 60000,
			Whisper: WhisperConfig{
				Command: "whisper-cli",
				Model:   "./models/ggml-base.en.bin",
				Threads: 4,
			},
			Parakeet: ParakeetConfig{
				Command: "parakeet-cli",
				Model:   "./models/parakeet-tdt-0.6b-v2",
			},
		},
		Live: LiveConfig{
			IntervalMS:       1500,
			MinNewAudioMS:    500,
			WindowSeconds:    8,
			OverlapSeconds:   2,
			FinalizeSeconds:  10,
			FinalizeFraction: 0.5,
		},
		Insert: InsertConfig{
			Mode:             "paste",
			PasteDelayMS:     50,
			RestoreClipboard: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.EventStore.StorePartials, "LOQA_EVENT_STORE_STORE_PARTIALS")
	overrideString(&cfg.Audio.Backend, "LOQA_AUDIO_BACKEND")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FramesPerBuffer, "LOQA_AUDIO_FRAMES_PER_BUFFER")
	overrideString(&cfg.Audio.SpoolDir, "LOQA_AUDIO_SPOOL_DIR")
	overrideBool(&cfg.Audio.KeepSpool, "LOQA_AUDIO_KEEP_SPOOL")
	overrideFloat(&cfg.Audio.LevelGain, "LOQA_AUDIO_LEVEL_GAIN")
	overrideFloat(&cfg.VAD.EnergyThreshold, "LOQA_VAD_ENERGY_THRESHOLD")
	overrideFloat(&cfg.VAD.SilenceSeconds, "LOQA_VAD_SILENCE_SECONDS")
	overrideString(&cfg.Dictation.Mode, "LOQA_DICTATION_MODE")
	overrideInt(&cfg.Dictation.MinDurationMS, "LOQA_DICTATION_MIN_DURATION_MS")
	overrideString(&cfg.Dictation.Language, "LOQA_DICTATION_LANGUAGE")
	overrideStringSlice(&cfg.Dictation.Vocabulary, "LOQA_DICTATION_VOCABULARY")
	overrideBool(&cfg.Dictation.RemoveFillers, "LOQA_DICTATION_REMOVE_FILLERS")
	overrideBool(&cfg.Dictation.InsertText, "LOQA_DICTATION_INSERT_TEXT")
	overrideBool(&cfg.Dictation.Live, "LOQA_DICTATION_LIVE")
	overrideString(&cfg.STT.Engine, "LOQA_STT_ENGINE")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideString(&cfg.STT.Whisper.Command, "LOQA_STT_WHISPER_COMMAND")
	overrideString(&cfg.STT.Whisper.Model, "LOQA_STT_WHISPER_MODEL")
	overrideInt(&cfg.STT.Whisper.Threads, "LOQA_STT_WHISPER_THREADS")
	overrideString(&cfg.STT.Parakeet.Command, "LOQA_STT_PARAKEET_COMMAND")
	overrideString(&cfg.STT.Parakeet.Model, "LOQA_STT_PARAKEET_MODEL")
	overrideInt(&cfg.Live.IntervalMS, "LOQA_LIVE_INTERVAL_MS")
	overrideInt(&cfg.Live.MinNewAudioMS, "LOQA_LIVE_MIN_NEW_AUDIO_MS")
	overrideFloat(&cfg.Live.WindowSeconds, "LOQA_LIVE_WINDOW_SECONDS")
	overrideFloat(&cfg.Live.OverlapSeconds, "LOQA_LIVE_OVERLAP_SECONDS")
	overrideFloat(&cfg.Live.FinalizeSeconds, "LOQA_LIVE_FINALIZE_SECONDS")
	overrideFloat(&cfg.Live.FinalizeFraction, "LOQA_LIVE_FINALIZE_FRACTION")
	overrideString(&cfg.Insert.Mode, "LOQA_INSERT_MODE")
	overrideInt(&cfg.Insert.PasteDelayMS, "LOQA_INSERT_PASTE_DELAY_MS")
	overrideBool(&cfg.Insert.RestoreClipboard, "LOQA_INSERT_RESTORE_CLIPBOARD")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Audio.Backend {
	case "portaudio", "synthetic":
	default:
		return errors.New("audio.backend must be one of portaudio|synthetic")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono capture)")
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	if cfg.VAD.EnergyThreshold <= 0 || cfg.VAD.EnergyThreshold >= 1 {
		return errors.New("vad.energy_threshold must be between 0 and 1")
	}
	if cfg.VAD.SilenceSeconds <= 0 {
		return errors.New("vad.silence_seconds must be positive")
	}
	switch cfg.Dictation.Mode {
	case "manual", "auto_stop":
	default:
		return errors.New("dictation.mode must be one of manual|auto_stop")
	}
	if cfg.Dictation.MinDurationMS < 0 {
		return errors.New("dictation.min_duration_ms must be >= 0")
	}
	switch cfg.STT.Engine {
	case "whisper", "whisper-native":
		if cfg.STT.Whisper.Model == "" {
			return errors.New("stt.whisper.model must be set when engine is whisper")
		}
		if cfg.STT.Engine == "whisper" && cfg.STT.Whisper.Command == "" {
			return errors.New("stt.whisper.command must be set when engine=whisper")
		}
	case "parakeet":
		if cfg.STT.Parakeet.Command == "" {
			return errors.New("stt.parakeet.command must be set when engine=parakeet")
		}
	case "mock":
	default:
		return errors.New("stt.engine must be one of whisper|whisper-native|parakeet|mock")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	if cfg.Live.IntervalMS <= 0 {
		return errors.New("live.interval_ms must be positive")
	}
	if cfg.Live.WindowSeconds <= 0 {
		return errors.New("live.window_seconds must be positive")
	}
	if cfg.Live.FinalizeSeconds < cfg.Live.WindowSeconds {
		return errors.New("live.finalize_seconds must be >= live.window_seconds")
	}
	if cfg.Live.FinalizeFraction <= 0 || cfg.Live.FinalizeFraction >= 1 {
		return errors.New("live.finalize_fraction must be between 0 and 1")
	}
	switch cfg.Insert.Mode {
	case "none", "clipboard", "paste":
	default:
		return errors.New("insert.mode must be one of none|clipboard|paste")
	}
	return nil
}

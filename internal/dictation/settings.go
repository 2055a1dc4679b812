package dictation

import (
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/live"
	"github.com/loqalabs/loqa-dictation/internal/stt"
	"github.com/loqalabs/loqa-dictation/internal/vad"
)

type Mode string

const (
	ModeManual   Mode = "manual"
	ModeAutoStop Mode = "auto_stop"
)

// Settings are read once at session start; later changes apply to the next
// session only.
type Settings struct {
	Mode              Mode
	Engine            string
	Model             string
	Language          string
	Vocabulary        []string
	RemoveFillers     bool
	InsertText        bool
	Live              bool
	MinDuration       time.Duration
	TranscribeTimeout time.Duration
	VAD               vad.Config
	LiveConfig        live.Config
}

type SettingsSource interface {
	Settings() Settings
}

type SettingsFunc func() Settings

func (f SettingsFunc) Settings() Settings { return f() }

// SettingsFromConfig maps the daemon config onto session settings.
func SettingsFromConfig(cfg config.Config) Settings {
	model := ""
	switch cfg.STT.Engine {
	case stt.EngineWhisper, "whisper-native":
		model = cfg.STT.Whisper.Model
	case stt.EngineParakeet:
		model = cfg.STT.Parakeet.Model
	}
	return Settings{
		Mode:              Mode(cfg.Dictation.Mode),
		Engine:            cfg.STT.Engine,
		Model:             model,
		Language:          cfg.Dictation.Language,
		Vocabulary:        append([]string(nil), cfg.Dictation.Vocabulary...),
		RemoveFillers:     cfg.Dictation.RemoveFillers,
		InsertText:        cfg.Dictation.InsertText,
		Live:              cfg.Dictation.Live,
		MinDuration:       time.Duration(cfg.Dictation.MinDurationMS) * time.Millisecond,
		TranscribeTimeout: time.Duration(cfg.STT.TimeoutMS) * time.Millisecond,
		VAD: vad.Config{
			Threshold: cfg.VAD.EnergyThreshold,
			Silence:   time.Duration(cfg.VAD.SilenceSeconds * float64(time.Second)),
		},
		LiveConfig: live.ConfigFromSettings(cfg.Live, cfg.Audio.SampleRate),
	}
}

func (s Settings) options(sampleRate int) stt.Options {
	return stt.Options{Language: s.Language, Vocabulary: s.Vocabulary, SampleRate: sampleRate}
}

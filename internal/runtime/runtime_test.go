package runtime

import (
	"testing"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/stt"
)

func TestSessionSettingsKeepStartupModel(t *testing.T) {
	startup := config.Default()
	startup.STT.Engine = stt.EngineWhisper
	startup.STT.Whisper.Model = "/models/ggml-base.bin"
	engines := stt.NewRegistryFromConfig(startup.STT)

	reloaded := startup
	reloaded.STT.Whisper.Model = "/models/ggml-large.bin"
	reloaded.Dictation.Language = "fr"

	got := sessionSettings(reloaded, engines)
	if got.Model != "/models/ggml-base.bin" {
		t.Fatalf("expected the running engine's model, got %q", got.Model)
	}
	if got.Language != "fr" {
		t.Fatalf("per-session settings must still reload, got language %q", got.Language)
	}
}

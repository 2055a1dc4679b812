package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := Wrap(errors.New("exit status 1"), KindInferenceFailed, "whisper-cli failed")
	err := fmt.Errorf("transcribe: %w", base)

	if KindOf(err) != KindInferenceFailed {
		t.Fatalf("expected inference_failed, got %s", KindOf(err))
	}
	if !errors.Is(err, ErrInferenceFailed) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("unexpected match for different kind")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors should be unknown")
	}
}

func TestErrorStringIncludesMetadataAndCause(t *testing.T) {
	err := New(KindModelNotLoaded, "model missing").WithMetadata("model", "ggml-base.bin")
	err.Cause = errors.New("stat: no such file")

	msg := err.Error()
	for _, want := range []string{"[model_not_loaded]", "model missing", "ggml-base.bin", "no such file"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestVisibility(t *testing.T) {
	if KindRecordingTooShort.Visible() {
		t.Fatalf("too-short recordings are a silent discard")
	}
	if !KindPermissionDenied.Visible() || !KindModelNotLoaded.Visible() {
		t.Fatalf("permission and model errors must be surfaced")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(Newf(KindInferenceFailed, "engine %s crashed", "parakeet")); got != "Transcription failed: engine parakeet crashed" {
		t.Fatalf("unexpected message %q", got)
	}
	if UserMessage(nil) != "" {
		t.Fatalf("nil error should render empty")
	}
}

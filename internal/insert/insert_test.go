package insert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-dictation/internal/config"
)

type memClipboard struct {
	content  string
	writes   []string
	writeErr error
}

func (m *memClipboard) ReadAll() (string, error) { return m.content, nil }

func (m *memClipboard) WriteAll(text string) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.content = text
	m.writes = append(m.writes, text)
	return nil
}

type fakeKeyboard struct {
	pastes int
	seen   []string
	clip   *memClipboard
	err    error
}

func (k *fakeKeyboard) Paste() error {
	k.pastes++
	k.seen = append(k.seen, k.clip.content)
	return k.err
}

func TestPasteRestoresPreviousClipboard(t *testing.T) {
	clip := &memClipboard{content: "previous"}
	keys := &fakeKeyboard{clip: clip}
	p := &PasteInserter{Clipboard: clip, Keyboard: keys, Restore: true}

	if err := p.Insert(context.Background(), "hello world"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if keys.pastes != 1 || keys.seen[0] != "hello world" {
		t.Fatalf("expected paste of transcript, saw %v", keys.seen)
	}
	if clip.content != "previous" {
		t.Fatalf("expected clipboard restored, got %q", clip.content)
	}
}

func TestPasteWithoutRestoreKeepsTranscript(t *testing.T) {
	clip := &memClipboard{content: "previous"}
	p := &PasteInserter{Clipboard: clip, Keyboard: &fakeKeyboard{clip: clip}}
	if err := p.Insert(context.Background(), "kept"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if clip.content != "kept" {
		t.Fatalf("expected transcript on clipboard, got %q", clip.content)
	}
}

func TestPasteFailuresAreReturned(t *testing.T) {
	clip := &memClipboard{}
	p := &PasteInserter{Clipboard: clip, Keyboard: &fakeKeyboard{clip: clip, err: errors.New("no uinput")}}
	if err := p.Insert(context.Background(), "x"); err == nil {
		t.Fatalf("expected keyboard error")
	}

	broken := &memClipboard{writeErr: errors.New("no display")}
	c := &ClipboardInserter{Clipboard: broken}
	if err := c.Insert(context.Background(), "x"); err == nil {
		t.Fatalf("expected clipboard error")
	}
}

func TestNewSelectsMode(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for mode, check := range map[string]func(Inserter) bool{
		"none":      func(i Inserter) bool { _, ok := i.(Noop); return ok },
		"clipboard": func(i Inserter) bool { _, ok := i.(*ClipboardInserter); return ok },
		"paste":     func(i Inserter) bool { _, ok := i.(*PasteInserter); return ok },
	} {
		ins, err := New(config.InsertConfig{Mode: mode}, log)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if !check(ins) {
			t.Fatalf("%s: unexpected inserter %T", mode, ins)
		}
	}
	if _, err := New(config.InsertConfig{Mode: "type"}, log); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

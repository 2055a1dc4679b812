// Package insert delivers finished transcripts to the focused application.
package insert

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"github.com/loqalabs/loqa-dictation/internal/config"
)

// Inserter places text where the user is typing.
type Inserter interface {
	Insert(ctx context.Context, text string) error
}

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// Keyboard sends the platform paste shortcut to the focused window.
type Keyboard interface {
	Paste() error
}

// New builds the inserter selected by cfg.Mode.
func New(cfg config.InsertConfig, log *slog.Logger) (Inserter, error) {
	log = log.With(slog.String("component", "insert"))
	switch cfg.Mode {
	case "", "none":
		return Noop{}, nil
	case "clipboard":
		return &ClipboardInserter{Clipboard: SystemClipboard{}}, nil
	case "paste":
		return &PasteInserter{
			Clipboard: SystemClipboard{},
			Keyboard:  &VirtualKeyboard{log: log},
			Delay:     time.Duration(cfg.PasteDelayMS) * time.Millisecond,
			Restore:   cfg.RestoreClipboard,
			log:       log,
		}, nil
	default:
		return nil, fmt.Errorf("unknown insert mode %q", cfg.Mode)
	}
}

// Noop drops text. Used when insertion is handled by another process.
type Noop struct{}

func (Noop) Insert(context.Context, string) error { return nil }

// SystemClipboard wraps atotto/clipboard.
type SystemClipboard struct{}

func (SystemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }

func (SystemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// ClipboardInserter copies text and leaves pasting to the user.
type ClipboardInserter struct {
	Clipboard Clipboard
}

func (c *ClipboardInserter) Insert(_ context.Context, text string) error {
	if err := c.Clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

// PasteInserter copies text, sends the paste shortcut and optionally puts
// the previous clipboard contents back.
type PasteInserter struct {
	Clipboard Clipboard
	Keyboard  Keyboard
	// Delay lets the clipboard settle before and after the keystroke.
	Delay   time.Duration
	Restore bool
	log     *slog.Logger
}

func (p *PasteInserter) Insert(ctx context.Context, text string) error {
	var previous string
	if p.Restore {
		prev, err := p.Clipboard.ReadAll()
		if err == nil {
			previous = prev
		}
	}
	if err := p.Clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if err := sleep(ctx, p.Delay); err != nil {
		return err
	}
	if err := p.Keyboard.Paste(); err != nil {
		return fmt.Errorf("send paste shortcut: %w", err)
	}
	if !p.Restore || previous == "" {
		return nil
	}
	if err := sleep(ctx, 2*p.Delay); err != nil {
		return nil
	}
	if err := p.Clipboard.WriteAll(previous); err != nil && p.log != nil {
		p.log.Warn("failed to restore clipboard", slog.String("error", err.Error()))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VirtualKeyboard sends Ctrl+V (Cmd+V on macOS) through micmonay/keybd_event.
// The virtual device is created on first use.
type VirtualKeyboard struct {
	log *slog.Logger

	mu sync.Mutex
	kb *keybd_event.KeyBonding
}

func (k *VirtualKeyboard) Paste() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.kb == nil {
		kb, err := keybd_event.NewKeyBonding()
		if err != nil {
			return fmt.Errorf("create virtual keyboard: %w", err)
		}
		// uinput devices need a moment before the first event is delivered
		if runtime.GOOS == "linux" {
			time.Sleep(2 * time.Second)
		}
		k.kb = &kb
		if k.log != nil {
			k.log.Debug("virtual keyboard ready")
		}
	}
	k.kb.Clear()
	if runtime.GOOS == "darwin" {
		k.kb.HasSuper(true)
	} else {
		k.kb.HasCTRL(true)
	}
	k.kb.SetKeys(keybd_event.VK_V)
	return k.kb.Launching()
}

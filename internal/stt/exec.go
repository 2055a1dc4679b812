package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/errs"
)

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return args, nil
}

// workDir holds the WAV input and any output files of one engine call.
type workDir struct {
	dir string
}

func newWorkDir(samples []float32, sampleRate int) (*workDir, string, error) {
	dir, err := os.MkdirTemp("", "loqa_stt_*")
	if err != nil {
		return nil, "", fmt.Errorf("temp dir: %w", err)
	}
	input := filepath.Join(dir, "input.wav")
	if err := audio.WriteWAVFile(input, samples, sampleRate); err != nil {
		os.RemoveAll(dir)
		return nil, "", fmt.Errorf("write wav: %w", err)
	}
	return &workDir{dir: dir}, input, nil
}

func (w *workDir) path(name string) string { return filepath.Join(w.dir, name) }

func (w *workDir) Remove() { _ = os.RemoveAll(w.dir) }

// runCommand executes args and classifies failures into the dictation error
// taxonomy: cancellation stays Cancelled, everything else is InferenceFailed.
func runCommand(ctx context.Context, engine string, args []string) ([]byte, error) {
	command := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.WaitDelay = 2 * time.Second

	if err := command.Run(); err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return nil, errs.Wrap(ctx.Err(), errs.KindCancelled, engine+" transcription cancelled")
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, errs.Wrapf(ctx.Err(), errs.KindInferenceFailed, "%s timed out", engine)
		}
		return nil, errs.Wrapf(err, errs.KindInferenceFailed, "%s failed", engine).
			WithMetadata("stderr", tail(stderr.String(), 512))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

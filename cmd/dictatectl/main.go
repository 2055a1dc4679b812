package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/dictation"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected one of: toggle, start, stop, cancel, status, version")
		os.Exit(2)
	}

	flags := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	configPath := flags.String("config", "loqa-dictation.yaml", "Path to configuration file")
	timeout := flags.Duration("timeout", 3*time.Second, "Request timeout")

	switch os.Args[1] {
	case "version":
		fmt.Println(version)
		return
	case "toggle", "start", "stop", "cancel", "status":
		flags.Parse(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}

	if err := run(os.Args[1], *configPath, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(command, configPath string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// defaults point at the local daemon
		cfg = config.Default()
	}
	if cfg.Bus.Embedded {
		cfg.Bus.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", cfg.Bus.Port)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := bus.Connect(ctx, cfg.Bus, "dictatectl", logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if command == "status" {
		var reply protocol.StatusReply
		if err := client.RequestJSON(ctx, protocol.SubjectStatus, struct{}{}, &reply); err != nil {
			return err
		}
		return printJSON(reply)
	}

	if _, err := dictation.ParseCommand(command); err != nil {
		return err
	}
	req := protocol.CommandRequest{Command: command, Source: "dictatectl", Timestamp: time.Now().UTC()}
	var reply protocol.CommandReply
	if err := client.RequestJSON(ctx, protocol.SubjectCommand, req, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("%s failed: %s", command, reply.Error)
	}
	return printJSON(reply)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package dictation sequences microphone capture, silence detection and
// transcription for one dictation session at a time.
package dictation

import (
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/stt"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Command is a user or system trigger.
type Command int

const (
	CommandToggle Command = iota
	CommandStart
	CommandStop
	CommandCancel
)

func (c Command) String() string {
	switch c {
	case CommandToggle:
		return "toggle"
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandCancel:
		return "cancel"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "toggle":
		return CommandToggle, nil
	case "start":
		return CommandStart, nil
	case "stop":
		return CommandStop, nil
	case "cancel":
		return CommandCancel, nil
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventStopped      EventKind = "stopped"
	EventCancelled    EventKind = "cancelled"
	EventDiscarded    EventKind = "discarded"
	EventPartial      EventKind = "partial"
	EventStateChanged EventKind = "state"
	EventError        EventKind = "error"
)

// Event is emitted to sinks from the orchestrator goroutine, in order.
type Event struct {
	Kind      EventKind
	SessionID string
	At        time.Time
	State     State
	// Result is set on a successful stop.
	Result *stt.Result
	// Text carries partial text, or the best-effort live text used when the
	// final pass failed.
	Text      string
	Confirmed string
	Finalized bool
	// LiveFallback marks a Result built from live text after the final pass failed.
	LiveFallback bool
	Inserted     bool
	Err          error
}

// Sink receives lifecycle events.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Sinks fans an event out to every sink in order.
type Sinks []Sink

func (s Sinks) Publish(e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(e)
		}
	}
}

// Status is a point-in-time view for status endpoints.
type Status struct {
	State     State         `json:"state"`
	SessionID string        `json:"session_id,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Level     float64       `json:"level"`
	LiveText  string        `json:"live_text,omitempty"`
}

package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-dictation/internal/dictation"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	"github.com/loqalabs/loqa-dictation/internal/stt"
)

type fakeController struct {
	state     dictation.State
	sessionID string
	commands  []dictation.Command
	err       error
}

func (f *fakeController) Submit(_ context.Context, cmd dictation.Command) (dictation.State, error) {
	f.commands = append(f.commands, cmd)
	if f.err != nil {
		return f.state, f.err
	}
	if cmd == dictation.CommandStart || cmd == dictation.CommandToggle {
		f.state = dictation.StateRecording
		f.sessionID = "s1"
	}
	return f.state, nil
}

func (f *fakeController) Status() dictation.Status {
	return dictation.Status{State: f.state, SessionID: f.sessionID}
}

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
}

func (p *fakePublisher) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func newTestService(ctrl Controller) *Service {
	return NewService(context.Background(), ctrl, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestApplyCommand(t *testing.T) {
	ctrl := &fakeController{}
	svc := newTestService(ctrl)
	t.Cleanup(svc.Close)

	reply := svc.apply(protocol.CommandRequest{Command: "Start", Source: "test"})
	if reply.Error != "" || reply.State != "recording" || reply.SessionID != "s1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if len(ctrl.commands) != 1 || ctrl.commands[0] != dictation.CommandStart {
		t.Fatalf("expected start submitted, got %v", ctrl.commands)
	}

	reply = svc.apply(protocol.CommandRequest{Command: "dance"})
	if reply.Error == "" || len(ctrl.commands) != 1 {
		t.Fatalf("expected unknown command rejected without submit, got %+v", reply)
	}

	ctrl.err = errors.New("queue closed")
	reply = svc.apply(protocol.CommandRequest{Command: "stop"})
	if reply.Error != "queue closed" || reply.State != "recording" {
		t.Fatalf("expected submit error surfaced, got %+v", reply)
	}
}

func TestPublishSessionEvents(t *testing.T) {
	pub := &fakePublisher{}
	events := NewEventPublisher(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	events.Publish(dictation.Event{
		Kind:      dictation.EventStopped,
		SessionID: "s1",
		State:     dictation.StateProcessing,
		Result:    &stt.Result{Text: "hello", Engine: "mock"},
	})
	if len(pub.msgs) != 1 || pub.msgs[0].subject != "dictation.session.stopped" {
		t.Fatalf("unexpected publications %+v", pub.msgs)
	}
	var evt protocol.SessionEvent
	if err := json.Unmarshal(pub.msgs[0].data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.SessionID != "s1" || evt.Transcript == nil || evt.Transcript.Text != "hello" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

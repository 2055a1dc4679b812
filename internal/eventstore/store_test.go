package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/dictation"
	"github.com/loqalabs/loqa-dictation/internal/errs"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	"github.com/loqalabs/loqa-dictation/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "dictation.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.Record(ctx, protocol.SessionEvent{Kind: "started", SessionID: "s"}); err != nil {
		t.Fatalf("record on ephemeral store: %v", err)
	}
	sessions, err := es.ListSessions(ctx, 10)
	if err != nil || sessions != nil {
		t.Fatalf("expected no history, got %v %v", sessions, err)
	}
}

func TestRecordCompletedSession(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})

	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := es.Record(ctx, protocol.SessionEvent{Kind: "started", SessionID: "s1", Timestamp: started}); err != nil {
		t.Fatalf("record started: %v", err)
	}
	if err := es.Record(ctx, protocol.SessionEvent{Kind: "state", SessionID: "s1", State: "processing"}); err != nil {
		t.Fatalf("record state: %v", err)
	}
	stopped := protocol.SessionEvent{
		Kind:      "stopped",
		SessionID: "s1",
		Timestamp: started.Add(5 * time.Second),
		Inserted:  true,
		Transcript: &protocol.Transcript{
			Text:              "hello world",
			Language:          "en",
			AudioSeconds:      4.5,
			ProcessingSeconds: 0.4,
			Engine:            "whisper",
		},
	}
	if err := es.Record(ctx, stopped); err != nil {
		t.Fatalf("record stopped: %v", err)
	}

	sess, ok, err := es.GetSession(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("get session: ok=%v err=%v", ok, err)
	}
	if sess.Outcome != OutcomeCompleted || sess.Text != "hello world" || sess.Engine != "whisper" || !sess.Inserted {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.StartedAt.Equal(started) {
		t.Fatalf("expected start %v, got %v", started, sess.StartedAt)
	}
	if sess.FinishedAt == nil || !sess.FinishedAt.Equal(started.Add(5*time.Second)) {
		t.Fatalf("unexpected finish %v", sess.FinishedAt)
	}

	events, err := es.ListSessionEvents(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Type != "started" || events[1].Type != "stopped" {
		t.Fatalf("unexpected timeline %+v", events)
	}
}

func TestRecordFailureOutcomes(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	events := []protocol.SessionEvent{
		{Kind: "started", SessionID: "failed", Timestamp: base},
		{Kind: "stopped", SessionID: "failed", Timestamp: base.Add(time.Second), ErrorKind: "inference_failed", Error: "boom"},
		{Kind: "started", SessionID: "cancelled", Timestamp: base.Add(2 * time.Second)},
		{Kind: "cancelled", SessionID: "cancelled", Timestamp: base.Add(3 * time.Second)},
		{Kind: "discarded", SessionID: "short", Timestamp: base.Add(4 * time.Second), ErrorKind: "recording_too_short"},
	}
	for _, evt := range events {
		if err := es.Record(ctx, evt); err != nil {
			t.Fatalf("record %s/%s: %v", evt.SessionID, evt.Kind, err)
		}
	}

	sessions, err := es.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	got := map[string]Session{}
	for _, s := range sessions {
		got[s.ID] = s
	}
	if len(sessions) != 3 || sessions[0].ID != "short" {
		t.Fatalf("expected newest first, got %+v", sessions)
	}
	if got["failed"].Outcome != OutcomeFailed || got["failed"].ErrorKind != "inference_failed" || got["failed"].Error != "boom" {
		t.Fatalf("unexpected failed session %+v", got["failed"])
	}
	if got["cancelled"].Outcome != OutcomeCancelled {
		t.Fatalf("unexpected cancelled session %+v", got["cancelled"])
	}
	if got["short"].Outcome != OutcomeDiscarded {
		t.Fatalf("unexpected discarded session %+v", got["short"])
	}
	if _, ok, err := es.GetSession(ctx, "unknown"); ok || err != nil {
		t.Fatalf("expected missing session, ok=%v err=%v", ok, err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := es.Record(ctx, protocol.SessionEvent{Kind: "started", SessionID: "old-session", Timestamp: old}); err != nil {
		t.Fatalf("record: %v", err)
	}
	recent := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b"} {
		if err := es.Record(ctx, protocol.SessionEvent{Kind: "started", SessionID: id, Timestamp: recent}); err != nil {
			t.Fatalf("record: %v", err)
		}
		recent = recent.Add(time.Minute)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC) }
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	sessions, err := es.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "b" {
		t.Fatalf("expected only newest session kept, got %+v", sessions)
	}
}

func TestSessionRetentionClearsOnOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dictation.db")
	cfg := config.EventStoreConfig{Path: path, RetentionMode: "session"}

	first, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Record(ctx, protocol.SessionEvent{Kind: "started", SessionID: "s", Timestamp: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = first.Close()

	second := openStore(t, cfg)
	sessions, err := second.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected history cleared, got %d sessions", len(sessions))
	}
}

func TestSinkRecordsOrchestratorEvents(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	sink := NewSink(es, 8, newLogger())

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	sink.Publish(dictation.Event{Kind: dictation.EventStarted, SessionID: "s1", At: at, State: dictation.StateRecording})
	sink.Publish(dictation.Event{Kind: dictation.EventPartial, SessionID: "s1", At: at.Add(time.Second), Text: "hel"})
	sink.Publish(dictation.Event{Kind: dictation.EventStateChanged, SessionID: "s1", At: at.Add(2 * time.Second), State: dictation.StateProcessing})
	sink.Publish(dictation.Event{
		Kind:      dictation.EventStopped,
		SessionID: "s1",
		At:        at.Add(3 * time.Second),
		Result:    &stt.Result{Text: "hello", Engine: "mock", AudioDuration: 2 * time.Second},
		Err:       errs.Wrap(errors.New("no display"), errs.KindTextInsertionFailed, "insert transcript"),
	})
	sink.Close()
	sink.Publish(dictation.Event{Kind: dictation.EventStarted, SessionID: "late", At: at})

	sess, ok, err := es.GetSession(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("get session: ok=%v err=%v", ok, err)
	}
	if sess.Outcome != OutcomeCompleted || sess.Text != "hello" || sess.AudioSeconds != 2 {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.ErrorKind != "text_insertion_failed" {
		t.Fatalf("expected insertion failure recorded, got %q", sess.ErrorKind)
	}
	events, err := es.ListSessionEvents(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected partial and state events skipped, got %d events", len(events))
	}
	if _, ok, _ := es.GetSession(ctx, "late"); ok {
		t.Fatalf("expected events after Close to be dropped")
	}
}

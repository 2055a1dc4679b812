package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	_ "modernc.org/sqlite"
)

// Session outcomes recorded in history.
const (
	OutcomeRecording = "recording"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeDiscarded = "discarded"
)

// Session is one row of dictation history.
type Session struct {
	ID                string     `json:"id"`
	Outcome           string     `json:"outcome"`
	Engine            string     `json:"engine,omitempty"`
	Language          string     `json:"language,omitempty"`
	Text              string     `json:"text,omitempty"`
	AudioSeconds      float64    `json:"audio_seconds"`
	ProcessingSeconds float64    `json:"processing_seconds"`
	LiveFallback      bool       `json:"live_fallback"`
	Inserted          bool       `json:"inserted"`
	ErrorKind         string     `json:"error_kind,omitempty"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Event represents a recorded timeline entry.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps a SQLite-backed dictation history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// session retention keeps history for one daemon run
	if cfg.RetentionMode == "session" {
		if _, err := db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			db.Close()
			return nil, fmt.Errorf("clear previous sessions: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    outcome TEXT NOT NULL,
    engine TEXT,
    language TEXT,
    text TEXT,
    audio_seconds REAL NOT NULL DEFAULT 0,
    processing_seconds REAL NOT NULL DEFAULT 0,
    live_fallback INTEGER NOT NULL DEFAULT 0,
    inserted INTEGER NOT NULL DEFAULT 0,
    error_kind TEXT,
    error TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// Record applies a lifecycle event to the session row and appends it to the
// session timeline. Events without a session ID and state changes are ignored.
func (s *Store) Record(ctx context.Context, evt protocol.SessionEvent) error {
	if s.disabled() || evt.SessionID == "" || evt.Kind == "state" {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock()
	}
	at := evt.Timestamp.UnixMilli()

	row := Session{ID: evt.SessionID, ErrorKind: evt.ErrorKind, Error: evt.Error}
	finished := true
	switch evt.Kind {
	case "started":
		row.Outcome = OutcomeRecording
		finished = false
	case "stopped":
		row.Outcome = OutcomeCompleted
		if evt.Transcript == nil {
			row.Outcome = OutcomeFailed
		}
	case "cancelled":
		row.Outcome = OutcomeCancelled
	case "discarded":
		row.Outcome = OutcomeDiscarded
	default:
		finished = false
	}
	if t := evt.Transcript; t != nil {
		row.Engine = t.Engine
		row.Language = t.Language
		row.Text = t.Text
		row.AudioSeconds = t.AudioSeconds
		row.ProcessingSeconds = t.ProcessingSeconds
		row.LiveFallback = evt.LiveFallback
		row.Inserted = evt.Inserted
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	switch {
	case row.Outcome == OutcomeRecording:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions(session_id, outcome, started_at) VALUES(?, ?, ?)
			 ON CONFLICT(session_id) DO NOTHING`,
			row.ID, row.Outcome, at)
	case finished:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions(session_id, outcome, engine, language, text, audio_seconds, processing_seconds,
			     live_fallback, inserted, error_kind, error, started_at, finished_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET
			     outcome=excluded.outcome, engine=excluded.engine, language=excluded.language, text=excluded.text,
			     audio_seconds=excluded.audio_seconds, processing_seconds=excluded.processing_seconds,
			     live_fallback=excluded.live_fallback, inserted=excluded.inserted,
			     error_kind=COALESCE(excluded.error_kind, sessions.error_kind),
			     error=COALESCE(excluded.error, sessions.error),
			     finished_at=excluded.finished_at`,
			row.ID, row.Outcome, nullable(row.Engine), nullable(row.Language), nullable(row.Text),
			row.AudioSeconds, row.ProcessingSeconds, row.LiveFallback, row.Inserted,
			nullable(row.ErrorKind), nullable(row.Error), at, at)
	default:
		// partial and error events: make sure the row exists for the timeline
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions(session_id, outcome, started_at) VALUES(?, ?, ?)
			 ON CONFLICT(session_id) DO NOTHING`,
			row.ID, OutcomeRecording, at)
		if err == nil && evt.Error != "" {
			_, err = tx.ExecContext(ctx,
				`UPDATE sessions SET error_kind = ?, error = ? WHERE session_id = ?`,
				nullable(evt.ErrorKind), evt.Error, row.ID)
		}
	}
	if err != nil {
		return fmt.Errorf("update session %s: %w", row.ID, err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO events(session_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		row.ID, evt.Kind, payload, at); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	err = tx.Commit()
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, sessionSelect+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession looks up one session. ok is false when it does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (sess Session, ok bool, err error) {
	if s.disabled() {
		return Session{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE session_id = ?`, id)
	sess, err = scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

const sessionSelect = `SELECT session_id, outcome, engine, language, text, audio_seconds, processing_seconds,
    live_fallback, inserted, error_kind, error, started_at, finished_at FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		sess                                  Session
		engine, language, text, kind, message sql.NullString
		started                               int64
		finished                              sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.Outcome, &engine, &language, &text, &sess.AudioSeconds,
		&sess.ProcessingSeconds, &sess.LiveFallback, &sess.Inserted, &kind, &message, &started, &finished); err != nil {
		return Session{}, err
	}
	sess.Engine = engine.String
	sess.Language = language.String
	sess.Text = text.String
	sess.ErrorKind = kind.String
	sess.Error = message.String
	sess.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		ts := time.UnixMilli(finished.Int64).UTC()
		sess.FinishedAt = &ts
	}
	return sess, nil
}

// ListSessionEvents retrieves up to limit events for a session ordered ascending by time.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}

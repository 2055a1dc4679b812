package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/control"
	"github.com/loqalabs/loqa-dictation/internal/dictation"
	"github.com/loqalabs/loqa-dictation/internal/eventstore"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

// History is the read side of the session store.
type History interface {
	ListSessions(ctx context.Context, limit int) ([]eventstore.Session, error)
	GetSession(ctx context.Context, id string) (eventstore.Session, bool, error)
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

type api struct {
	ctrl    control.Controller
	history History
	logger  *slog.Logger
	timeout time.Duration
}

type sessionDetail struct {
	Session eventstore.Session      `json:"session"`
	Events  []protocol.SessionEvent `json:"events"`
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", a.handleStatus)
	mux.HandleFunc("POST /v1/commands/{name}", a.handleCommand)
	mux.HandleFunc("GET /v1/sessions", a.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleSession)
}

func (a *api) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Status().Message())
}

func (a *api) handleCommand(w http.ResponseWriter, req *http.Request) {
	cmd, err := dictation.ParseCommand(req.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.CommandReply{State: a.ctrl.Status().State.String(), Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), a.timeout)
	defer cancel()
	st, err := a.ctrl.Submit(ctx, cmd)
	reply := protocol.CommandReply{State: st.String(), SessionID: a.ctrl.Status().SessionID}
	if err != nil {
		reply.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (a *api) handleSessions(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	sessions, err := a.history.ListSessions(req.Context(), limit)
	if err != nil {
		a.logger.Warn("failed to list sessions", slog.String("error", err.Error()))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *api) handleSession(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	sess, ok, err := a.history.GetSession(req.Context(), id)
	if err != nil {
		a.logger.Warn("failed to load session", slog.String("session_id", id), slog.String("error", err.Error()))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	events, err := a.history.ListSessionEvents(req.Context(), id, 500)
	if err != nil {
		a.logger.Warn("failed to load session events", slog.String("session_id", id), slog.String("error", err.Error()))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	detail := sessionDetail{Session: sess, Events: make([]protocol.SessionEvent, 0, len(events))}
	for _, e := range events {
		var evt protocol.SessionEvent
		if err := json.Unmarshal(e.Payload, &evt); err != nil {
			continue
		}
		detail.Events = append(detail.Events, evt)
	}
	writeJSON(w, http.StatusOK, detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

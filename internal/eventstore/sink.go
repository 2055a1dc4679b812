package eventstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/dictation"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

// Sink records orchestrator events in the store from a background writer so
// that the orchestrator never waits on disk.
type Sink struct {
	store *Store
	log   *slog.Logger
	queue chan protocol.SessionEvent
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewSink(store *Store, size int, log *slog.Logger) *Sink {
	if size <= 0 {
		size = 64
	}
	s := &Sink{
		store: store,
		log:   log.With(slog.String("component", "eventstore")),
		queue: make(chan protocol.SessionEvent, size),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) Publish(e dictation.Event) {
	switch e.Kind {
	case dictation.EventStateChanged:
		return
	case dictation.EventPartial:
		if !s.store.cfg.StorePartials {
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e.Message():
	default:
		s.log.Warn("history queue full, dropping event",
			slog.String("session_id", e.SessionID),
			slog.String("kind", string(e.Kind)))
	}
}

// Close flushes queued events and stops the writer.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for evt := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Record(ctx, evt); err != nil {
			s.log.Warn("failed to record session event",
				slog.String("session_id", evt.SessionID),
				slog.String("kind", evt.Kind),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}

package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/live"
	"github.com/loqalabs/loqa-dictation/internal/stt"
	"github.com/loqalabs/loqa-dictation/internal/vad"
)

// Recorder is the capture side the orchestrator drives.
type Recorder interface {
	Start(ctx context.Context) (audio.Session, error)
	Stop() (audio.Capture, error)
	Cancel() error
	Snapshot() []float32
	Subscribe() (<-chan audio.Meter, func())
	Level() float64
	Elapsed() time.Duration
	OnFailure(fn func(sessionID string, err error))
}

// Engines resolves a transcription engine by name.
type Engines interface {
	Engine(name string) (stt.Engine, error)
}

// Inserter hands finished text to the focused application.
type Inserter interface {
	Insert(ctx context.Context, text string) error
}

type Options struct {
	Recorder   Recorder
	Engines    Engines
	Models     stt.ModelChecker
	Inserter   Inserter
	Settings   SettingsSource
	Sink       Sink
	Logger     *slog.Logger
	SampleRate int
	QueueSize  int
}

type msgKind int

const (
	msgCommand msgKind = iota
	msgSilence
	msgPartial
	msgProcessed
	msgCaptureFailed
)

type message struct {
	kind      msgKind
	cmd       Command
	sessionID string
	update    live.Update
	outcome   outcome
	err       error
	reply     chan State
}

type session struct {
	id          string
	settings    Settings
	started     time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	vad         *vad.Monitor
	unsubscribe func()
	live        *live.Transcriber
}

// stopMonitors halts everything that feeds the session except the recorder.
func (s *session) stopMonitors() {
	if s.vad != nil {
		s.vad.Stop()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.live != nil {
		s.live.Stop()
	}
}

// ErrQueueFull is reported when a command arrives while the queue is full.
var ErrQueueFull = errors.New("dictation: command queue full")

// Orchestrator is a single-consumer state machine. Commands from every source
// go through one queue and are applied in arrival order by Run.
type Orchestrator struct {
	recorder   Recorder
	engines    Engines
	models     stt.ModelChecker
	inserter   Inserter
	settings   SettingsSource
	sink       Sink
	log        *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics
	sampleRate int

	queue   chan message
	state   atomic.Int32
	running atomic.Bool
	runCtx  context.Context
	wg      sync.WaitGroup

	// owned by Run
	current *session

	statusMu  sync.RWMutex
	sessionID string
	liveText  string
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Recorder == nil || opts.Engines == nil || opts.Models == nil || opts.Settings == nil {
		return nil, errors.New("dictation: recorder, engines, models and settings are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = Sinks(nil)
	}
	if opts.Inserter == nil {
		opts.Inserter = noopInserter{}
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = stt.DefaultSampleRate
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	o := &Orchestrator{
		recorder:   opts.Recorder,
		engines:    opts.Engines,
		models:     opts.Models,
		inserter:   opts.Inserter,
		settings:   opts.Settings,
		sink:       opts.Sink,
		log:        opts.Logger.With(slog.String("component", "dictation")),
		tracer:     otel.Tracer(instrumentationName),
		sampleRate: opts.SampleRate,
		queue:      make(chan message, opts.QueueSize),
		runCtx:     context.Background(),
	}
	o.recorder.OnFailure(func(sessionID string, err error) {
		go o.post(message{kind: msgCaptureFailed, sessionID: sessionID, err: err})
	})
	m, err := newMetrics(o)
	if err != nil {
		o.log.Warn("failed to initialize metrics", slogError(err))
	} else {
		o.metrics = m
	}
	return o, nil
}

type noopInserter struct{}

func (noopInserter) Insert(context.Context, string) error { return nil }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Status returns the state plus live capture details.
func (o *Orchestrator) Status() Status {
	o.statusMu.RLock()
	st := Status{State: o.State(), SessionID: o.sessionID, LiveText: o.liveText}
	o.statusMu.RUnlock()
	if st.State == StateRecording {
		st.Level = o.recorder.Level()
		st.Elapsed = o.recorder.Elapsed()
	}
	return st
}

// HandleCommand enqueues cmd without waiting. It returns false when the
// queue is full; the dropped command is reported as an error event.
func (o *Orchestrator) HandleCommand(cmd Command) bool {
	select {
	case o.queue <- message{kind: msgCommand, cmd: cmd}:
		return true
	default:
		o.log.Warn("command queue full, dropping command", slog.String("command", cmd.String()))
		o.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %s", ErrQueueFull, cmd)})
		return false
	}
}

// Submit enqueues cmd and waits until Run has applied it, returning the
// resulting state.
func (o *Orchestrator) Submit(ctx context.Context, cmd Command) (State, error) {
	reply := make(chan State, 1)
	select {
	case o.queue <- message{kind: msgCommand, cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return o.State(), ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return o.State(), ctx.Err()
	}
}

// Run consumes the queue until ctx is done. An active session is cancelled
// on shutdown and in-flight processing is abandoned.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("dictation: orchestrator already running")
	}
	defer o.running.Store(false)
	o.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case msg := <-o.queue:
			o.handle(msg)
		}
	}
}

func (o *Orchestrator) handle(msg message) {
	switch msg.kind {
	case msgCommand:
		o.handleCommand(msg.cmd)
		if msg.reply != nil {
			msg.reply <- o.State()
		}
	case msgSilence:
		if o.current != nil && o.current.id == msg.sessionID && o.State() == StateRecording {
			o.log.Info("auto-stopping after silence", slog.String("session_id", msg.sessionID))
			o.stopSession()
		}
	case msgPartial:
		if o.current != nil && o.current.id == msg.sessionID && o.State() == StateRecording {
			o.setLiveText(msg.update.Text)
			o.emit(Event{
				Kind:      EventPartial,
				SessionID: msg.sessionID,
				Text:      msg.update.Text,
				Confirmed: msg.update.Confirmed,
				Finalized: msg.update.Finalized,
			})
		}
	case msgProcessed:
		o.completeSession(msg.outcome)
	case msgCaptureFailed:
		if o.current != nil && o.current.id == msg.sessionID && o.State() == StateRecording {
			o.log.Warn("capture interrupted, stopping session", slog.String("session_id", msg.sessionID), slogError(msg.err))
			o.emit(Event{Kind: EventError, SessionID: msg.sessionID, Err: msg.err})
			o.stopSession()
		}
	}
}

func (o *Orchestrator) handleCommand(cmd Command) {
	state := o.State()
	switch {
	case state == StateIdle && (cmd == CommandStart || cmd == CommandToggle):
		o.startSession()
	case state == StateRecording && (cmd == CommandStop || cmd == CommandToggle):
		o.stopSession()
	case state == StateRecording && cmd == CommandCancel:
		o.cancelSession()
	default:
		o.log.Debug("ignoring command", slog.String("command", cmd.String()), slog.String("state", state.String()))
	}
}

func (o *Orchestrator) startSession() {
	settings := o.settings.Settings()
	ctx, cancel := context.WithCancel(o.runCtx)

	sess, err := o.recorder.Start(ctx)
	if err != nil {
		cancel()
		o.log.Error("failed to start recording", slogError(err))
		o.metrics.finished("start_failed", settings.Engine)
		o.emit(Event{Kind: EventError, Err: err})
		return
	}

	s := &session{
		id:       sess.ID,
		settings: settings,
		started:  sess.StartedAt,
		ctx:      ctx,
		cancel:   cancel,
	}
	o.current = s
	o.setStatus(s.id)
	o.setState(StateRecording, s.id)
	o.metrics.started(settings.Mode)
	o.emit(Event{Kind: EventStarted, SessionID: s.id})
	o.log.Info("recording started",
		slog.String("session_id", s.id),
		slog.String("mode", string(settings.Mode)),
		slog.String("engine", settings.Engine),
	)

	if settings.Mode == ModeAutoStop {
		levels, unsubscribe := o.recorder.Subscribe()
		s.unsubscribe = unsubscribe
		s.vad = vad.NewMonitor(settings.VAD, o.log)
		id := s.id
		s.vad.Start(ctx, levels, func() {
			go o.post(message{kind: msgSilence, sessionID: id})
		})
	}
	if settings.Live {
		o.startLive(s)
	}
}

func (o *Orchestrator) startLive(s *session) {
	if !o.models.ModelLoaded(s.settings.Engine, s.settings.Model) {
		o.log.Warn("live transcription disabled, model not loaded", slog.String("engine", s.settings.Engine))
		return
	}
	engine, err := o.engines.Engine(s.settings.Engine)
	if err != nil {
		o.log.Warn("live transcription disabled", slogError(err))
		return
	}
	cfg := s.settings.LiveConfig
	cfg.SampleRate = o.sampleRate
	id := s.id
	s.live = live.NewTranscriber(cfg, o.recorder, engine, s.settings.options(o.sampleRate), func(u live.Update) {
		o.tryPost(message{kind: msgPartial, sessionID: id, update: u})
	}, o.log)
	s.live.Start(s.ctx)
}

func (o *Orchestrator) stopSession() {
	s := o.current
	s.stopMonitors()
	liveText := ""
	if s.live != nil {
		liveText = s.live.Text()
	}

	capture, err := o.recorder.Stop()
	o.setState(StateProcessing, s.id)
	o.log.Info("recording stopped", slog.String("session_id", s.id), slog.Duration("duration", capture.Duration()))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		out := o.finalize(s, capture, err, liveText)
		o.post(message{kind: msgProcessed, sessionID: s.id, outcome: out})
	}()
}

func (o *Orchestrator) cancelSession() {
	s := o.current
	s.stopMonitors()
	if err := o.recorder.Cancel(); err != nil {
		o.log.Warn("failed to cancel capture", slogError(err))
	}
	s.cancel()
	o.current = nil
	o.setStatus("")
	o.setState(StateIdle, s.id)
	o.metrics.finished("cancelled", s.settings.Engine)
	o.emit(Event{Kind: EventCancelled, SessionID: s.id})
	o.log.Info("recording cancelled", slog.String("session_id", s.id))
}

func (o *Orchestrator) completeSession(out outcome) {
	s := o.current
	if s == nil || s.id != out.sessionID {
		return
	}
	s.cancel()
	o.current = nil
	o.setStatus("")

	switch {
	case out.discarded:
		o.metrics.finished("discarded", s.settings.Engine)
		o.emit(Event{Kind: EventDiscarded, SessionID: s.id, Err: out.err})
	case out.err != nil:
		o.metrics.finished("failed", s.settings.Engine)
		o.emit(Event{Kind: EventStopped, SessionID: s.id, Err: out.err})
		o.emit(Event{Kind: EventError, SessionID: s.id, Err: out.err})
	default:
		o.metrics.finished("completed", s.settings.Engine)
		res := out.result
		o.emit(Event{
			Kind:         EventStopped,
			SessionID:    s.id,
			Result:       &res,
			Text:         res.Text,
			LiveFallback: out.liveFallback,
			Inserted:     out.inserted,
		})
		if out.insertErr != nil {
			o.emit(Event{Kind: EventError, SessionID: s.id, Err: out.insertErr})
		}
	}
	o.setState(StateIdle, s.id)
}

func (o *Orchestrator) shutdown() {
	if s := o.current; s != nil {
		if o.State() == StateRecording {
			s.stopMonitors()
			_ = o.recorder.Cancel()
			o.emit(Event{Kind: EventCancelled, SessionID: s.id})
		}
		s.cancel()
		o.current = nil
	}
	o.wg.Wait()
	o.setStatus("")
	o.setState(StateIdle, "")
}

// post delivers msg unless Run has exited.
func (o *Orchestrator) post(msg message) {
	select {
	case o.queue <- msg:
	case <-o.runCtx.Done():
	}
}

// tryPost drops msg when the queue is full.
func (o *Orchestrator) tryPost(msg message) {
	select {
	case o.queue <- msg:
	default:
	}
}

func (o *Orchestrator) setState(st State, sessionID string) {
	if State(o.state.Swap(int32(st))) == st {
		return
	}
	o.emit(Event{Kind: EventStateChanged, SessionID: sessionID, State: st})
}

func (o *Orchestrator) setStatus(sessionID string) {
	o.statusMu.Lock()
	o.sessionID = sessionID
	o.liveText = ""
	o.statusMu.Unlock()
}

func (o *Orchestrator) setLiveText(text string) {
	o.statusMu.Lock()
	o.liveText = text
	o.statusMu.Unlock()
}

func (o *Orchestrator) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.State == 0 && e.Kind != EventStateChanged {
		e.State = o.State()
	}
	o.sink.Publish(e)
}

func slogError(err error) slog.Attr {
	return slog.String("error", fmt.Sprint(err))
}

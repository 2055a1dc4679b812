package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/control"
	"github.com/loqalabs/loqa-dictation/internal/dictation"
	"github.com/loqalabs/loqa-dictation/internal/eventstore"
	"github.com/loqalabs/loqa-dictation/internal/insert"
	"github.com/loqalabs/loqa-dictation/internal/natsserver"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	"github.com/loqalabs/loqa-dictation/internal/stt"
)

const sessionStream = "DICTATION_SESSIONS"

type Runtime struct {
	cfg         config.Config
	configPath  string
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	natsServer  *natsserver.EmbeddedServer
	bus         *bus.Client
	eventStore  *eventstore.Store
	history     *eventstore.Sink
	control     *control.Service
	stt         *stt.Service
	orch        *dictation.Orchestrator
	ready       atomic.Bool
	wg          sync.WaitGroup
}

// New builds a runtime. configPath is watched for changes; pass "" to
// disable hot reload.
func New(cfg config.Config, configPath string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeTelemetry()

	watcher := config.NewWatcher(r.configPath, r.cfg, r.logger)
	if err := watcher.Start(ctx); err != nil {
		r.logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
	}
	defer watcher.Close()
	engines := stt.NewRegistryFromConfig(r.cfg.STT)
	watcher.OnChange(func(cfg config.Config) {
		r.logger.Info("configuration reloaded, applies from the next session",
			slog.String("engine", cfg.STT.Engine),
			slog.String("mode", cfg.Dictation.Mode))
		if model := sessionSettings(cfg, engines).Model; model != dictation.SettingsFromConfig(cfg).Model {
			r.logger.Warn("model path changes take effect after restart",
				slog.String("engine", cfg.STT.Engine),
				slog.String("model", model))
		}
	})
	if !engines.ModelLoaded(r.cfg.STT.Engine, "") {
		r.logger.Warn("configured model not found, sessions will fail until it is installed",
			slog.String("engine", r.cfg.STT.Engine),
			slog.String("model", engines.DefaultModel(r.cfg.STT.Engine)))
	}

	inserter, err := insert.New(r.cfg.Insert, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup text insertion: %w", err)
	}

	if err := r.startHistory(ctx); err != nil {
		return err
	}
	defer r.closeHistory()

	if err := r.startBus(ctx); err != nil {
		return err
	}
	defer r.closeBus()

	sinks := dictation.Sinks{r.history}
	if r.bus != nil {
		sinks = append(sinks, control.NewEventPublisher(r.bus, r.logger))
	}

	recorder := audio.NewRecorder(r.device(), audio.Config{
		SampleRate:      r.cfg.Audio.SampleRate,
		Channels:        r.cfg.Audio.Channels,
		FramesPerBuffer: r.cfg.Audio.FramesPerBuffer,
		SpoolDir:        r.cfg.Audio.SpoolDir,
		KeepSpool:       r.cfg.Audio.KeepSpool,
		LevelGain:       r.cfg.Audio.LevelGain,
	}, r.logger)

	orch, err := dictation.New(dictation.Options{
		Recorder: recorder,
		Engines:  engines,
		Models:   engines,
		Inserter: inserter,
		Settings: dictation.SettingsFunc(func() dictation.Settings {
			return sessionSettings(watcher.Current(), engines)
		}),
		Sink:       sinks,
		Logger:     r.logger,
		SampleRate: r.cfg.Audio.SampleRate,
		QueueSize:  r.cfg.Dictation.CommandQueue,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	r.orch = orch

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		if err := orch.Run(ctx); err != nil {
			r.logger.Error("orchestrator stopped", slog.String("error", err.Error()))
		}
	}()

	if r.bus != nil {
		r.control = control.NewService(ctx, orch, r.bus, r.logger)
		if err := r.control.Start(); err != nil {
			cancel()
			<-orchDone
			return fmt.Errorf("failed to start control service: %w", err)
		}
		defer r.control.Close()

		r.stt = stt.NewService(ctx, engines, r.cfg.STT.Engine, time.Duration(r.cfg.STT.TimeoutMS)*time.Millisecond, r.bus, r.logger)
		if err := r.stt.Start(); err != nil {
			cancel()
			<-orchDone
			return fmt.Errorf("failed to start stt service: %w", err)
		}
		defer r.stt.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	(&api{ctrl: orch, history: r.eventStore, logger: r.logger, timeout: 2 * time.Second}).register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("audio_backend", r.cfg.Audio.Backend),
		slog.Any("engines", engines.Names()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	<-orchDone

	return nil
}

// sessionSettings maps cfg onto session settings. Engines are built once at
// startup, so the model is the one the registry runs, not the reloaded path.
func sessionSettings(cfg config.Config, engines *stt.Registry) dictation.Settings {
	settings := dictation.SettingsFromConfig(cfg)
	settings.Model = engines.DefaultModel(settings.Engine)
	return settings
}

func (r *Runtime) device() audio.Device {
	if r.cfg.Audio.Backend == "synthetic" {
		return &audio.SyntheticDevice{}
	}
	return audio.NewPortAudioDevice(r.logger)
}

func (r *Runtime) startHistory(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.eventStore = store
	r.history = eventstore.NewSink(store, 64, r.logger)
	return nil
}

func (r *Runtime) closeHistory() {
	if r.history != nil {
		r.history.Close()
	}
	if r.eventStore != nil {
		if err := r.eventStore.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	srv, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.natsServer = srv

	busCfg := r.cfg.Bus
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		srv.Shutdown()
		r.natsServer = nil
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client

	maxAge := time.Duration(r.cfg.EventStore.RetentionDays) * 24 * time.Hour
	if err := client.EnsureStream(sessionStream, []string{protocol.SubjectSessionPrefix + ".>"}, maxAge); err != nil {
		r.logger.Warn("session stream unavailable", slog.String("error", err.Error()))
	}
	return nil
}

func (r *Runtime) closeBus() {
	r.bus.Close()
	r.natsServer.Shutdown()
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

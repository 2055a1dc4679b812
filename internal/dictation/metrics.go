package dictation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-dictation/dictation"

type metrics struct {
	sessions  metric.Int64Counter
	outcomes  metric.Int64Counter
	latency   metric.Float64Histogram
	audioSecs metric.Float64Histogram
}

func newMetrics(o *Orchestrator) (*metrics, error) {
	meter := otel.Meter(instrumentationName)
	sessions, err := meter.Int64Counter("dictation.sessions.started", metric.WithDescription("Recording sessions started"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("dictation.sessions.finished", metric.WithDescription("Sessions finished by outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("dictation.transcribe.duration",
		metric.WithDescription("Final transcription latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	audioSecs, err := meter.Float64Histogram("dictation.audio.duration",
		metric.WithDescription("Captured audio per finished session"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stateGauge, err := meter.Int64ObservableGauge("dictation.state", metric.WithDescription("0 idle, 1 recording, 2 processing"))
	if err != nil {
		return nil, err
	}
	levelGauge, err := meter.Float64ObservableGauge("dictation.audio.level", metric.WithDescription("Current input level 0..1"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(stateGauge, int64(o.State()))
		obs.ObserveFloat64(levelGauge, o.Status().Level)
		return nil
	}, stateGauge, levelGauge)
	if err != nil {
		return nil, err
	}

	return &metrics{sessions: sessions, outcomes: outcomes, latency: latency, audioSecs: audioSecs}, nil
}

func (m *metrics) started(mode Mode) {
	if m == nil {
		return
	}
	m.sessions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("mode", string(mode))))
}

func (m *metrics) finished(outcome string, engine string) {
	if m == nil {
		return
	}
	m.outcomes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("engine", engine),
	))
}

func (m *metrics) transcribed(engine string, seconds, audioSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("engine", engine))
	m.latency.Record(context.Background(), seconds, attrs)
	m.audioSecs.Record(context.Background(), audioSeconds, attrs)
}

package runtime

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/loqalabs/loqa-dictation/internal/config"
)

func TestResourceAttributesDescribeDaemon(t *testing.T) {
	cfg := config.Default()
	cfg.STT.Engine = "parakeet"
	cfg.Audio.Backend = "synthetic"
	cfg.Dictation.Mode = "auto_stop"

	res, err := resource.New(context.Background(), resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	set := res.Set()
	for key, want := range map[attribute.Key]string{
		"service.name":     cfg.RuntimeName,
		"dictation.engine": "parakeet",
		"dictation.mode":   "auto_stop",
		"audio.backend":    "synthetic",
	} {
		v, ok := set.Value(key)
		if !ok || v.AsString() != want {
			t.Fatalf("%s = %q, want %q", key, v.AsString(), want)
		}
	}
	if v, ok := set.Value("audio.sample_rate"); !ok || v.AsInt64() != int64(cfg.Audio.SampleRate) {
		t.Fatalf("unexpected sample rate attribute %v", v.AsInt64())
	}
}

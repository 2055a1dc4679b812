package stt

import (
	"context"
	"strings"
	"time"
)

const DefaultSampleRate = 16000

// Segment is a timed piece of a transcript.
type Segment struct {
	Index     int           `json:"index"`
	Text      string        `json:"text"`
	Start     time.Duration `json:"start"`
	End       time.Duration `json:"end"`
	SpeakerID string        `json:"speaker_id,omitempty"`
}

// Result captures engine output for one pass over a buffer.
type Result struct {
	Text               string        `json:"text"`
	Segments           []Segment     `json:"segments,omitempty"`
	Language           string        `json:"language,omitempty"`
	AudioDuration      time.Duration `json:"audio_duration"`
	ProcessingDuration time.Duration `json:"processing_duration"`
	Engine             string        `json:"engine"`
}

// Options are per-call hints. Engines ignore hints they cannot honor.
type Options struct {
	Language   string
	Vocabulary []string
	SampleRate int
}

func (o Options) sampleRate() int {
	if o.SampleRate > 0 {
		return o.SampleRate
	}
	return DefaultSampleRate
}

// Engine abstracts speech-to-text backends. Samples are mono float32 in -1..1.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error)
}

// ModelChecker reports whether an engine's model is available for inference.
type ModelChecker interface {
	ModelLoaded(engine, model string) bool
}

// JoinSegments concatenates segment texts with single spaces.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func samplesDuration(n, sampleRate int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package stt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/errs"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers one-shot transcription requests on the bus so other local
// tools can reuse the loaded engines.
type Service struct {
	engines       *Registry
	defaultEngine string
	timeout       time.Duration
	bus           *bus.Client
	logger        *slog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	sub           *nats.Subscription
	wg            sync.WaitGroup
	ready         bool
}

func NewService(parent context.Context, engines *Registry, defaultEngine string, timeout time.Duration, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		engines:       engines,
		defaultEngine: defaultEngine,
		timeout:       timeout,
		bus:           busClient,
		logger:        logger.With(slog.String("component", "stt")),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectTranscribe, "stt", s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe transcription requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode transcription request", slogError(err))
		s.respond(msg, protocol.TranscribeReply{Error: "invalid request"})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.respond(msg, s.transcribe(req))
	}()
}

func (s *Service) transcribe(req protocol.TranscribeRequest) protocol.TranscribeReply {
	name := req.Engine
	if name == "" {
		name = s.defaultEngine
	}
	if !s.engines.ModelLoaded(name, "") {
		return errorReply(errs.Newf(errs.KindModelNotLoaded, "model for %s is not loaded", name))
	}
	engine, err := s.engines.Engine(name)
	if err != nil {
		return errorReply(err)
	}
	samples, err := DecodePCM16(req.PCM)
	if err != nil {
		return errorReply(errs.Wrap(err, errs.KindNoAudioCaptured, "decode audio"))
	}
	if len(samples) == 0 {
		return errorReply(errs.New(errs.KindNoAudioCaptured, "no audio in request"))
	}

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := engine.Transcribe(ctx, samples, Options{
		Language:   req.Language,
		Vocabulary: req.Vocabulary,
		SampleRate: req.SampleRate,
	})
	if err != nil {
		s.logger.Warn("bus transcription failed", slog.String("engine", name), slogError(err))
		return errorReply(err)
	}
	t := res.Transcript()
	return protocol.TranscribeReply{Transcript: &t}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.TranscribeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal transcription reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send transcription reply", slogError(err))
	}
}

func errorReply(err error) protocol.TranscribeReply {
	kind := errs.KindOf(err)
	if kind == errs.KindUnknown {
		kind = errs.KindInferenceFailed
	}
	return protocol.TranscribeReply{ErrorKind: kind.String(), Error: err.Error()}
}

// Transcript converts r into its wire form.
func (r Result) Transcript() protocol.Transcript {
	t := protocol.Transcript{
		Text:              r.Text,
		Language:          r.Language,
		AudioSeconds:      r.AudioDuration.Seconds(),
		ProcessingSeconds: r.ProcessingDuration.Seconds(),
		Engine:            r.Engine,
	}
	for _, seg := range r.Segments {
		t.Segments = append(t.Segments, protocol.Segment{
			Index:     seg.Index,
			Text:      seg.Text,
			Start:     seg.Start.Seconds(),
			End:       seg.End.Seconds(),
			SpeakerID: seg.SpeakerID,
		})
	}
	return t
}

// EncodePCM16 converts samples to 16-bit little-endian PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		v = max(-1, min(1, v))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(float64(v)*math.MaxInt16))))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM to samples in -1..1.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("pcm payload has odd length")
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

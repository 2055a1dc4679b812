package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice captures from the system default input device.
type PortAudioDevice struct {
	log *slog.Logger
}

func NewPortAudioDevice(log *slog.Logger) *PortAudioDevice {
	return &PortAudioDevice{log: log.With(slog.String("component", "portaudio"))}
}

func (d *PortAudioDevice) Open(cfg StreamConfig, onFrame func([]float32), onError func(error)) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("default input device: %w", err)
	}
	if dev.MaxInputChannels < cfg.Channels {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("input device %q has %d channels, need %d", dev.Name, dev.MaxInputChannels, cfg.Channels)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	buf := make([]float32, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input stream on %q: %w", dev.Name, err)
	}
	d.log.Debug("opened input stream", slog.String("device", dev.Name), slog.Int("sample_rate", cfg.SampleRate))
	return &portAudioStream{
		stream:  stream,
		buf:     buf,
		onFrame: onFrame,
		onError: onError,
		device:  dev.Name,
		log:     d.log,
		done:    make(chan struct{}),
	}, nil
}

type portAudioStream struct {
	stream  *portaudio.Stream
	buf     []float32
	onFrame func([]float32)
	onError func(error)
	device  string
	log     *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	closeOnce sync.Once
}

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true
	go s.readLoop(ctx)
	return nil
}

func (s *portAudioStream) readLoop(ctx context.Context) {
	defer close(s.done)
	readFrames(ctx, s.stream, s.buf, s.onFrame, s.onError, s.log.With(slog.String("device", s.device)))
}

type frameReader interface {
	Read() error
}

// readFrames pumps src into onFrame until ctx is done or the device fails.
// An input overflow means earlier frames were dropped; the buffer just read
// is still valid and the stream keeps going.
func readFrames(ctx context.Context, src frameReader, buf []float32, onFrame func([]float32), onError func(error), log *slog.Logger) {
	var overflows int
	for {
		select {
		case <-ctx.Done():
			if overflows > 0 {
				log.Info("audio input overflowed during capture", slog.Int("count", overflows))
			}
			return
		default:
		}
		if err := src.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				overflows++
				log.Debug("audio input overflowed")
				onFrame(buf)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn("audio read failed, capture interrupted", slog.String("error", err.Error()))
			if onError != nil {
				onError(err)
			}
			return
		}
		onFrame(buf)
	}
}

// Close stops the read loop after its current buffer and releases the device.
func (s *portAudioStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.started {
			s.cancel()
			<-s.done
			if stopErr := s.stream.Stop(); stopErr != nil {
				err = stopErr
			}
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		_ = portaudio.Terminate()
	})
	return err
}

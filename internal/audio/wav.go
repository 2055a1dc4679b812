package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// EncodeWAV writes mono float samples as 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, 1, 1)
	if err := enc.Write(pcmBuffer(samples, sampleRate)); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to path, creating parent directories.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadWAV decodes a PCM WAV file into mono float samples, averaging channels.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = wavBitDepth
	}
	scale := float32(int64(1) << (bitDepth - 1))

	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out, int(dec.SampleRate), nil
}

func pcmBuffer(samples []float32, sampleRate int) *goaudio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
}

// spool streams a session to disk as it is captured.
type spool struct {
	path       string
	file       *os.File
	enc        *wav.Encoder
	sampleRate int
}

func createSpool(dir, sessionID string, sampleRate int) (*spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "dictation-"+sessionID+"-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &spool{
		path:       f.Name(),
		file:       f,
		enc:        wav.NewEncoder(f, sampleRate, wavBitDepth, 1, 1),
		sampleRate: sampleRate,
	}, nil
}

func (s *spool) write(frame []float32) error {
	return s.enc.Write(pcmBuffer(frame, s.sampleRate))
}

func (s *spool) close() error {
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return encErr
	}
	return fileErr
}

func (s *spool) remove() {
	_ = s.close()
	_ = os.Remove(s.path)
}

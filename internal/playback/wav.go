package playback

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSink writes the spoken audio to a WAV file instead of a device. Used
// by the CLI's file-output mode; pause and reset are playback notions that
// do not apply to a file, so they are accepted and ignored.
type WAVSink struct {
	mu      sync.Mutex
	file    *os.File
	encoder *wav.Encoder
	closed  bool
}

// NewWAVSink creates path and prepares a 16-bit mono WAV encoder at the
// given sample rate.
func NewWAVSink(path string, sampleRate int) (*WAVSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return &WAVSink{
		file:    file,
		encoder: wav.NewEncoder(file, sampleRate, 16, 1, 1),
	}, nil
}

func (s *WAVSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	samples := len(pcm) / 2
	data := make([]int, samples)
	for i := 0; i < samples; i++ {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  s.encoder.SampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := s.encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	return nil
}

func (s *WAVSink) Flush() error { return nil }

// Reset is a no-op; audio already encoded stays in the file.
func (s *WAVSink) Reset() error { return nil }

func (s *WAVSink) Pause() error  { return nil }
func (s *WAVSink) Resume() error { return nil }

// Close finalizes the WAV header and closes the file.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.encoder.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to finalize output file: %w", err)
	}
	return s.file.Close()
}

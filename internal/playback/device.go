package playback

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

// DefaultHighWater caps how much audio Write may queue ahead of the device
// before blocking, expressed as playback time. Keeping it short means a
// stop has little committed audio left to cut off.
const DefaultHighWater = 200 * time.Millisecond

// DeviceSink plays PCM on the system audio device through oto. The oto
// player pulls from an internal byte queue; Write pushes into the queue and
// blocks once more than the high-water mark of audio is pending, which
// models a real device draining in real time.
type DeviceSink struct {
	ctx        *oto.Context
	player     *oto.Player
	sampleRate int
	highWater  int // bytes

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []byte
	resets uint64
	closed bool

	bufferSize time.Duration
}

// NewDeviceSink opens the system audio device for the engine's output
// format and starts the pull loop.
func NewDeviceSink(info ttypes.EngineInfo) (*DeviceSink, error) {
	if info.SampleRate <= 0 || info.Channels != 1 || info.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported audio format: %dHz %dch %dbit",
			info.SampleRate, info.Channels, info.BitDepth)
	}

	options := &oto.NewContextOptions{
		SampleRate:   info.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	switch runtime.GOOS {
	case "darwin":
		options.BufferSize = 100 * time.Millisecond
	default:
		options.BufferSize = 50 * time.Millisecond
	}

	ctx, ready, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready

	s := &DeviceSink{
		ctx:        ctx,
		sampleRate: info.SampleRate,
		highWater:  int(DefaultHighWater.Seconds() * float64(info.SampleRate) * 2),
		bufferSize: options.BufferSize,
	}
	s.cond = sync.NewCond(&s.mu)

	s.player = ctx.NewPlayer(s)
	s.player.Play()

	return s, nil
}

// Read feeds the oto player. Silence is produced when no speech is queued
// so the device keeps running and never blocks the player's pull loop.
func (s *DeviceSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed && len(s.queue) == 0 {
		return 0, io.EOF
	}

	if len(s.queue) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.queue)
	s.queue = s.queue[n:]
	s.cond.Broadcast()
	return n, nil
}

// Write queues PCM for the device, blocking while more than the high-water
// mark of audio is already pending.
func (s *DeviceSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	gen := s.resets
	for len(s.queue)+len(pcm) > s.highWater && len(s.queue) > 0 && !s.closed && s.resets == gen {
		s.cond.Wait()
	}
	if s.closed {
		return ErrSinkClosed
	}
	// A reset while we waited means this audio was cancelled.
	if s.resets != gen {
		return nil
	}

	s.queue = append(s.queue, pcm...)
	return nil
}

// Flush blocks until the queue has drained into the device, then rides out
// the device's own buffer.
func (s *DeviceSink) Flush() error {
	s.mu.Lock()
	for len(s.queue) > 0 && !s.closed {
		s.cond.Wait()
	}
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrSinkClosed
	}
	time.Sleep(s.bufferSize)
	return nil
}

// Reset discards queued speech. Audio already handed to the device keeps
// playing for at most the device buffer, typically 50ms.
func (s *DeviceSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.queue = s.queue[:0]
	s.resets++
	s.cond.Broadcast()
	return nil
}

// Pause suspends the device without discarding queued speech.
func (s *DeviceSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.player.Pause()
	return nil
}

// Resume continues the device after Pause.
func (s *DeviceSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.player.Play()
	return nil
}

// Close stops the player and releases the device.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	player := s.player
	s.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}

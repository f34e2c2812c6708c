package playback

import (
	"errors"
	"sync"
)

// MockSink implements the sink contract for tests. It records every write
// and can inject a failure at a chosen write index.
type MockSink struct {
	mu sync.Mutex

	writes  [][]byte
	flushes int
	resets  int
	paused  bool
	closed  bool

	failAt   int   // write index to fail at, -1 disables
	pauseErr error // injected Pause failure
}

// NewMockSink creates a mock sink that accepts everything.
func NewMockSink() *MockSink {
	return &MockSink{failAt: -1}
}

// FailAtWrite makes the given zero-based write index fail. A negative index
// clears it.
func (m *MockSink) FailAtWrite(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = n
}

func (m *MockSink) Write(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrSinkClosed
	}
	if m.failAt >= 0 && len(m.writes) == m.failAt {
		return errors.New("mock device failure")
	}

	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	m.writes = append(m.writes, buf)
	return nil
}

func (m *MockSink) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *MockSink) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	return nil
}

// FailPause makes Pause return err. A nil err clears it.
func (m *MockSink) FailPause(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseErr = err
}

func (m *MockSink) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pauseErr != nil {
		return m.pauseErr
	}
	m.paused = true
	return nil
}

func (m *MockSink) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Writes returns a snapshot of every PCM chunk written so far.
func (m *MockSink) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// WriteCount returns how many writes succeeded.
func (m *MockSink) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

// Flushes returns how many times Flush was called.
func (m *MockSink) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Resets returns how many times Reset was called.
func (m *MockSink) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Paused reports whether the sink is currently paused.
func (m *MockSink) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

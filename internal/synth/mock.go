package synth

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

// MockEngine implements the engine contract for tests and for running the
// pipeline without model assets. It renders a deterministic tone whose
// frequency is derived from the unit text, and honors the iterative step
// contract so cancellation behavior can be exercised.
type MockEngine struct {
	mu sync.Mutex

	// Configuration
	sampleRate  int
	stepDelay   time.Duration // simulated per-step latency
	decodeDelay time.Duration // simulated vocoder latency
	unitSeconds float64       // rendered duration per unit

	// Failure injection
	failText string // units containing this text fail at Begin
	failStep int    // step index to fail at, -1 disables

	// Observability for tests
	beginCount int
	stepCount  int
	lastSteps  map[int]int // seq -> executed steps

	closed bool
}

// mockState carries the refinement position for one unit.
type mockState struct {
	unit      ttypes.Unit
	stepsDone int
	total     int
}

// NewMockEngine creates a mock engine rendering 44.1kHz mono tones.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		sampleRate:  44100,
		unitSeconds: 0.05,
		failStep:    -1,
		lastSteps:   make(map[int]int),
	}
}

// Begin validates the unit and returns the initial refinement state.
func (e *MockEngine) Begin(_ context.Context, unit ttypes.Unit) (ttypes.ModelState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if !unit.Voice.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, unit.Voice)
	}
	if e.failText != "" && strings.Contains(unit.Text, e.failText) {
		return nil, fmt.Errorf("mock failure for %q", unit.Text)
	}

	e.beginCount++
	return &mockState{unit: unit}, nil
}

// Step runs one simulated refinement pass.
func (e *MockEngine) Step(ctx context.Context, st ttypes.ModelState, step, total int) (ttypes.ModelState, error) {
	state, ok := st.(*mockState)
	if !ok {
		return nil, fmt.Errorf("unexpected model state %T", st)
	}

	e.mu.Lock()
	delay := e.stepDelay
	failStep := e.failStep
	e.mu.Unlock()

	if failStep >= 0 && step == failStep {
		return nil, fmt.Errorf("mock step failure at step %d", step)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	state.stepsDone++
	state.total = total

	e.mu.Lock()
	e.stepCount++
	e.lastSteps[state.unit.Seq] = state.stepsDone
	e.mu.Unlock()

	return state, nil
}

// Decode renders the deterministic waveform for a fully refined state.
func (e *MockEngine) Decode(ctx context.Context, st ttypes.ModelState) ([]byte, error) {
	state, ok := st.(*mockState)
	if !ok {
		return nil, fmt.Errorf("unexpected model state %T", st)
	}

	e.mu.Lock()
	delay := e.decodeDelay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	samples := int(float64(e.sampleRate) * e.unitSeconds)
	pcm := make([]byte, samples*2)

	// Tone frequency keyed off the text so distinct units are audibly and
	// byte-wise distinct.
	h := fnv.New32a()
	h.Write([]byte(state.unit.Text))
	freq := 220.0 + float64(h.Sum32()%880)

	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(e.sampleRate))
		sample := int16(v * 16000)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}

	return pcm, nil
}

// Info returns the mock's output format.
func (e *MockEngine) Info() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:       "mock",
		SampleRate: e.sampleRate,
		Channels:   1,
		BitDepth:   16,
		Voices:     ttypes.Voices(),
	}
}

// Close marks the engine unusable.
func (e *MockEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Test control methods

// SetStepDelay sets the simulated per-step latency.
func (e *MockEngine) SetStepDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stepDelay = d
}

// SetDecodeDelay sets the simulated vocoder latency.
func (e *MockEngine) SetDecodeDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decodeDelay = d
}

// SetUnitSeconds sets the rendered duration per unit.
func (e *MockEngine) SetUnitSeconds(s float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unitSeconds = s
}

// FailUnitsContaining makes Begin fail for units whose text contains sub.
// An empty string clears the failure.
func (e *MockEngine) FailUnitsContaining(sub string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failText = sub
}

// FailAtStep makes the given step index fail. A negative index clears it.
func (e *MockEngine) FailAtStep(step int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failStep = step
}

// StepsRun returns the number of refinement steps executed for a sequence
// number, and whether the unit was seen at all.
func (e *MockEngine) StepsRun(seq int) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.lastSteps[seq]
	return n, ok
}

// BeginCount returns how many units entered inference.
func (e *MockEngine) BeginCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beginCount
}

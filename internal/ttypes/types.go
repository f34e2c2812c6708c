// Package ttypes contains shared types and interfaces for the synthesis
// pipeline. This package is used to break import cycles between the driver,
// synth, playback, and cache packages.
package ttypes

import (
	"context"
	"time"
)

// Voice identifies one of the built-in voice styles. The selector is opaque
// to the pipeline; only the inference engine interprets it.
type Voice string

// Built-in voice styles.
const (
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
)

// Voices lists every built-in voice style in display order.
func Voices() []Voice {
	return []Voice{
		VoiceM1, VoiceM2, VoiceM3, VoiceM4, VoiceM5,
		VoiceF1, VoiceF2, VoiceF3, VoiceF4, VoiceF5,
	}
}

// IsValid reports whether v names a built-in voice style.
func (v Voice) IsValid() bool {
	for _, known := range Voices() {
		if v == known {
			return true
		}
	}
	return false
}

// Quality step bounds exposed to the host. Higher step counts trade
// synthesis latency for audio fidelity.
const (
	MinQualitySteps = 1
	MaxQualitySteps = 100
)

// ClampQualitySteps forces n into the supported 1..100 range.
func ClampQualitySteps(n int) int {
	if n < MinQualitySteps {
		return MinQualitySteps
	}
	if n > MaxQualitySteps {
		return MaxQualitySteps
	}
	return n
}

// Epoch identifies the cancellation generation a unit or buffer belongs to.
// The driver increments the process-wide epoch on every effective stop;
// anything carrying an older epoch is stale and must be discarded without
// side effects.
type Epoch uint64

// Utterance is one host-submitted text-to-speech request. Immutable once
// created; owned exclusively by the driver until segmented.
type Utterance struct {
	// ID uniquely identifies the utterance.
	ID string

	// Text is the raw host-supplied text.
	Text string

	// Voice is the requested voice style.
	Voice Voice

	// RateFactor is the playback speed multiplier (0.7 to 2.0).
	RateFactor float64

	// QualitySteps is the number of refinement iterations per unit (1-100).
	QualitySteps int

	// Epoch is the cancellation epoch active when the utterance was created.
	Epoch Epoch

	// CreatedAt is the submission timestamp.
	CreatedAt time.Time
}

// Unit is one independently synthesizable segment of an utterance.
// Owned by the inference worker once dequeued.
type Unit struct {
	// UtteranceID links back to the parent utterance.
	UtteranceID string

	// Text is the normalized text span to synthesize.
	Text string

	// Voice is the voice style, propagated unchanged from the utterance.
	Voice Voice

	// QualitySteps is propagated unchanged from the utterance.
	QualitySteps int

	// RateFactor is propagated unchanged from the utterance. It is applied
	// at the playback stage only, never during inference.
	RateFactor float64

	// Seq is the unit's position within the utterance, starting at 0 and
	// strictly increasing.
	Seq int

	// Epoch is the cancellation epoch the unit belongs to.
	Epoch Epoch

	// Final marks the last unit of the utterance.
	Final bool
}

// Buffer holds decoded PCM samples for one unit. PCM is 16-bit little-endian
// mono at the engine's sample rate.
type Buffer struct {
	// UtteranceID links back to the source utterance.
	UtteranceID string

	// PCM is the decoded audio. May be empty for a final marker buffer
	// whose unit was skipped after an inference failure.
	PCM []byte

	// Seq is the sequence number of the source unit.
	Seq int

	// Epoch is the cancellation epoch of the source unit.
	Epoch Epoch

	// RateFactor is the speed multiplier to apply before the sink.
	RateFactor float64

	// Final marks the last buffer of the utterance.
	Final bool
}

// Duration returns the playback duration of the PCM at the given sample
// rate, before any rate adjustment.
func (b Buffer) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 || len(b.PCM) < 2 {
		return 0
	}
	samples := len(b.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// State represents the pipeline state, driven only by the driver.
type State int

const (
	// StateIdle indicates no utterance is in flight.
	StateIdle State = iota

	// StateSynthesizing indicates an utterance is being synthesized or played.
	StateSynthesizing

	// StatePaused indicates playback is suspended; synthesis may continue
	// filling the bounded queue.
	StatePaused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSynthesizing:
		return "synthesizing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// EngineInfo describes engine capabilities and output format.
type EngineInfo struct {
	Name       string  // Engine name (e.g., "supertonic", "mock")
	SampleRate int     // Audio sample rate in Hz
	Channels   int     // Number of audio channels (1=mono)
	BitDepth   int     // Bits per sample (16)
	Voices     []Voice // Voice styles the engine can render
}

// ModelState is the opaque iterative-refinement state threaded through
// Engine.Step calls. Only the engine interprets it.
type ModelState interface{}

// Engine is the contract for the iterative neural inference collaborator.
// Implementations are not expected to be reentrant; the worker serializes
// all calls.
type Engine interface {
	// Begin tokenizes and conditions the unit, returning the initial
	// refinement state.
	Begin(ctx context.Context, unit Unit) (ModelState, error)

	// Step runs one refinement pass. step is zero-based; total is the
	// unit's quality-step count. Deterministic given identical inputs.
	Step(ctx context.Context, st ModelState, step, total int) (ModelState, error)

	// Decode renders the final waveform from a fully refined state.
	// Returns 16-bit little-endian mono PCM.
	Decode(ctx context.Context, st ModelState) ([]byte, error)

	// Info returns engine capabilities and output format.
	Info() EngineInfo

	// Close releases any resources held by the engine.
	Close() error
}

// Sink is the audio output destination consuming PCM samples. Owned
// exclusively by the playback scheduler.
type Sink interface {
	// Write appends PCM samples to the output stream. Blocks while the
	// device drains; a short write is an error.
	Write(pcm []byte) error

	// Flush blocks until buffered samples have been consumed.
	Flush() error

	// Reset discards buffered samples and releases the current playback
	// position.
	Reset() error

	// Pause suspends consumption without discarding buffered samples.
	Pause() error

	// Resume continues consumption after Pause.
	Resume() error

	// Close releases the output device.
	Close() error
}

// AudioCache caches decoded PCM keyed by synthesis inputs, so repeated
// utterances skip inference entirely.
type AudioCache interface {
	// Get retrieves cached PCM for the given key.
	Get(key string) ([]byte, bool)

	// Put stores PCM under the given key.
	Put(key string, pcm []byte) error

	// Clear removes all cached entries.
	Clear()

	// Stats returns cache performance counters.
	Stats() CacheStats
}

// CacheStats provides cache performance metrics.
type CacheStats struct {
	Hits      int64 // Number of cache hits
	Misses    int64 // Number of cache misses
	Evictions int64 // Number of evictions
	Entries   int   // Current entry count
	Bytes     int64 // Current cache size in bytes
}

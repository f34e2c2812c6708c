// Package synth runs iterative neural inference for synthesizable units.
// It owns the single inference worker and the engine implementations.
package synth

import (
	"errors"

	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

var (
	// ErrWorkerClosed is returned when units are submitted after shutdown.
	ErrWorkerClosed = errors.New("inference worker is closed")

	// ErrUnknownVoice is returned when a unit requests a voice style the
	// engine cannot render.
	ErrUnknownVoice = errors.New("unknown voice style")

	// ErrEngineClosed is returned by engine calls after Close.
	ErrEngineClosed = errors.New("engine has been closed")
)

// BufferSink receives synthesized buffers in sequence order. Enqueue may
// block to apply backpressure; implementations must discard stale-epoch
// buffers instead of blocking on them.
type BufferSink interface {
	Enqueue(buf ttypes.Buffer) error
}

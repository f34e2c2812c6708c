// Package playback orders synthesized buffers and feeds them to the audio
// sink. It owns the bounded buffer queue that applies backpressure to the
// inference worker, and the sink implementations.
package playback

import "errors"

var (
	// ErrSchedulerClosed is returned when buffers are enqueued after
	// shutdown or after a terminal sink failure.
	ErrSchedulerClosed = errors.New("playback scheduler is closed")

	// ErrSinkClosed is returned by sink calls after Close.
	ErrSinkClosed = errors.New("audio sink is closed")
)

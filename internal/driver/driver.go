// Package driver exposes the speech pipeline to the host screen reader:
// speak, stop, pause, resume, and parameter control. It is the single
// writer of the cancellation epoch and the only component that mutates the
// pipeline state.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/fastfinge/supertonic-nvda/internal/cache"
	"github.com/fastfinge/supertonic-nvda/internal/playback"
	"github.com/fastfinge/supertonic-nvda/internal/rate"
	"github.com/fastfinge/supertonic-nvda/internal/segment"
	"github.com/fastfinge/supertonic-nvda/internal/synth"
	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

var (
	// ErrDriverClosed is returned by calls after Close.
	ErrDriverClosed = errors.New("speech driver is closed")

	// ErrAudioFailed is returned by Speak after a terminal audio device
	// failure. The driver must be rebuilt with a fresh sink.
	ErrAudioFailed = errors.New("audio output has failed")
)

// Callbacks are invoked from pipeline goroutines. They must return quickly
// and must not call back into the driver except for Stop.
type Callbacks struct {
	// OnStateChange fires on every lifecycle transition.
	OnStateChange func(from, to ttypes.State)

	// OnUnitSpoken fires after each unit's audio reaches the sink. Hosts
	// use it to move reading position indicators.
	OnUnitSpoken func(utteranceID string, seq int)

	// OnDone fires when an utterance finishes playing naturally. A stopped
	// utterance never reports done.
	OnDone func(utteranceID string)

	// OnError fires on a terminal audio failure.
	OnError func(err error)
}

// Options configure a driver. Zero values select the defaults.
type Options struct {
	Voice        ttypes.Voice // initial voice style
	HostRate     int          // initial host rate, 0-100
	QualitySteps int          // initial refinement steps per unit

	MaxUnitLen       int  // segmenter oversize bound
	UnitQueueDepth   int  // units waiting for the inference worker
	BufferQueueDepth int  // buffers waiting for the sink
	CacheDisabled    bool // disable the decoded-audio cache
	CacheMaxEntries  int
	CacheMaxBytes    int64

	Callbacks Callbacks
}

// DefaultOptions returns the standard driver settings.
func DefaultOptions() Options {
	return Options{
		Voice:           ttypes.VoiceF1,
		HostRate:        rate.DefaultHostRate,
		QualitySteps:    5,
		CacheMaxEntries: cache.DefaultMaxEntries,
		CacheMaxBytes:   cache.DefaultMaxBytes,
	}
}

// Driver owns the pipeline: segmenter, inference worker, and playback
// scheduler. All host-facing calls are safe for concurrent use.
type Driver struct {
	epochs    *ttypes.EpochCounter
	segmenter *segment.Segmenter
	worker    *synth.Worker
	scheduler *playback.Scheduler
	engine    ttypes.Engine
	cb        Callbacks
	logger    *log.Logger

	mu        sync.Mutex
	machine   *stateMachine
	voice     ttypes.Voice
	hostRate  int
	steps     int
	currentID string
	sinkErr   error
	closed    bool

	cancel context.CancelFunc
}

// New builds a driver over the given engine and sink.
func New(engine ttypes.Engine, sink ttypes.Sink, opts Options) (*Driver, error) {
	if opts.Voice == "" {
		opts.Voice = ttypes.VoiceF1
	}
	if !opts.Voice.IsValid() {
		return nil, fmt.Errorf("%w: %q", synth.ErrUnknownVoice, opts.Voice)
	}
	if opts.QualitySteps == 0 {
		opts.QualitySteps = 5
	}

	d := &Driver{
		epochs:    &ttypes.EpochCounter{},
		segmenter: segment.NewSegmenter(opts.MaxUnitLen),
		engine:    engine,
		cb:        opts.Callbacks,
		logger:    log.WithPrefix("driver"),
		machine:   newStateMachine(),
		voice:     opts.Voice,
		hostRate:  clampHostRate(opts.HostRate),
		steps:     ttypes.ClampQualitySteps(opts.QualitySteps),
	}

	var audio ttypes.AudioCache
	if !opts.CacheDisabled {
		maxEntries := opts.CacheMaxEntries
		if maxEntries <= 0 {
			maxEntries = cache.DefaultMaxEntries
		}
		maxBytes := opts.CacheMaxBytes
		if maxBytes <= 0 {
			maxBytes = cache.DefaultMaxBytes
		}
		manager, err := cache.NewManager(maxEntries, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to build audio cache: %w", err)
		}
		audio = manager
	}

	d.scheduler = playback.NewScheduler(sink, d.epochs, opts.BufferQueueDepth, playback.Callbacks{
		OnSpoken: d.handleSpoken,
		OnDone:   d.handleDone,
		OnError:  d.handleSinkError,
	})
	d.worker = synth.NewWorker(engine, d.scheduler, d.epochs, audio, opts.UnitQueueDepth)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.worker.Start(ctx)

	return d, nil
}

// Speak submits text for synthesis with the driver's current parameters,
// implicitly stopping any utterance in flight. It returns the new
// utterance's ID. Text that segments to nothing is a no-op that still
// reports done.
func (d *Driver) Speak(text string) (string, error) {
	d.mu.Lock()
	voice, hostRate, steps := d.voice, d.hostRate, d.steps
	d.mu.Unlock()
	return d.SpeakWith(text, voice, hostRate, steps)
}

// SpeakWith submits text with explicit parameters for this utterance only.
// The driver's stored parameters are left untouched.
func (d *Driver) SpeakWith(text string, voice ttypes.Voice, hostRate, steps int) (string, error) {
	if !voice.IsValid() {
		return "", fmt.Errorf("%w: %q", synth.ErrUnknownVoice, voice)
	}

	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return "", ErrDriverClosed
	}
	if d.sinkErr != nil {
		err := d.sinkErr
		d.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrAudioFailed, err)
	}

	var transitions [][2]ttypes.State

	// A speak while speech is in flight is an implicit stop first.
	if d.machine.state() != ttypes.StateIdle {
		from := d.machine.state()
		d.stopLocked()
		transitions = append(transitions, [2]ttypes.State{from, ttypes.StateIdle})
	}

	utt := ttypes.Utterance{
		ID:           uuid.NewString(),
		Text:         text,
		Voice:        voice,
		RateFactor:   rate.FactorFromHostRate(clampHostRate(hostRate)),
		QualitySteps: ttypes.ClampQualitySteps(steps),
		Epoch:        d.epochs.Current(),
		CreatedAt:    time.Now(),
	}

	units := d.segmenter.Segment(utt)
	if len(units) == 0 {
		d.mu.Unlock()
		d.notifyTransitions(transitions)
		if d.cb.OnDone != nil {
			d.cb.OnDone(utt.ID)
		}
		return utt.ID, nil
	}

	from := d.machine.state()
	d.machine.transition(ttypes.StateSynthesizing)
	transitions = append(transitions, [2]ttypes.State{from, ttypes.StateSynthesizing})
	d.currentID = utt.ID
	d.mu.Unlock()

	d.logger.Debug("speaking", "utterance", utt.ID, "units", len(units), "voice", utt.Voice)
	d.notifyTransitions(transitions)

	go d.feed(units, utt.Epoch)
	return utt.ID, nil
}

// feed hands units to the worker in sequence order, blocking on worker
// backpressure. It bails out as soon as the utterance's epoch goes stale.
func (d *Driver) feed(units []ttypes.Unit, epoch ttypes.Epoch) {
	for _, unit := range units {
		if d.epochs.IsStale(epoch) {
			return
		}
		if err := d.worker.Submit(unit); err != nil {
			return
		}
	}
}

// Stop cancels the current utterance and discards all queued speech.
// Stopping while idle is a no-op and does not advance the epoch.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDriverClosed
	}
	if d.machine.state() == ttypes.StateIdle {
		d.mu.Unlock()
		return nil
	}
	from := d.machine.state()
	d.stopLocked()
	d.mu.Unlock()

	d.notifyTransitions([][2]ttypes.State{{from, ttypes.StateIdle}})
	return nil
}

// stopLocked advances the epoch, clears queued audio, and returns to idle.
// Caller holds d.mu and has verified the driver is not already idle.
func (d *Driver) stopLocked() {
	d.epochs.Advance()
	d.currentID = ""
	d.machine.transition(ttypes.StateIdle)
	if err := d.scheduler.Clear(); err != nil {
		d.logger.Warn("failed to clear playback queue", "error", err)
	}
}

// Pause suspends playback without discarding anything. Pausing while idle
// or already paused is a no-op.
func (d *Driver) Pause() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDriverClosed
	}
	if !d.machine.transition(ttypes.StatePaused) {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.scheduler.Pause(); err != nil {
		// Audio is still flowing, so the reported state must not say
		// otherwise.
		d.mu.Lock()
		d.machine.transition(ttypes.StateSynthesizing)
		d.mu.Unlock()
		return err
	}
	d.notifyTransitions([][2]ttypes.State{{ttypes.StateSynthesizing, ttypes.StatePaused}})
	return nil
}

// Resume continues playback after Pause. Resuming while not paused is a
// no-op.
func (d *Driver) Resume() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDriverClosed
	}
	if d.machine.state() != ttypes.StatePaused {
		d.mu.Unlock()
		return nil
	}
	d.machine.transition(ttypes.StateSynthesizing)
	d.mu.Unlock()

	if err := d.scheduler.Resume(); err != nil {
		d.mu.Lock()
		d.machine.transition(ttypes.StatePaused)
		d.mu.Unlock()
		return err
	}
	d.notifyTransitions([][2]ttypes.State{{ttypes.StatePaused, ttypes.StateSynthesizing}})
	return nil
}

// SetVoice selects the voice style for subsequent utterances. Speech in
// flight is unaffected.
func (d *Driver) SetVoice(v ttypes.Voice) error {
	if !v.IsValid() {
		return fmt.Errorf("%w: %q", synth.ErrUnknownVoice, v)
	}
	d.mu.Lock()
	d.voice = v
	d.mu.Unlock()
	return nil
}

// SetRate sets the host rate (0-100) for subsequent utterances. Out-of-range
// values are clamped.
func (d *Driver) SetRate(hostRate int) {
	d.mu.Lock()
	d.hostRate = clampHostRate(hostRate)
	d.mu.Unlock()
}

// SetQualitySteps sets the refinement step count for subsequent utterances.
// Out-of-range values are clamped.
func (d *Driver) SetQualitySteps(n int) {
	d.mu.Lock()
	d.steps = ttypes.ClampQualitySteps(n)
	d.mu.Unlock()
}

// Voice returns the voice style for the next utterance.
func (d *Driver) Voice() ttypes.Voice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voice
}

// Rate returns the host rate for the next utterance.
func (d *Driver) Rate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hostRate
}

// QualitySteps returns the refinement step count for the next utterance.
func (d *Driver) QualitySteps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.steps
}

// State returns the current pipeline state.
func (d *Driver) State() ttypes.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.state()
}

// Close shuts the pipeline down: cancels speech, stops the worker, closes
// the scheduler and sink, and closes the engine.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.machine.state() != ttypes.StateIdle {
		d.stopLocked()
	}
	d.mu.Unlock()

	d.cancel()
	d.worker.Close()

	var errs []error
	if err := d.scheduler.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// handleSpoken forwards per-unit progress to the host.
func (d *Driver) handleSpoken(buf ttypes.Buffer) {
	if d.cb.OnUnitSpoken != nil && !d.epochs.IsStale(buf.Epoch) {
		d.cb.OnUnitSpoken(buf.UtteranceID, buf.Seq)
	}
}

// handleDone returns the driver to idle when an utterance plays out
// naturally. A stop that raced the final buffer already changed currentID,
// so a stale completion is ignored.
func (d *Driver) handleDone(utteranceID string) {
	d.mu.Lock()
	if d.currentID != utteranceID {
		d.mu.Unlock()
		return
	}
	from := d.machine.state()
	d.currentID = ""
	d.machine.transition(ttypes.StateIdle)
	d.mu.Unlock()

	d.notifyTransitions([][2]ttypes.State{{from, ttypes.StateIdle}})
	if d.cb.OnDone != nil {
		d.cb.OnDone(utteranceID)
	}
}

// handleSinkError records a terminal audio failure. The pipeline is
// flushed so nothing blocks, the driver idles, and later speaks fail fast.
func (d *Driver) handleSinkError(err error) {
	d.logger.Error("audio output failed", "error", err)

	d.mu.Lock()
	d.sinkErr = err
	from := d.machine.state()
	if from != ttypes.StateIdle {
		d.stopLocked()
	}
	d.mu.Unlock()

	if from != ttypes.StateIdle {
		d.notifyTransitions([][2]ttypes.State{{from, ttypes.StateIdle}})
	}
	if d.cb.OnError != nil {
		d.cb.OnError(fmt.Errorf("%w: %v", ErrAudioFailed, err))
	}
}

func (d *Driver) notifyTransitions(transitions [][2]ttypes.State) {
	if d.cb.OnStateChange == nil {
		return
	}
	for _, t := range transitions {
		d.cb.OnStateChange(t[0], t[1])
	}
}

func clampHostRate(r int) int {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

package playback

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/fastfinge/supertonic-nvda/internal/rate"
	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

// DefaultQueueDepth bounds how many synthesized buffers may wait for the
// sink. Small on purpose: a deep queue would let the worker render far
// ahead of the audio position, wasting inference on speech a stop will
// never play.
const DefaultQueueDepth = 3

// Callbacks are invoked from the scheduler's streaming goroutine. They must
// not call back into the scheduler.
type Callbacks struct {
	// OnSpoken fires after a buffer's audio has been written to the sink.
	OnSpoken func(buf ttypes.Buffer)

	// OnDone fires when the final buffer of an utterance has been written
	// and the sink has drained.
	OnDone func(utteranceID string)

	// OnError fires on a sink write failure, after which the scheduler
	// stops accepting buffers.
	OnError func(err error)
}

// SchedulerStats tracks playback activity counters.
type SchedulerStats struct {
	BuffersPlayed    int64 // Buffers written to the sink
	BuffersDiscarded int64 // Stale-epoch buffers dropped
	BytesWritten     int64 // PCM bytes written, after rate adjustment
}

// Scheduler consumes synthesized buffers strictly in arrival order, applies
// the playback-rate adjustment, and writes the result to the sink. Enqueue
// blocks while the queue is at capacity, which is what throttles the
// inference worker; stale-epoch buffers are dropped instead of queued, so a
// stop unblocks the worker immediately.
type Scheduler struct {
	sink   ttypes.Sink
	epochs *ttypes.EpochCounter
	cb     Callbacks
	logger *log.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []ttypes.Buffer
	maxDepth int
	paused   bool
	closed   bool
	stats    SchedulerStats

	// writeMu serializes sink writes against Clear, so a stop can wait out
	// the write in flight and guarantee nothing stale lands afterwards.
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewScheduler creates a playback scheduler over the given sink. queueDepth
// bounds the waiting-buffer queue; zero selects DefaultQueueDepth.
func NewScheduler(sink ttypes.Sink, epochs *ttypes.EpochCounter, queueDepth int, cb Callbacks) *Scheduler {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	s := &Scheduler{
		sink:     sink,
		epochs:   epochs,
		cb:       cb,
		logger:   log.WithPrefix("playback"),
		maxDepth: queueDepth,
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.stream()
	return s
}

// Enqueue adds a buffer to the playback queue, blocking while the queue is
// full. A buffer whose epoch has gone stale is dropped without queuing, so
// a blocked caller is released as soon as a stop clears the queue.
func (s *Scheduler) Enqueue(buf ttypes.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) >= s.maxDepth && !s.closed && !s.epochs.IsStale(buf.Epoch) {
		s.cond.Wait()
	}

	if s.closed {
		return ErrSchedulerClosed
	}
	if s.epochs.IsStale(buf.Epoch) {
		s.stats.BuffersDiscarded++
		return nil
	}

	s.queue = append(s.queue, buf)
	s.cond.Broadcast()
	return nil
}

// Pause suspends consumption of the queue and the sink. Synthesis keeps
// filling the queue until it hits the depth bound.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	if err := s.sink.Pause(); err != nil {
		// The sink kept playing, so the queue must keep feeding it.
		s.mu.Lock()
		s.paused = false
		s.cond.Broadcast()
		s.mu.Unlock()
		return err
	}
	return nil
}

// Resume continues consumption after Pause.
func (s *Scheduler) Resume() error {
	if err := s.sink.Resume(); err != nil {
		return err
	}
	s.mu.Lock()
	s.paused = false
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Clear discards every queued buffer, resets the sink, and lifts any
// pause. Called by the driver after it advances the cancellation epoch; the
// epoch check in the streaming goroutine catches any buffer already popped
// from the queue.
func (s *Scheduler) Clear() error {
	s.mu.Lock()
	s.stats.BuffersDiscarded += int64(len(s.queue))
	s.queue = s.queue[:0]
	wasPaused := s.paused
	s.paused = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if wasPaused {
		if err := s.sink.Resume(); err != nil {
			return err
		}
	}

	// Wait out any write in flight before resetting, so its audio is
	// covered by the reset; writes after this see the stale epoch.
	s.writeMu.Lock()
	err := s.sink.Reset()
	s.writeMu.Unlock()
	return err
}

// Close shuts the scheduler down and waits for the streaming goroutine.
// Queued buffers are dropped.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done

	var err error
	s.closeOnce.Do(func() { err = s.sink.Close() })
	return err
}

// Stats returns a snapshot of playback activity counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// stream is the single consumer of the buffer queue.
func (s *Scheduler) stream() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for (len(s.queue) == 0 || s.paused) && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		buf := s.queue[0]
		s.queue = s.queue[1:]
		s.cond.Broadcast()
		s.mu.Unlock()

		s.play(buf)
	}
}

// play writes one buffer's audio, re-checking the epoch immediately before
// the sink write so a stop that lands between dequeue and write still
// suppresses the audio.
func (s *Scheduler) play(buf ttypes.Buffer) {
	if s.epochs.IsStale(buf.Epoch) {
		s.discard(buf)
		return
	}

	pcm := rate.Resample(buf.PCM, buf.RateFactor)

	if len(pcm) > 0 {
		s.writeMu.Lock()
		if s.epochs.IsStale(buf.Epoch) {
			s.writeMu.Unlock()
			s.discard(buf)
			return
		}
		err := s.sink.Write(pcm)
		s.writeMu.Unlock()
		if err != nil {
			s.fail(err)
			return
		}
	}

	s.mu.Lock()
	s.stats.BuffersPlayed++
	s.stats.BytesWritten += int64(len(pcm))
	s.mu.Unlock()

	if s.cb.OnSpoken != nil {
		s.cb.OnSpoken(buf)
	}

	if buf.Final && !s.epochs.IsStale(buf.Epoch) {
		if err := s.sink.Flush(); err != nil {
			s.fail(err)
			return
		}
		if s.cb.OnDone != nil {
			s.cb.OnDone(buf.UtteranceID)
		}
	}
}

func (s *Scheduler) discard(buf ttypes.Buffer) {
	s.logger.Debug("discarding stale buffer", "utterance", buf.UtteranceID, "seq", buf.Seq)
	s.mu.Lock()
	s.stats.BuffersDiscarded++
	s.mu.Unlock()
}

// fail marks the scheduler terminally broken. The audio device is gone;
// further buffers would only block, so Enqueue starts rejecting them.
func (s *Scheduler) fail(err error) {
	s.logger.Error("sink write failed", "error", err)
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

package synth

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/fastfinge/supertonic-nvda/internal/cache"
	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

// DefaultUnitQueueDepth bounds how many segmented units may wait for the
// worker. The feeder blocks beyond this, keeping memory and cancellation
// latency bounded for long utterances.
const DefaultUnitQueueDepth = 8

// WorkerStats tracks worker activity counters.
type WorkerStats struct {
	UnitsSynthesized int64 // Units that produced a buffer
	UnitsAborted     int64 // Units abandoned mid-inference by a stop
	UnitsDiscarded   int64 // Units dropped before inference (stale epoch)
	UnitsSkipped     int64 // Units skipped after an inference failure
	CacheHits        int64 // Units served from the audio cache
}

// Worker drives the inference engine, strictly one unit at a time and in
// sequence order; the underlying model is not reentrant. Before and between
// refinement steps it re-checks the cancellation epoch so a stop is observed
// within at most one step's latency, and no partial-step audio is ever
// emitted.
type Worker struct {
	engine ttypes.Engine
	out    BufferSink
	epochs *ttypes.EpochCounter
	audio  ttypes.AudioCache // may be nil

	units  chan ttypes.Unit
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Logger

	statsMu sync.Mutex
	stats   WorkerStats
}

// NewWorker creates an inference worker. queueDepth bounds the waiting-unit
// channel; zero selects DefaultUnitQueueDepth. audio may be nil to disable
// caching.
func NewWorker(engine ttypes.Engine, out BufferSink, epochs *ttypes.EpochCounter, audio ttypes.AudioCache, queueDepth int) *Worker {
	if queueDepth <= 0 {
		queueDepth = DefaultUnitQueueDepth
	}
	return &Worker{
		engine: engine,
		out:    out,
		epochs: epochs,
		audio:  audio,
		units:  make(chan ttypes.Unit, queueDepth),
		logger: log.WithPrefix("synth"),
	}
}

// Start launches the worker goroutine. The worker runs until ctx is
// cancelled or Close is called.
func (w *Worker) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run()
}

// Submit hands a unit to the worker in sequence order. Blocks while the
// unit queue is full; stale units drain quickly after a stop, so the block
// is bounded by one inference step.
func (w *Worker) Submit(unit ttypes.Unit) error {
	select {
	case <-w.ctx.Done():
		return ErrWorkerClosed
	default:
	}
	select {
	case w.units <- unit:
		return nil
	case <-w.ctx.Done():
		return ErrWorkerClosed
	}
}

// Close stops the worker and waits for the in-flight unit to finish or
// abort.
func (w *Worker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Stats returns a snapshot of worker activity counters.
func (w *Worker) Stats() WorkerStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case unit := <-w.units:
			w.process(unit)
		}
	}
}

// process synthesizes one unit and enqueues its buffer, or discards the
// unit if its epoch went stale. Inference failures skip the unit so one bad
// segment does not silence the rest of the utterance.
func (w *Worker) process(unit ttypes.Unit) {
	if w.epochs.IsStale(unit.Epoch) {
		w.logger.Debug("discarding stale unit", "utterance", unit.UtteranceID, "seq", unit.Seq)
		w.count(func(s *WorkerStats) { s.UnitsDiscarded++ })
		return
	}

	pcm, ok := w.synthesize(unit)
	if !ok {
		// Aborted mid-inference; the epoch advanced, nothing to emit.
		return
	}

	buf := ttypes.Buffer{
		UtteranceID: unit.UtteranceID,
		PCM:         pcm,
		Seq:         unit.Seq,
		Epoch:       unit.Epoch,
		RateFactor:  unit.RateFactor,
		Final:       unit.Final,
	}

	if err := w.out.Enqueue(buf); err != nil {
		w.logger.Warn("failed to enqueue buffer", "seq", unit.Seq, "error", err)
	}
}

// synthesize runs the refinement loop. It returns ok=false only when a stop
// aborted the unit. On inference failure it returns an empty waveform with
// ok=true, so a final unit still delivers its end-of-utterance marker.
func (w *Worker) synthesize(unit ttypes.Unit) (pcm []byte, ok bool) {
	steps := ttypes.ClampQualitySteps(unit.QualitySteps)

	var key string
	if w.audio != nil {
		key = cache.Key(unit.Text, unit.Voice, steps)
		if cached, hit := w.audio.Get(key); hit {
			w.logger.Debug("cache hit", "seq", unit.Seq)
			w.count(func(s *WorkerStats) { s.CacheHits++ })
			return cached, true
		}
	}

	// Engine calls run under a context that a stop cancels, so even work
	// blocked inside the engine ends promptly when the epoch advances.
	ctx, cancel := context.WithCancel(w.ctx)
	defer cancel()
	go w.watchEpoch(ctx, cancel, unit.Epoch)

	st, err := w.engine.Begin(ctx, unit)
	if err != nil {
		if w.epochs.IsStale(unit.Epoch) {
			w.count(func(s *WorkerStats) { s.UnitsAborted++ })
			return nil, false
		}
		w.logger.Warn("inference failed, skipping unit",
			"utterance", unit.UtteranceID, "seq", unit.Seq, "error", err)
		w.count(func(s *WorkerStats) { s.UnitsSkipped++ })
		return nil, true
	}

	for step := 0; step < steps; step++ {
		if w.epochs.IsStale(unit.Epoch) {
			w.logger.Debug("aborting unit mid-inference", "seq", unit.Seq, "step", step)
			w.count(func(s *WorkerStats) { s.UnitsAborted++ })
			return nil, false
		}

		st, err = w.engine.Step(ctx, st, step, steps)
		if err != nil {
			if w.epochs.IsStale(unit.Epoch) {
				w.count(func(s *WorkerStats) { s.UnitsAborted++ })
				return nil, false
			}
			w.logger.Warn("refinement step failed, skipping unit",
				"seq", unit.Seq, "step", step, "error", err)
			w.count(func(s *WorkerStats) { s.UnitsSkipped++ })
			return nil, true
		}
	}

	if w.epochs.IsStale(unit.Epoch) {
		w.count(func(s *WorkerStats) { s.UnitsAborted++ })
		return nil, false
	}

	pcm, err = w.engine.Decode(ctx, st)
	if err != nil {
		if w.epochs.IsStale(unit.Epoch) {
			w.count(func(s *WorkerStats) { s.UnitsAborted++ })
			return nil, false
		}
		w.logger.Warn("waveform decode failed, skipping unit", "seq", unit.Seq, "error", err)
		w.count(func(s *WorkerStats) { s.UnitsSkipped++ })
		return nil, true
	}

	if w.audio != nil && len(pcm) > 0 {
		if err := w.audio.Put(key, pcm); err != nil {
			w.logger.Debug("cache store failed", "seq", unit.Seq, "error", err)
		}
	}

	w.count(func(s *WorkerStats) { s.UnitsSynthesized++ })
	return pcm, true
}

// watchEpoch cancels ctx once epoch is superseded. It exits when the unit
// finishes and cancel runs via the synthesize defer.
func (w *Worker) watchEpoch(ctx context.Context, cancel context.CancelFunc, epoch ttypes.Epoch) {
	for {
		if w.epochs.IsStale(epoch) {
			cancel()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.epochs.Changed():
		}
	}
}

func (w *Worker) count(update func(*WorkerStats)) {
	w.statsMu.Lock()
	update(&w.stats)
	w.statsMu.Unlock()
}

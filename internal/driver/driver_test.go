package driver

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fastfinge/supertonic-nvda/internal/playback"
	"github.com/fastfinge/supertonic-nvda/internal/synth"
	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

// waitFor polls until cond reports true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// recorder collects driver callbacks for inspection.
type recorder struct {
	mu     sync.Mutex
	spoken []string // "utteranceID/seq" is overkill; we keep IDs per unit
	seqs   []int
	done   []string
	errs   []error
	states [][2]ttypes.State
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStateChange: func(from, to ttypes.State) {
			r.mu.Lock()
			r.states = append(r.states, [2]ttypes.State{from, to})
			r.mu.Unlock()
		},
		OnUnitSpoken: func(id string, seq int) {
			r.mu.Lock()
			r.spoken = append(r.spoken, id)
			r.seqs = append(r.seqs, seq)
			r.mu.Unlock()
		},
		OnDone: func(id string) {
			r.mu.Lock()
			r.done = append(r.done, id)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

func (r *recorder) doneIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.done))
	copy(out, r.done)
	return out
}

func (r *recorder) spokenSeqs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.seqs))
	copy(out, r.seqs)
	return out
}

func (r *recorder) spokenIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.spoken))
	copy(out, r.spoken)
	return out
}

func (r *recorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func newTestDriver(t *testing.T, engine *synth.MockEngine, sink *playback.MockSink, rec *recorder) *Driver {
	t.Helper()

	opts := DefaultOptions()
	opts.CacheDisabled = true
	opts.Callbacks = rec.callbacks()

	d, err := New(engine, sink, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSpeakPlaysUtteranceToCompletion(t *testing.T) {
	engine := synth.NewMockEngine()
	engine.SetUnitSeconds(0.001)
	engine.SetStepDelay(2 * time.Millisecond)
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	id, err := d.Speak("First sentence. Second sentence. Third sentence.")
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if got := d.State(); got != ttypes.StateSynthesizing {
		t.Errorf("state after Speak = %v, want synthesizing", got)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rec.doneCount() == 1 }) {
		t.Fatal("utterance never completed")
	}

	if got := rec.doneIDs()[0]; got != id {
		t.Errorf("done reported %q, want %q", got, id)
	}
	if got := d.State(); got != ttypes.StateIdle {
		t.Errorf("state after completion = %v, want idle", got)
	}

	seqs := rec.spokenSeqs()
	if len(seqs) != 3 {
		t.Fatalf("spoke %d units, want 3", len(seqs))
	}
	for i, seq := range seqs {
		if seq != i {
			t.Errorf("spoken[%d] = seq %d, want %d", i, seq, i)
		}
	}
	if sink.WriteCount() != 3 {
		t.Errorf("sink writes = %d, want 3", sink.WriteCount())
	}
}

func TestSpeakEmptyTextIsNoOpButReportsDone(t *testing.T) {
	engine := synth.NewMockEngine()
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	id, err := d.Speak("   \t\n  ")
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if id == "" {
		t.Error("empty speak returned no utterance ID")
	}
	if got := d.State(); got != ttypes.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if rec.doneCount() != 1 || rec.doneIDs()[0] != id {
		t.Errorf("done callbacks = %v, want [%s]", rec.doneIDs(), id)
	}
	if engine.BeginCount() != 0 {
		t.Errorf("empty speak reached the engine, BeginCount = %d", engine.BeginCount())
	}
}

func TestSpeakImplicitlyStopsPreviousUtterance(t *testing.T) {
	engine := synth.NewMockEngine()
	engine.SetUnitSeconds(0.001)
	engine.SetStepDelay(5 * time.Millisecond)
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	first, err := d.Speak("Slow one. Slow two. Slow three. Slow four.")
	if err != nil {
		t.Fatalf("first Speak failed: %v", err)
	}

	// Supersede while the first utterance is mid-synthesis.
	time.Sleep(20 * time.Millisecond)
	engine.SetStepDelay(0)
	second, err := d.Speak("Replacement speech.")
	if err != nil {
		t.Fatalf("second Speak failed: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rec.doneCount() >= 1 }) {
		t.Fatal("second utterance never completed")
	}

	for _, id := range rec.doneIDs() {
		if id == first {
			t.Error("stopped utterance reported done")
		}
	}
	if got := rec.doneIDs()[len(rec.doneIDs())-1]; got != second {
		t.Errorf("done reported %q, want %q", got, second)
	}

	// Units spoken after the switch must all belong to the replacement.
	time.Sleep(50 * time.Millisecond)
	ids := rec.spokenIDs()
	if len(ids) == 0 {
		t.Fatal("no units spoken")
	}
	if got := ids[len(ids)-1]; got != second {
		t.Errorf("last spoken unit belongs to %q, want %q", got, second)
	}
}

func TestStopSilencesAndIdles(t *testing.T) {
	engine := synth.NewMockEngine()
	engine.SetUnitSeconds(0.001)
	engine.SetStepDelay(5 * time.Millisecond)
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	if _, err := d.Speak("Long one. Long two. Long three. Long four. Long five."); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := d.State(); got != ttypes.StateIdle {
		t.Errorf("state after Stop = %v, want idle", got)
	}
	if sink.Resets() == 0 {
		t.Error("Stop never reset the sink")
	}

	// No further audio and no completion after the stop settles.
	time.Sleep(100 * time.Millisecond)
	writes := sink.WriteCount()
	time.Sleep(100 * time.Millisecond)
	if sink.WriteCount() != writes {
		t.Error("audio kept flowing after Stop")
	}
	if rec.doneCount() != 0 {
		t.Error("stopped utterance reported done")
	}
}

func TestStopWhileIdleIsIdempotent(t *testing.T) {
	engine := synth.NewMockEngine()
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	before := d.epochs.Current()
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	// An idle stop is not an effective stop; the cancellation generation
	// must not move.
	if got := d.epochs.Current(); got != before {
		t.Errorf("epoch advanced from %d to %d on idle stop", before, got)
	}
	if sink.Resets() != 0 {
		t.Errorf("idle Stop reset the sink %d times", sink.Resets())
	}
}

func TestPauseAndResume(t *testing.T) {
	engine := synth.NewMockEngine()
	engine.SetUnitSeconds(0.001)
	engine.SetStepDelay(5 * time.Millisecond)
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	// Pause while idle is a no-op.
	if err := d.Pause(); err != nil {
		t.Fatalf("idle Pause failed: %v", err)
	}
	if got := d.State(); got != ttypes.StateIdle {
		t.Errorf("state after idle Pause = %v, want idle", got)
	}

	if _, err := d.Speak("Pausable one. Pausable two. Pausable three."); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if err := d.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if got := d.State(); got != ttypes.StatePaused {
		t.Errorf("state after Pause = %v, want paused", got)
	}
	if !sink.Paused() {
		t.Error("sink not paused")
	}

	if err := d.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := d.State(); got != ttypes.StateSynthesizing {
		t.Errorf("state after Resume = %v, want synthesizing", got)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rec.doneCount() == 1 }) {
		t.Fatal("utterance never completed after Resume")
	}
}

func TestSpeakWhilePausedReplacesSpeech(t *testing.T) {
	engine := synth.NewMockEngine()
	engine.SetUnitSeconds(0.001)
	engine.SetStepDelay(5 * time.Millisecond)
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	if _, err := d.Speak("Paused speech one. Paused speech two."); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if err := d.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	second, err := d.Speak("Fresh speech.")
	if err != nil {
		t.Fatalf("Speak while paused failed: %v", err)
	}
	if got := d.State(); got != ttypes.StateSynthesizing {
		t.Errorf("state = %v, want synthesizing", got)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rec.doneCount() >= 1 }) {
		t.Fatal("replacement utterance never completed")
	}
	if ids := rec.doneIDs(); ids[len(ids)-1] != second {
		t.Errorf("done reported %q, want %q", ids[len(ids)-1], second)
	}
}

func TestParameterChangesApplyToNextUtterance(t *testing.T) {
	engine := synth.NewMockEngine()
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	if err := d.SetVoice(ttypes.VoiceM3); err != nil {
		t.Fatalf("SetVoice failed: %v", err)
	}
	d.SetRate(80)
	d.SetQualitySteps(12)

	if got := d.Voice(); got != ttypes.VoiceM3 {
		t.Errorf("Voice = %v, want M3", got)
	}
	if got := d.Rate(); got != 80 {
		t.Errorf("Rate = %d, want 80", got)
	}
	if got := d.QualitySteps(); got != 12 {
		t.Errorf("QualitySteps = %d, want 12", got)
	}

	if err := d.SetVoice("Q7"); err == nil {
		t.Error("SetVoice accepted an unknown voice")
	}
	if got := d.Voice(); got != ttypes.VoiceM3 {
		t.Errorf("failed SetVoice changed the voice to %v", got)
	}

	d.SetRate(500)
	if got := d.Rate(); got != 100 {
		t.Errorf("Rate = %d after out-of-range set, want 100", got)
	}
	d.SetQualitySteps(0)
	if got := d.QualitySteps(); got != ttypes.MinQualitySteps {
		t.Errorf("QualitySteps = %d after out-of-range set, want %d", got, ttypes.MinQualitySteps)
	}
}

func TestSpeakWithOverridesForOneUtterance(t *testing.T) {
	engine := synth.NewMockEngine()
	engine.SetUnitSeconds(0.001)
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	if _, err := d.SpeakWith("One-off settings.", ttypes.VoiceM5, 40, 9); err != nil {
		t.Fatalf("SpeakWith failed: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rec.doneCount() == 1 }) {
		t.Fatal("utterance never completed")
	}

	if steps, _ := engine.StepsRun(0); steps != 9 {
		t.Errorf("refinement steps = %d, want 9", steps)
	}

	// The stored parameters are untouched.
	if got := d.Voice(); got != ttypes.VoiceF1 {
		t.Errorf("stored voice = %v, want F1", got)
	}
	if got := d.QualitySteps(); got != 5 {
		t.Errorf("stored quality steps = %d, want 5", got)
	}

	if _, err := d.SpeakWith("Bad voice.", "Z1", 40, 9); err == nil {
		t.Error("SpeakWith accepted an unknown voice")
	}
}

func TestSinkFailureIsTerminal(t *testing.T) {
	engine := synth.NewMockEngine()
	engine.SetUnitSeconds(0.001)
	sink := playback.NewMockSink()
	sink.FailAtWrite(0)
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	if _, err := d.Speak("Doomed speech."); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return rec.errCount() == 1 }) {
		t.Fatal("error callback never fired")
	}
	if !waitFor(t, time.Second, func() bool { return d.State() == ttypes.StateIdle }) {
		t.Errorf("state after sink failure = %v, want idle", d.State())
	}

	if _, err := d.Speak("After the failure."); err == nil {
		t.Error("Speak succeeded after a terminal audio failure")
	}
}

func TestCloseRejectsFurtherCalls(t *testing.T) {
	engine := synth.NewMockEngine()
	sink := playback.NewMockSink()
	rec := &recorder{}

	opts := DefaultOptions()
	opts.CacheDisabled = true
	opts.Callbacks = rec.callbacks()
	d, err := New(engine, sink, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := d.Speak("Too late."); err != ErrDriverClosed {
		t.Errorf("Speak after Close = %v, want ErrDriverClosed", err)
	}
	if err := d.Stop(); err != ErrDriverClosed {
		t.Errorf("Stop after Close = %v, want ErrDriverClosed", err)
	}
}

func TestStateMachineRejectsIllegalMoves(t *testing.T) {
	m := newStateMachine()

	if m.transition(ttypes.StatePaused) {
		t.Error("idle to paused allowed")
	}
	if !m.transition(ttypes.StateSynthesizing) {
		t.Error("idle to synthesizing rejected")
	}
	if !m.transition(ttypes.StatePaused) {
		t.Error("synthesizing to paused rejected")
	}
	if !m.transition(ttypes.StateIdle) {
		t.Error("paused to idle rejected")
	}
	if m.transition(ttypes.StateIdle) {
		t.Error("idle to idle allowed")
	}
}

func TestPauseFailureLeavesStatePlaying(t *testing.T) {
	engine := synth.NewMockEngine()
	engine.SetUnitSeconds(0.001)
	engine.SetStepDelay(5 * time.Millisecond)
	sink := playback.NewMockSink()
	rec := &recorder{}
	d := newTestDriver(t, engine, sink, rec)

	sink.FailPause(errors.New("device refused to pause"))

	if _, err := d.Speak("One sentence. Another sentence. A third sentence."); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if err := d.Pause(); err == nil {
		t.Fatal("Pause succeeded despite the sink failure")
	}

	// Audio kept flowing, so the driver must not claim to be paused.
	if got := d.State(); got == ttypes.StatePaused {
		t.Fatalf("state = %v after a failed pause", got)
	}

	// The failed pause must not wedge the utterance.
	sink.FailPause(nil)
	if !waitFor(t, 5*time.Second, func() bool { return rec.doneCount() == 1 }) {
		t.Fatal("utterance never completed after a failed pause")
	}
}

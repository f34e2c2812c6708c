package synth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

// ExecConfig configures the subprocess-backed Supertonic engine.
type ExecConfig struct {
	// Binary is the supertonic CLI name or path.
	Binary string

	// ModelDir holds the model and voice-style assets.
	ModelDir string

	// SampleRate of the PCM the binary emits.
	SampleRate int

	// Timeout caps one unit's synthesis.
	Timeout time.Duration
}

// DefaultExecConfig returns the standard subprocess engine settings.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{
		Binary:     "supertonic",
		SampleRate: 44100,
		Timeout:    30 * time.Second,
	}
}

// ExecEngine drives the Supertonic inference CLI, one subprocess per unit.
// The subprocess performs all refinement internally, so Begin and Step only
// keep the step accounting honest; the waveform materializes in Decode with
// the unit's full quality-step count passed through as a flag. Cancellation
// between steps therefore aborts before the subprocess ever starts, and a
// context cancellation during Decode kills it.
type ExecEngine struct {
	config ExecConfig
	logger *log.Logger
	closed atomic.Bool
}

// execState carries a unit through the step bookkeeping to Decode.
type execState struct {
	unit  ttypes.Unit
	total int
}

// NewExecEngine validates the binary and model directory and returns the
// engine.
func NewExecEngine(config ExecConfig) (*ExecEngine, error) {
	if config.Binary == "" {
		config.Binary = "supertonic"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 44100
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	path, err := exec.LookPath(config.Binary)
	if err != nil {
		return nil, fmt.Errorf("supertonic binary not found: %w", err)
	}
	config.Binary = path

	if config.ModelDir != "" {
		if _, err := os.Stat(config.ModelDir); err != nil {
			return nil, fmt.Errorf("model directory not accessible: %w", err)
		}
	}

	return &ExecEngine{
		config: config,
		logger: log.WithPrefix("supertonic"),
	}, nil
}

// Begin validates the unit's voice and captures its inputs.
func (e *ExecEngine) Begin(_ context.Context, unit ttypes.Unit) (ttypes.ModelState, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if !unit.Voice.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, unit.Voice)
	}
	return &execState{unit: unit}, nil
}

// Step records refinement progress. The real iteration happens inside the
// subprocess during Decode.
func (e *ExecEngine) Step(_ context.Context, st ttypes.ModelState, _, total int) (ttypes.ModelState, error) {
	state, ok := st.(*execState)
	if !ok {
		return nil, fmt.Errorf("unexpected model state %T", st)
	}
	state.total = total
	return state, nil
}

// Decode runs the CLI and returns its raw PCM output.
func (e *ExecEngine) Decode(ctx context.Context, st ttypes.ModelState) ([]byte, error) {
	state, ok := st.(*execState)
	if !ok {
		return nil, fmt.Errorf("unexpected model state %T", st)
	}
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	args := []string{
		"synth",
		"--voice", string(state.unit.Voice),
		"--total-steps", strconv.Itoa(state.total),
		"--output-raw",
	}
	if e.config.ModelDir != "" {
		args = append(args, "--model-dir", e.config.ModelDir)
	}

	cmd := exec.CommandContext(ctx, e.config.Binary, args...)
	cmd.Stdin = strings.NewReader(state.unit.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesis cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("supertonic failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	pcm := stdout.Bytes()
	if len(pcm)%2 != 0 {
		// Raw stream must be whole 16-bit samples.
		pcm = pcm[:len(pcm)-1]
	}

	e.logger.Debug("synthesized unit",
		"seq", state.unit.Seq,
		"steps", state.total,
		"bytes", len(pcm),
		"elapsed", time.Since(start))

	return pcm, nil
}

// Info returns the engine's output format.
func (e *ExecEngine) Info() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:       "supertonic",
		SampleRate: e.config.SampleRate,
		Channels:   1,
		BitDepth:   16,
		Voices:     ttypes.Voices(),
	}
}

// Close marks the engine unusable. In-flight subprocesses finish through
// their own contexts.
func (e *ExecEngine) Close() error {
	e.closed.Store(true)
	return nil
}

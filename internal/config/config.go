// Package config holds the driver configuration and its file, environment,
// and default sources.
package config

import (
	"fmt"
	"time"

	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

// Config contains all speech driver configuration options.
type Config struct {
	// Engine selects the inference backend: "supertonic" or "mock".
	Engine string `yaml:"engine" env:"SUPERTONIC_ENGINE"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug" env:"SUPERTONIC_DEBUG"`

	Speech   SpeechConfig   `yaml:"speech"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Backend  BackendConfig  `yaml:"backend"`
	Cache    CacheConfig    `yaml:"cache"`
}

// SpeechConfig contains the host-visible speech parameters.
type SpeechConfig struct {
	Voice        string `yaml:"voice" env:"SUPERTONIC_VOICE"`
	Rate         int    `yaml:"rate" env:"SUPERTONIC_RATE"`
	QualitySteps int    `yaml:"quality_steps" env:"SUPERTONIC_QUALITY_STEPS"`
}

// PipelineConfig contains the internal queue and segmentation bounds.
type PipelineConfig struct {
	MaxUnitLen       int `yaml:"max_unit_len" env:"SUPERTONIC_MAX_UNIT_LEN"`
	UnitQueueDepth   int `yaml:"unit_queue_depth" env:"SUPERTONIC_UNIT_QUEUE_DEPTH"`
	BufferQueueDepth int `yaml:"buffer_queue_depth" env:"SUPERTONIC_BUFFER_QUEUE_DEPTH"`
}

// BackendConfig contains settings for the subprocess inference backend.
type BackendConfig struct {
	Binary     string        `yaml:"binary" env:"SUPERTONIC_BINARY"`
	ModelDir   string        `yaml:"model_dir" env:"SUPERTONIC_MODEL_DIR"`
	SampleRate int           `yaml:"sample_rate" env:"SUPERTONIC_SAMPLE_RATE"`
	Timeout    time.Duration `yaml:"timeout" env:"SUPERTONIC_TIMEOUT"`
}

// CacheConfig contains decoded-audio cache settings.
type CacheConfig struct {
	Enabled    bool  `yaml:"enabled" env:"SUPERTONIC_CACHE_ENABLED"`
	MaxEntries int   `yaml:"max_entries" env:"SUPERTONIC_CACHE_MAX_ENTRIES"`
	MaxBytes   int64 `yaml:"max_bytes" env:"SUPERTONIC_CACHE_MAX_BYTES"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Engine: "supertonic",
		Speech: SpeechConfig{
			Voice:        "F1",
			Rate:         27,
			QualitySteps: 5,
		},
		Pipeline: PipelineConfig{
			MaxUnitLen:       200,
			UnitQueueDepth:   8,
			BufferQueueDepth: 3,
		},
		Backend: BackendConfig{
			Binary:     "supertonic",
			SampleRate: 44100,
			Timeout:    30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 256,
			MaxBytes:   32 << 20,
		},
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.Engine {
	case "supertonic", "mock":
	default:
		return fmt.Errorf("unknown engine %q (supported: supertonic, mock)", c.Engine)
	}

	if !ttypes.Voice(c.Speech.Voice).IsValid() {
		return fmt.Errorf("unknown voice %q (supported: %v)", c.Speech.Voice, ttypes.Voices())
	}
	if c.Speech.Rate < 0 || c.Speech.Rate > 100 {
		return fmt.Errorf("rate %d out of range 0-100", c.Speech.Rate)
	}
	if c.Speech.QualitySteps < ttypes.MinQualitySteps || c.Speech.QualitySteps > ttypes.MaxQualitySteps {
		return fmt.Errorf("quality steps %d out of range %d-%d",
			c.Speech.QualitySteps, ttypes.MinQualitySteps, ttypes.MaxQualitySteps)
	}

	if c.Pipeline.MaxUnitLen <= 0 {
		return fmt.Errorf("max unit length must be positive, got %d", c.Pipeline.MaxUnitLen)
	}
	if c.Pipeline.UnitQueueDepth <= 0 {
		return fmt.Errorf("unit queue depth must be positive, got %d", c.Pipeline.UnitQueueDepth)
	}
	if c.Pipeline.BufferQueueDepth <= 0 {
		return fmt.Errorf("buffer queue depth must be positive, got %d", c.Pipeline.BufferQueueDepth)
	}

	if c.Backend.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.Backend.SampleRate)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %v", c.Backend.Timeout)
	}

	if c.Cache.Enabled {
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache max entries must be positive, got %d", c.Cache.MaxEntries)
		}
		if c.Cache.MaxBytes <= 0 {
			return fmt.Errorf("cache max bytes must be positive, got %d", c.Cache.MaxBytes)
		}
	}

	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// SetDefaults registers every configuration key with Viper so config files
// may set any subset of them.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("engine", defaults.Engine)
	viper.SetDefault("debug", defaults.Debug)

	viper.SetDefault("speech.voice", defaults.Speech.Voice)
	viper.SetDefault("speech.rate", defaults.Speech.Rate)
	viper.SetDefault("speech.quality_steps", defaults.Speech.QualitySteps)

	viper.SetDefault("pipeline.max_unit_len", defaults.Pipeline.MaxUnitLen)
	viper.SetDefault("pipeline.unit_queue_depth", defaults.Pipeline.UnitQueueDepth)
	viper.SetDefault("pipeline.buffer_queue_depth", defaults.Pipeline.BufferQueueDepth)

	viper.SetDefault("backend.binary", defaults.Backend.Binary)
	viper.SetDefault("backend.model_dir", defaults.Backend.ModelDir)
	viper.SetDefault("backend.sample_rate", defaults.Backend.SampleRate)
	viper.SetDefault("backend.timeout", defaults.Backend.Timeout.String())

	viper.SetDefault("cache.enabled", defaults.Cache.Enabled)
	viper.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)
	viper.SetDefault("cache.max_bytes", defaults.Cache.MaxBytes)
}

// Load assembles the configuration from defaults, the Viper config file,
// and environment variables, in that precedence order.
func Load() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("engine") {
		cfg.Engine = viper.GetString("engine")
	}
	if viper.IsSet("debug") {
		cfg.Debug = viper.GetBool("debug")
	}

	if viper.IsSet("speech.voice") {
		cfg.Speech.Voice = viper.GetString("speech.voice")
	}
	if viper.IsSet("speech.rate") {
		cfg.Speech.Rate = viper.GetInt("speech.rate")
	}
	if viper.IsSet("speech.quality_steps") {
		cfg.Speech.QualitySteps = viper.GetInt("speech.quality_steps")
	}

	if viper.IsSet("pipeline.max_unit_len") {
		cfg.Pipeline.MaxUnitLen = viper.GetInt("pipeline.max_unit_len")
	}
	if viper.IsSet("pipeline.unit_queue_depth") {
		cfg.Pipeline.UnitQueueDepth = viper.GetInt("pipeline.unit_queue_depth")
	}
	if viper.IsSet("pipeline.buffer_queue_depth") {
		cfg.Pipeline.BufferQueueDepth = viper.GetInt("pipeline.buffer_queue_depth")
	}

	if viper.IsSet("backend.binary") {
		cfg.Backend.Binary = viper.GetString("backend.binary")
	}
	if viper.IsSet("backend.model_dir") {
		cfg.Backend.ModelDir = viper.GetString("backend.model_dir")
	}
	if viper.IsSet("backend.sample_rate") {
		cfg.Backend.SampleRate = viper.GetInt("backend.sample_rate")
	}
	if viper.IsSet("backend.timeout") {
		if d, err := time.ParseDuration(viper.GetString("backend.timeout")); err == nil {
			cfg.Backend.Timeout = d
		}
	}

	if viper.IsSet("cache.enabled") {
		cfg.Cache.Enabled = viper.GetBool("cache.enabled")
	}
	if viper.IsSet("cache.max_entries") {
		cfg.Cache.MaxEntries = viper.GetInt("cache.max_entries")
	}
	if viper.IsSet("cache.max_bytes") {
		cfg.Cache.MaxBytes = viper.GetInt64("cache.max_bytes")
	}

	// Environment variables override the config file.
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

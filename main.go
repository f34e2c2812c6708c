// Package main provides the supertonic command line interface: speak text
// through the neural speech pipeline, to the audio device or a WAV file.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fastfinge/supertonic-nvda/internal/config"
	"github.com/fastfinge/supertonic-nvda/internal/driver"
	"github.com/fastfinge/supertonic-nvda/internal/playback"
	"github.com/fastfinge/supertonic-nvda/internal/synth"
	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

var (
	// Version as provided by goreleaser.
	Version = ""

	configFile string
	voiceFlag  string
	rateFlag   int
	stepsFlag  int
	engineFlag string
	outputFlag string
	debugFlag  bool

	rootCmd = &cobra.Command{
		Use:   "supertonic [TEXT]",
		Short: "Speak text with the Supertonic neural voice",
		Long: "\nSpeak text with the Supertonic neural voice. Text is taken from the\n" +
			"arguments, or from stdin when no argument (or \"-\") is given.",
		SilenceUsage: true,
		Args:         cobra.ArbitraryArgs,
		RunE:         execute,
	}

	voicesCmd = &cobra.Command{
		Use:   "voices",
		Short: "List the available voice styles",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, v := range ttypes.Voices() {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
		},
	}
)

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags beat the config file and environment.
	if cmd.Flags().Changed("voice") {
		cfg.Speech.Voice = voiceFlag
	}
	if cmd.Flags().Changed("rate") {
		cfg.Speech.Rate = rateFlag
	}
	if cmd.Flags().Changed("steps") {
		cfg.Speech.QualitySteps = stepsFlag
	}
	if cmd.Flags().Changed("engine") {
		cfg.Engine = engineFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Debug || debugFlag {
		log.SetLevel(log.DebugLevel)
	}

	text, err := textFromArgs(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to speak")
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	sink, err := buildSink(engine.Info())
	if err != nil {
		engine.Close()
		return err
	}

	done := make(chan struct{})
	failed := make(chan error, 1)

	opts := driver.DefaultOptions()
	opts.Voice = ttypes.Voice(cfg.Speech.Voice)
	opts.HostRate = cfg.Speech.Rate
	opts.QualitySteps = cfg.Speech.QualitySteps
	opts.MaxUnitLen = cfg.Pipeline.MaxUnitLen
	opts.UnitQueueDepth = cfg.Pipeline.UnitQueueDepth
	opts.BufferQueueDepth = cfg.Pipeline.BufferQueueDepth
	opts.CacheDisabled = !cfg.Cache.Enabled
	opts.CacheMaxEntries = cfg.Cache.MaxEntries
	opts.CacheMaxBytes = cfg.Cache.MaxBytes
	opts.Callbacks = driver.Callbacks{
		OnDone: func(string) { close(done) },
		OnError: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	}

	d, err := driver.New(engine, sink, opts)
	if err != nil {
		sink.Close()
		engine.Close()
		return err
	}
	defer d.Close()

	if _, err := d.Speak(text); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case <-done:
		return nil
	case err := <-failed:
		return err
	case <-interrupt:
		return d.Stop()
	}
}

// textFromArgs joins the arguments, or reads stdin when none (or "-") is
// given.
func textFromArgs(args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("unable to read stdin: %w", err)
	}
	return string(data), nil
}

func buildEngine(cfg config.Config) (ttypes.Engine, error) {
	switch cfg.Engine {
	case "mock":
		return synth.NewMockEngine(), nil
	default:
		return synth.NewExecEngine(synth.ExecConfig{
			Binary:     cfg.Backend.Binary,
			ModelDir:   cfg.Backend.ModelDir,
			SampleRate: cfg.Backend.SampleRate,
			Timeout:    cfg.Backend.Timeout,
		})
	}
}

func buildSink(info ttypes.EngineInfo) (ttypes.Sink, error) {
	if outputFlag != "" {
		return playback.NewWAVSink(outputFlag, info.SampleRate)
	}
	return playback.NewDeviceSink(info)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()

	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file")
	rootCmd.Flags().StringVarP(&voiceFlag, "voice", "v", "F1", "voice style (M1-M5, F1-F5)")
	rootCmd.Flags().IntVarP(&rateFlag, "rate", "r", 27, "speech rate (0-100)")
	rootCmd.Flags().IntVarP(&stepsFlag, "steps", "q", 5, "refinement steps per sentence (1-100)")
	rootCmd.Flags().StringVarP(&engineFlag, "engine", "e", "", "inference engine (supertonic/mock)")
	rootCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "write audio to a WAV file instead of the device")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "verbose logging")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	config.SetDefaults()

	rootCmd.AddCommand(voicesCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "supertonic")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "supertonic")}, dirs...)
	}

	if c := os.Getenv("SUPERTONIC_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		for _, v := range dirs {
			viper.AddConfigPath(v)
		}
		viper.SetConfigName("supertonic")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("supertonic")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Println(err)
		}
	}
}

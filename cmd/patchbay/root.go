package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/websynth/patchbay"
	"github.com/websynth/patchbay/internal/logging"
	"github.com/websynth/patchbay/session"
)

var rootCmd = &cobra.Command{
	Use:          "patchbay",
	Short:        "Patchbay is a modular synthesizer you patch over HTTP",
	Long:         `Patchbay runs a graph of synths, effects, sequencer voices and outputs, and lets you rewire it while it plays.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Int("sample-rate", 0, "Sample rate in Hz")
	rootCmd.PersistentFlags().Int("block-size", 0, "Samples rendered per audio block")
	rootCmd.PersistentFlags().Int("polyphony", 0, "Voices per synth")
	rootCmd.PersistentFlags().Bool("strict", false, "Reject changes that would give two ports the same address")
}

// loadConfig reads the config file named by --config and applies the flags
// the user set on top of it.
func loadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("sample-rate") {
		cfg.SampleRate, _ = flags.GetInt("sample-rate")
	}
	if flags.Changed("block-size") {
		cfg.BlockSize, _ = flags.GetInt("block-size")
	}
	if flags.Changed("polyphony") {
		cfg.Polyphony, _ = flags.GetInt("polyphony")
	}
	if flags.Changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level), nil
}

func newSession(cfg Config, logger *slog.Logger, extra ...session.Option) *session.Session {
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithSampleRate(cfg.SampleRate),
		session.WithPolyphony(cfg.Polyphony),
	}
	if cfg.Strict {
		opts = append(opts, session.WithStrictAddresses())
	}
	return session.New(append(opts, extra...)...)
}

func readDescription(path string) (patchbay.Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return patchbay.Description{}, fmt.Errorf("could not read %v: %w", path, err)
	}
	d, err := patchbay.UnmarshalDescription(data)
	if err != nil {
		return patchbay.Description{}, fmt.Errorf("could not parse %v: %w", path, err)
	}
	return d, nil
}

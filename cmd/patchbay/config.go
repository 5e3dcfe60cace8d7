package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/websynth/patchbay"
	"github.com/websynth/patchbay/engine"
	"github.com/websynth/patchbay/session"
)

type (
	// Config holds the settings shared by all commands. Flags given on the
	// command line override the values read from the config file.
	Config struct {
		Listen     string      `mapstructure:"listen"`
		SampleRate int         `mapstructure:"sample_rate"`
		BlockSize  int         `mapstructure:"block_size"`
		Polyphony  int         `mapstructure:"polyphony"`
		LogLevel   string      `mapstructure:"log_level"`
		Strict     bool        `mapstructure:"strict_addresses"`
		StoreDir   string      `mapstructure:"store_dir"`
		Redis      RedisConfig `mapstructure:"redis"`
		MIDIInput  string      `mapstructure:"midi_input"`
	}

	RedisConfig struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		Prefix   string        `mapstructure:"prefix"`
		TTL      time.Duration `mapstructure:"ttl"`
	}
)

func DefaultConfig() Config {
	return Config{
		Listen:     ":8080",
		SampleRate: session.DefaultSampleRate,
		BlockSize:  patchbay.DefaultBlockSize,
		Polyphony:  engine.DefaultPolyphony,
		LogLevel:   "info",
		StoreDir:   ".patchbay/sessions",
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("could not parse config %v: %w", path, err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("invalid config %v: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block_size must be positive, got %d", c.BlockSize))
	}
	if c.Polyphony <= 0 {
		errs = append(errs, fmt.Errorf("polyphony must be positive, got %d", c.Polyphony))
	}
	return errors.Join(errs...)
}

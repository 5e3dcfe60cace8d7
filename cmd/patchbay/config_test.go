package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "patchbay.yml", `
listen: ":9000"
sample_rate: "48000"
strict_addresses: true
redis:
  addr: localhost:6379
  ttl: 1h
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.True(t, cfg.Strict)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, DefaultConfig().BlockSize, cfg.BlockSize)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "patchbay.yml", "sample_rat: 48000\n")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "sample_rat")
}

func TestLoadConfigValidates(t *testing.T) {
	path := writeFile(t, "patchbay.yml", "block_size: 0\npolyphony: -1\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "block_size")
	assert.ErrorContains(t, err, "polyphony")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := writeFile(t, "patchbay.yml", "sample_rate: 48000\npolyphony: 4\n")
	cmd := serveCmd
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--polyphony", "2"}))
	t.Cleanup(func() {
		cmd.Flags().Set("config", "")
		cmd.Flags().Set("polyphony", "0")
		cmd.Flags().Lookup("config").Changed = false
		cmd.Flags().Lookup("polyphony").Changed = false
	})
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, 2, cfg.Polyphony)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 3*time.Second, cfg.Call.DeniedCloseDelay)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Call.STUNServers)
	assert.Equal(t, 64, cfg.Call.CandidateBuffer)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("port: 9000\nmode: debug\ncall:\n  ring_timeout: 5s\n  stun_servers:\n    - stun:example.org:3478\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("PEERCALL_CALL_CONNECT_TIMEOUT", "7s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("relay_url", "", "")
	require.NoError(t, fs.Parse([]string{"--relay_url=http://relay.local:9000"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 7*time.Second, cfg.Call.ConnectTimeout)
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.Call.STUNServers)
	assert.Equal(t, "http://relay.local:9000", cfg.RelayURL)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Port: 0, Call: CallConfig{DeniedCloseDelay: time.Second}}
	assert.Error(t, cfg.Validate())

	cfg.Port = 80
	assert.NoError(t, cfg.Validate())

	cfg.Call.CandidateBuffer = -1
	assert.Error(t, cfg.Validate())
}

func TestLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, (&Config{LogLevel: "debug"}).Level())
	assert.Equal(t, zerolog.InfoLevel, (&Config{LogLevel: "nonsense"}).Level())
	assert.Equal(t, zerolog.InfoLevel, (&Config{}).Level())
}

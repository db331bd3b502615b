package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, defaultListenAddress, cfg.ListenAddress)
	require.Equal(t, defaultDatabaseDriver, cfg.DatabaseDriver)
	require.Equal(t, filepath.Join(dir, "elections.db"), cfg.DatabaseDSN)
	require.Equal(t, int64(defaultSweepSeconds), cfg.StatusSweepSeconds)
}

func TestLoadReadsTOMLFile(t *testing.T) {
	dir := t.TempDir()
	contents := `ListenAddress = ":9090"
RelayURLs = ["wss://relay.example.org"]
StatusSweepSeconds = 15
AllowLegacyEnvelopes = true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(contents), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddress)
	require.Equal(t, []string{"wss://relay.example.org"}, cfg.RelayURLs)
	require.Equal(t, int64(15), cfg.StatusSweepSeconds)
	require.True(t, cfg.AllowLegacyEnvelopes)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvRelaySigningKey, "deadbeef")
	t.Setenv("EC_LISTEN_ADDRESS", ":1234")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", cfg.RelaySigningKey)
	require.Equal(t, ":1234", cfg.ListenAddress)
}

func TestLogPath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/ec"}
	require.Equal(t, "/var/lib/ec/app.log", cfg.LogPath())
}

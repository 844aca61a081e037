package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n  dsn: ':memory:'\n")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "write", cfg.Timeline.Strategy)
	assert.Equal(t, "edges", cfg.Timeline.FeedSource)
	assert.Equal(t, 500, cfg.Timeline.BatchSize)
	assert.False(t, cfg.Graph.AllowSelfFollow)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFrom_EnvOverride(t *testing.T) {
	path := writeConfig(t, "timeline:\n  strategy: write\n")
	t.Setenv("TIMELINE_TIMELINE_STRATEGY", "read")
	t.Setenv("TIMELINE_GRAPH_ALLOW_SELF_FOLLOW", "true")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "read", cfg.Timeline.Strategy)
	assert.True(t, cfg.Graph.AllowSelfFollow)
}

func TestLoadFrom_RejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, "timeline:\n  strategy: hybrid\n")

	_, err := LoadFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Strategy")
}

func TestLoadFrom_MissingExplicitFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0, cfg.Engine.DispatcherWorkers)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.HotReloadCoalesceWindow)
	assert.Equal(t, 2, cfg.Engine.RenderGraphEvictionFrames)
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  dispatcher_workers: 8
workspace:
  root: /srv/game
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.DispatcherWorkers)
	assert.Equal(t, "/srv/game", cfg.Workspace.Root)
	assert.Equal(t, 2, cfg.Engine.RenderGraphEvictionFrames, "unspecified field keeps its default")
}

func TestLoadParsesHumanReadableDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  hot_reload_coalesce_window: 250ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.HotReloadCoalesceWindow)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [this is not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

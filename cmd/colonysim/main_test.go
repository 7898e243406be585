package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/colony/internal/engine"
)

func runStep(t *testing.T, dir string, args ...string) engine.Status {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{
		"step",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--db", filepath.Join(dir, "data", "colony.db"),
		"--log-level", "error",
	}, args...))
	require.NoError(t, cmd.Execute())

	var st engine.Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	return st
}

func TestStepResumesSavedColony(t *testing.T) {
	dir := t.TempDir()

	first := runStep(t, dir, "--pulses", "50")
	assert.Equal(t, uint64(50), first.Pulse)
	assert.Len(t, first.Settlements, 2)

	second := runStep(t, dir, "-n", "30")
	assert.Equal(t, uint64(80), second.Pulse)
	assert.Equal(t, first.Stats.Population, second.Stats.Population)
}

func TestStepNoSave(t *testing.T) {
	dir := t.TempDir()
	runStep(t, dir, "-n", "10", "--no-save")
	st := runStep(t, dir, "-n", "10", "--no-save")
	// The initial save of a fresh colony is at pulse 0.
	assert.Equal(t, uint64(10), st.Pulse)
}

func TestConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colony.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seed: 7\ndb_path: from-file.db\n"), 0o644))

	opts := &rootOptions{configPath: path}
	cmd := newRootCmd()
	cfg, err := opts.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, "from-file.db", cfg.DBPath)

	require.NoError(t, cmd.ParseFlags([]string{"--seed", "99"}))
	opts.seed = 99
	opts.dbPath = "override.db"
	cfg, err = opts.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, "override.db", cfg.DBPath)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json", "JSON"} {
		l, err := newLogger(format, "debug")
		require.NoError(t, err)
		assert.True(t, l.Enabled(t.Context(), slog.LevelDebug))
	}
	_, err := newLogger("xml", "info")
	assert.Error(t, err)
	_, err = newLogger("text", "loud")
	assert.Error(t, err)
}

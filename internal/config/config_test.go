package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Mission.MinMembers)
	assert.Equal(t, 0.5, cfg.Mission.CeilingDropChance)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Seed, cfg.Seed)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.yaml")
	body := `
seed: 7
scheduler:
  rebuild_window: 12
mission:
  min_members: 3
settlements:
  - name: Jezero
    persons: 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 12.0, cfg.Scheduler.RebuildWindow)
	assert.Equal(t, 3, cfg.Mission.MinMembers)
	assert.Equal(t, 7, cfg.Scheduler.HistorySols, "unset keys keep their defaults")
	require.Len(t, cfg.Settlements, 1)
	assert.Equal(t, "Jezero", cfg.Settlements[0].Name)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mission:\n  ceiling_drop_chance: 2\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ceiling_drop_chance")
}

func TestLookupBands(t *testing.T) {
	bands := Default().Mission.RecruitBands
	cases := map[int]int{0: 1, 3: 1, 4: 2, 9: 3, 10: 4, 17: 5, 25: 7, 26: 8, 400: 8}
	for pop, want := range cases {
		assert.Equal(t, want, Lookup(bands, pop), "population %d", pop)
	}
}

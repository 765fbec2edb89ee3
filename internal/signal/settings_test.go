package signal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_DefaultsMergedOverPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"takeProfitPct": 0.8}`), 0o644))

	store, err := NewSettingsStore(path)
	require.NoError(t, err)

	got := store.Get()
	assert.Equal(t, 0.8, got.TakeProfitPct)
	// Absent fields keep their defaults.
	assert.Equal(t, DefaultSettings().StopLossPctDefault, got.StopLossPctDefault)
	assert.Equal(t, DefaultSettings().PricecheckIntervalMs, got.PricecheckIntervalMs)
}

func TestSettings_SeededDefaultsUsedUntilPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	seed := Settings{StopLossPctDefault: -0.3, TakeProfitPct: 0.5, PricecheckIntervalMs: 10000}

	store, err := NewSettingsStoreWith(path, seed)
	require.NoError(t, err)
	assert.Equal(t, seed, store.Get())

	// A persisted document wins over the seed on the next load.
	sl := -0.1
	_, err = store.Update(SettingsPatch{StopLossPctDefault: &sl})
	require.NoError(t, err)

	reloaded, err := NewSettingsStoreWith(path, seed)
	require.NoError(t, err)
	assert.Equal(t, -0.1, reloaded.Get().StopLossPctDefault)
}

func TestSettings_UpdateValidatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := NewSettingsStore(path)
	require.NoError(t, err)

	bad := 0.1
	_, err = store.Update(SettingsPatch{StopLossPctDefault: &bad})
	assert.Error(t, err)

	sl := -0.25
	interval := 5000
	updated, err := store.Update(SettingsPatch{StopLossPctDefault: &sl, PricecheckIntervalMs: &interval})
	require.NoError(t, err)
	assert.Equal(t, -0.25, updated.StopLossPctDefault)

	reloaded, err := NewSettingsStore(path)
	require.NoError(t, err)
	assert.Equal(t, -0.25, reloaded.Get().StopLossPctDefault)
	assert.Equal(t, 5000, reloaded.Get().PricecheckIntervalMs)
}

func TestSettings_CheckIntervalClamped(t *testing.T) {
	s := Settings{PricecheckIntervalMs: 100}
	assert.Equal(t, MinPricecheckIntervalMs, s.CheckInterval())

	s.PricecheckIntervalMs = 60000
	assert.Equal(t, 60000, s.CheckInterval())
}

func TestSettings_TakeProfitDisabledByDefault(t *testing.T) {
	assert.False(t, DefaultSettings().TakeProfitEnabled())
	assert.True(t, Settings{TakeProfitPct: 0.5}.TakeProfitEnabled())
}

// internal/signal/settings.go
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// MinPricecheckIntervalMs is the floor for the price monitor cadence.
const MinPricecheckIntervalMs = 3000

// Settings is the single mutable strategy document. TakeProfitPct <= 0 or
// NaN means take-profit is disabled globally.
type Settings struct {
	StopLossPctDefault   float64 `json:"stopLossPctDefault"`
	TakeProfitPct        float64 `json:"takeProfitPct"`
	PricecheckIntervalMs int     `json:"pricecheckIntervalMs"`
}

func DefaultSettings() Settings {
	return Settings{
		StopLossPctDefault:   -0.5,
		TakeProfitPct:        0,
		PricecheckIntervalMs: 30000,
	}
}

// TakeProfitEnabled reports whether the global take-profit threshold is set.
func (s Settings) TakeProfitEnabled() bool {
	return !math.IsNaN(s.TakeProfitPct) && s.TakeProfitPct > 0
}

// CheckInterval returns the effective monitor cadence in milliseconds,
// floor-clamped.
func (s Settings) CheckInterval() int {
	if s.PricecheckIntervalMs < MinPricecheckIntervalMs {
		return MinPricecheckIntervalMs
	}
	return s.PricecheckIntervalMs
}

// SettingsPatch is a partial update; nil fields keep their current value.
type SettingsPatch struct {
	StopLossPctDefault   *float64 `json:"stopLossPctDefault,omitempty"`
	TakeProfitPct        *float64 `json:"takeProfitPct,omitempty"`
	PricecheckIntervalMs *int     `json:"pricecheckIntervalMs,omitempty"`
}

// SettingsStore persists the Settings document. Defaults are merged over any
// partial persisted value, so new fields default safely when absent.
type SettingsStore struct {
	mu   sync.Mutex
	path string
	cur  Settings
}

func NewSettingsStore(path string) (*SettingsStore, error) {
	return NewSettingsStoreWith(path, DefaultSettings())
}

// NewSettingsStoreWith loads the document over caller-supplied defaults; the
// persisted value still wins field by field.
func NewSettingsStoreWith(path string, defaults Settings) (*SettingsStore, error) {
	s := &SettingsStore{path: path, cur: defaults}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	// Unmarshal over the defaults: absent fields keep their default value.
	if err := json.Unmarshal(data, &s.cur); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return s, nil
}

func (s *SettingsStore) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update applies a patch, validates the result and persists it.
func (s *SettingsStore) Update(patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	if patch.StopLossPctDefault != nil {
		next.StopLossPctDefault = *patch.StopLossPctDefault
	}
	if patch.TakeProfitPct != nil {
		next.TakeProfitPct = *patch.TakeProfitPct
	}
	if patch.PricecheckIntervalMs != nil {
		next.PricecheckIntervalMs = *patch.PricecheckIntervalMs
	}

	if next.StopLossPctDefault >= 0 {
		return s.cur, errors.New("stopLossPctDefault must be a negative fraction")
	}
	if next.PricecheckIntervalMs <= 0 {
		return s.cur, errors.New("pricecheckIntervalMs must be positive")
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return s.cur, fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return s.cur, fmt.Errorf("create data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return s.cur, fmt.Errorf("write settings temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return s.cur, fmt.Errorf("replace settings file: %w", err)
	}

	s.cur = next
	return s.cur, nil
}

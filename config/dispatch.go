package config

import (
	"fmt"
	"time"
)

// DispatchConfig tunes the matching and expiry behavior of the engine.
type DispatchConfig struct {
	// NotifyRadiusKm bounds the geographic candidate search.
	NotifyRadiusKm float64 `json:"notify_radius_km"`
	// StaleAfterHours is how long a PENDING trip may wait, measured from its
	// scheduled pickup when set, before the sweep expires it.
	StaleAfterHours int `json:"stale_after_hours"`
	// SweepIntervalMinutes is the period of the stale-request sweep.
	SweepIntervalMinutes int `json:"sweep_interval_minutes"`
	// Levels is the set of transport levels this deployment recognizes.
	// Empty means the standard BLS/ALS/CCT set.
	Levels []string `json:"levels"`
}

// SetDefaults applies sane defaults.
func (c *DispatchConfig) SetDefaults() {
	if c.NotifyRadiusKm == 0 {
		c.NotifyRadiusKm = 100
	}
	if c.StaleAfterHours == 0 {
		c.StaleAfterHours = 36
	}
	if c.SweepIntervalMinutes == 0 {
		c.SweepIntervalMinutes = 15
	}
}

// Validate checks mandatory fields.
func (c DispatchConfig) Validate() error {
	if c.NotifyRadiusKm < 0 {
		return fmt.Errorf("notify_radius_km must be positive")
	}
	if c.StaleAfterHours < 0 {
		return fmt.Errorf("stale_after_hours must be positive")
	}
	if c.SweepIntervalMinutes < 0 {
		return fmt.Errorf("sweep_interval_minutes must be positive")
	}
	return nil
}

// StaleAfter returns the staleness window as a duration.
func (c DispatchConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// SweepInterval returns the sweep period as a duration.
func (c DispatchConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

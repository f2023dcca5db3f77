package config

import (
	"fmt"

	"github.com/medrelay/dispatch/infra/postgres"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver   string          `json:"driver"`
	Postgres postgres.Config `json:"postgres"`
}

// SetDefaults applies sane defaults.
func (c *StorageConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
	c.Postgres.SetDefaults()
}

// Validate checks mandatory fields.
func (c StorageConfig) Validate() error {
	switch c.Driver {
	case "memory":
		return nil
	case "postgres":
		return c.Postgres.Validate()
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
}

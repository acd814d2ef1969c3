package config

import (
	"errors"
	"fmt"

	"github.com/cexll/chatstream-go/pkg/storage"
)

// Validator enforces constraints on a Config.
type Validator interface {
	Validate(*Config) error
}

// DefaultValidator applies the structural checks every config must pass.
type DefaultValidator struct{}

// Validate checks value ranges and enumerations.
func (DefaultValidator) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	switch cfg.Storage.Driver {
	case "", storage.DriverMemory, storage.DriverFile, storage.DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if t := cfg.Defaults.Temperature; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("defaults.temperature %.2f out of range [0,1]", *t)
	}
	if cfg.Defaults.MaxIterations < 0 {
		return fmt.Errorf("defaults.max_iterations must not be negative: %d", cfg.Defaults.MaxIterations)
	}
	if cfg.Retry.Initial < 0 || cfg.Retry.Max < 0 {
		return errors.New("retry durations must not be negative")
	}
	if cfg.Retry.Max > 0 && cfg.Retry.Max < cfg.Retry.Initial {
		return fmt.Errorf("retry.max %s is below retry.initial %s", cfg.Retry.Max, cfg.Retry.Initial)
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	return nil
}

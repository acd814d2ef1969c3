package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config selects and locates a backend.
type Config struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	// Path is the directory for the file driver and the database file for
	// sqlite. Relative paths resolve against the caller's base directory.
	Path string `json:"path" yaml:"path" toml:"path"`
}

// Open builds a Store for cfg. baseDir anchors relative paths.
func Open(cfg Config, baseDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path != "" && !filepath.IsAbs(path) && path != ":memory:" {
		path = filepath.Join(baseDir, path)
	}
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverFile:
		if path == "" {
			path = filepath.Join(baseDir, "data")
		}
		backend, err = NewFileBackend(path, logger)
	case DriverSQLite:
		if path == "" {
			path = filepath.Join(baseDir, "chatstream.db")
		}
		backend, err = NewSQLiteBackend(path)
	case DriverMemory:
		backend = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	store, err := NewStore(backend, WithLogger(logger))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	logger.Debug("storage opened", "driver", cfg.Driver, "path", path)
	return store, nil
}

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPath overrides the config file location.
	EnvPath = "CHATSTREAM_CONFIG"
	dirName = ".chatstream"
)

var configNames = []string{"config.yaml", "config.yml", "config.json", "config.toml"}

// Loader resolves, parses, validates and caches the configuration.
type Loader struct {
	path      string
	home      string
	getenv    func(string) string
	validator Validator

	mu   sync.Mutex
	last atomic.Pointer[Config]
}

// LoaderOption customizes loader behaviour.
type LoaderOption func(*Loader)

// WithPath forces a config file.
func WithPath(path string) LoaderOption {
	return func(l *Loader) { l.path = path }
}

// WithHome overrides the home directory searched for .chatstream/.
func WithHome(dir string) LoaderOption {
	return func(l *Loader) { l.home = dir }
}

// WithEnv overrides environment lookup.
func WithEnv(getenv func(string) string) LoaderOption {
	return func(l *Loader) {
		if getenv != nil {
			l.getenv = getenv
		}
	}
}

// WithValidator injects a custom Validator.
func WithValidator(v Validator) LoaderOption {
	return func(l *Loader) { l.validator = v }
}

// NewLoader builds a loader.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	l := &Loader{getenv: os.Getenv, validator: DefaultValidator{}}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home: %w", err)
		}
		l.home = home
	}
	if l.path != "" {
		abs, err := filepath.Abs(l.path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		l.path = abs
	}
	return l, nil
}

// Dir is the directory holding the default config file and local data.
func (l *Loader) Dir() string { return filepath.Join(l.home, dirName) }

// Last returns the most recent valid configuration.
func (l *Loader) Last() (*Config, bool) {
	cfg := l.last.Load()
	return cfg, cfg != nil
}

// Resolve returns the config path in lookup order and whether it exists.
func (l *Loader) Resolve() (string, bool) {
	if l.path != "" {
		return l.path, exists(l.path)
	}
	if env := strings.TrimSpace(l.getenv(EnvPath)); env != "" {
		abs, err := filepath.Abs(env)
		if err != nil {
			abs = env
		}
		return abs, exists(abs)
	}
	for _, name := range configNames {
		path := filepath.Join(l.Dir(), name)
		if exists(path) {
			return path, true
		}
	}
	return filepath.Join(l.Dir(), configNames[0]), false
}

// Load reads the config, falling back to Default when the file is missing.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path, _ := l.Resolve()
	cfg := Default()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Decode(path, raw, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.Path = path
	cfg.Normalize()
	if l.validator != nil {
		if err := l.validator.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	}
	l.last.Store(cfg)
	return cfg, nil
}

// Reload refreshes configuration keeping the last good state on error.
func (l *Loader) Reload() (*Config, error) {
	prev, _ := l.Last()
	cfg, err := l.Load()
	if err != nil {
		if prev != nil {
			return prev, fmt.Errorf("reload failed, keeping last good config: %w", err)
		}
		return nil, err
	}
	return cfg, nil
}

// BaseDir anchors relative storage paths: the config file's directory.
func (c *Config) BaseDir() string {
	if c.Path == "" {
		return "."
	}
	return filepath.Dir(c.Path)
}

// Decode parses raw into cfg using the format implied by path's extension.
// Fields absent from raw keep their current values.
func Decode(path string, raw []byte, cfg *Config) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(raw, cfg)
	case ".json":
		err = json.Unmarshal(raw, cfg)
	case ".toml":
		_, err = toml.Decode(string(raw), cfg)
	default:
		return fmt.Errorf("config decode %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("config decode %s: %w", path, err)
	}
	return nil
}

// Encode renders cfg in the format implied by path's extension.
func Encode(path string, cfg *Config) ([]byte, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		return yaml.Marshal(cfg)
	case ".json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("config encode %s: unsupported format %q", path, ext)
	}
}

// Save validates cfg and writes it to cfg.Path.
func Save(cfg *Config) error {
	if cfg == nil || cfg.Path == "" {
		return errors.New("config path is empty")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := Encode(cfg.Path, cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(cfg.Path, data, 0o600)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Package config loads the chatstream configuration file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cexll/chatstream-go/pkg/chat"
	"github.com/cexll/chatstream-go/pkg/storage"
)

// Config is the declarative client configuration.
type Config struct {
	Storage   storage.Config `json:"storage" yaml:"storage" toml:"storage"`
	Defaults  Defaults       `json:"defaults" yaml:"defaults" toml:"defaults"`
	Retry     Retry          `json:"retry" yaml:"retry" toml:"retry"`
	Server    Server         `json:"server" yaml:"server" toml:"server"`
	Log       Log            `json:"log" yaml:"log" toml:"log"`
	Telemetry Telemetry      `json:"telemetry" yaml:"telemetry" toml:"telemetry"`
	Demo      Demo           `json:"demo" yaml:"demo" toml:"demo"`

	// Path is where the config was read from, or where it would be written.
	Path string `json:"-" yaml:"-" toml:"-"`
}

// Defaults seed a fresh workspace and every turn.
type Defaults struct {
	Provider      string   `json:"provider,omitempty" yaml:"provider,omitempty" toml:"provider,omitempty"`
	Model         string   `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	Tools         []string `json:"tools,omitempty" yaml:"tools,omitempty" toml:"tools,omitempty"`
	MaxIterations int      `json:"max_iterations" yaml:"max_iterations" toml:"max_iterations"`
}

// Retry bounds the pause between failed completion attempts.
type Retry struct {
	Initial Duration `json:"initial" yaml:"initial" toml:"initial"`
	Max     Duration `json:"max" yaml:"max" toml:"max"`
}

// Policy converts r to the orchestrator's retry policy.
func (r Retry) Policy() chat.RetryPolicy {
	return chat.RetryPolicy{Initial: r.Initial.Duration(), Max: r.Max.Duration()}
}

// Server configures `chatctl serve`.
type Server struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

// Log configures the CLI log handler.
type Log struct {
	Level string `json:"level" yaml:"level" toml:"level"`
}

// SlogLevel maps Level to a slog level; unknown values read as info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Telemetry configures span export.
type Telemetry struct {
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty" yaml:"insecure,omitempty" toml:"insecure,omitempty"`
	ServiceName string `json:"service_name" yaml:"service_name" toml:"service_name"`
}

// Demo configures the offline demo provider.
type Demo struct {
	// Seed makes demo chunking reproducible when set.
	Seed *uint64 `json:"seed,omitempty" yaml:"seed,omitempty" toml:"seed,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Storage:   storage.Config{Driver: storage.DriverFile},
		Defaults:  Defaults{MaxIterations: chat.DefaultMaxIterations},
		Retry:     Retry{Initial: Duration(250 * time.Millisecond), Max: Duration(2 * time.Second)},
		Server:    Server{Addr: "127.0.0.1:8787"},
		Log:       Log{Level: "info"},
		Telemetry: Telemetry{ServiceName: "chatstream"},
	}
}

// Normalize trims string fields and drops empty tool names.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	c.Defaults.Provider = strings.TrimSpace(c.Defaults.Provider)
	c.Defaults.Model = strings.TrimSpace(c.Defaults.Model)
	tools := c.Defaults.Tools[:0]
	for _, name := range c.Defaults.Tools {
		if name = strings.TrimSpace(name); name != "" {
			tools = append(tools, name)
		}
	}
	c.Defaults.Tools = tools
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Telemetry.Endpoint = strings.TrimSpace(c.Telemetry.Endpoint)
}

// Validate applies the default validator.
func (c *Config) Validate() error {
	return DefaultValidator{}.Validate(c)
}

// Settings returns the completion settings implied by the defaults block.
func (c *Config) Settings() chat.Settings {
	s := chat.DefaultSettings()
	if c.Defaults.Temperature != nil {
		s.Temperature = *c.Defaults.Temperature
	}
	return s
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// UnmarshalYAML reads a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ErrUnknownKey is returned for dotted keys Get and Set do not know.
var ErrUnknownKey = errors.New("unknown config key")

type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

var fields = map[string]field{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.path": {
		get: func(c *Config) string { return c.Storage.Path },
		set: func(c *Config, v string) error { c.Storage.Path = v; return nil },
	},
	"defaults.provider": {
		get: func(c *Config) string { return c.Defaults.Provider },
		set: func(c *Config, v string) error { c.Defaults.Provider = v; return nil },
	},
	"defaults.model": {
		get: func(c *Config) string { return c.Defaults.Model },
		set: func(c *Config, v string) error { c.Defaults.Model = v; return nil },
	},
	"defaults.temperature": {
		get: func(c *Config) string {
			if c.Defaults.Temperature == nil {
				return ""
			}
			return strconv.FormatFloat(*c.Defaults.Temperature, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.Defaults.Temperature = nil
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			c.Defaults.Temperature = &f
			return nil
		},
	},
	"defaults.tools": {
		get: func(c *Config) string { return strings.Join(c.Defaults.Tools, ",") },
		set: func(c *Config, v string) error {
			c.Defaults.Tools = nil
			for _, name := range strings.Split(v, ",") {
				if name = strings.TrimSpace(name); name != "" {
					c.Defaults.Tools = append(c.Defaults.Tools, name)
				}
			}
			return nil
		},
	},
	"defaults.max_iterations": {
		get: func(c *Config) string { return strconv.Itoa(c.Defaults.MaxIterations) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.Defaults.MaxIterations = n
			return nil
		},
	},
	"retry.initial": {
		get: func(c *Config) string { return c.Retry.Initial.String() },
		set: func(c *Config, v string) error { return c.Retry.Initial.UnmarshalText([]byte(v)) },
	},
	"retry.max": {
		get: func(c *Config) string { return c.Retry.Max.String() },
		set: func(c *Config, v string) error { return c.Retry.Max.UnmarshalText([]byte(v)) },
	},
	"server.addr": {
		get: func(c *Config) string { return c.Server.Addr },
		set: func(c *Config, v string) error { c.Server.Addr = v; return nil },
	},
	"log.level": {
		get: func(c *Config) string { return c.Log.Level },
		set: func(c *Config, v string) error { c.Log.Level = v; return nil },
	},
	"telemetry.endpoint": {
		get: func(c *Config) string { return c.Telemetry.Endpoint },
		set: func(c *Config, v string) error { c.Telemetry.Endpoint = v; return nil },
	},
	"telemetry.insecure": {
		get: func(c *Config) string { return strconv.FormatBool(c.Telemetry.Insecure) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			c.Telemetry.Insecure = b
			return nil
		},
	},
	"telemetry.service_name": {
		get: func(c *Config) string { return c.Telemetry.ServiceName },
		set: func(c *Config, v string) error { c.Telemetry.ServiceName = v; return nil },
	},
	"demo.seed": {
		get: func(c *Config) string {
			if c.Demo.Seed == nil {
				return ""
			}
			return strconv.FormatUint(*c.Demo.Seed, 10)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.Demo.Seed = nil
				return nil
			}
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return err
			}
			c.Demo.Seed = &n
			return nil
		},
	},
}

// Keys lists the dotted keys accepted by Get and Set, sorted.
func Keys() []string {
	return slices.Sorted(maps.Keys(fields))
}

// Get returns the string form of a dotted key.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(c), nil
}

// Set parses value into a dotted key. c is left unchanged when the result
// does not validate.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	next := *c
	next.Defaults.Tools = slices.Clone(c.Defaults.Tools)
	if err := f.set(&next, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

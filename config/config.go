// Package config loads keep launch settings from a warden.toml file.
// Command-line flags may override individual fields after loading;
// callers validate once all overrides are applied.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// DefaultPages is the workload memory added to a fresh keep when the
// configuration does not say otherwise: 2048 pages, 8 MiB.
const DefaultPages = 2048

// Config is the root of warden.toml.
type Config struct {
	Keep     Keep     `toml:"keep"`
	Workload Workload `toml:"workload"`
}

// Keep selects the backend and sizes the keep.
type Keep struct {
	// Backend names the isolation technology. Only "kvm" is
	// understood today.
	Backend string `toml:"backend"`
	// Pages is the workload memory to add after loading the shim,
	// in 4 KiB pages.
	Pages uint64 `toml:"pages"`
}

// Workload carries the argument and environment vectors handed to
// the shim.
type Workload struct {
	Args []string `toml:"args"`
	Env  []string `toml:"env"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Keep: Keep{
			Backend: "kvm",
			Pages:   DefaultPages,
		},
	}
}

// Load decodes path over the defaults, so absent fields keep their
// default values. The result is not validated; apply any flag
// overrides first, then call Validate.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("config: failed to decode %s: %w", path, err)
	}
	return c, nil
}

// Validate reports the first setting a keep cannot be launched with.
func (c *Config) Validate() error {
	if c.Keep.Backend != "kvm" {
		return fmt.Errorf("config: unknown backend %q", c.Keep.Backend)
	}
	if c.Keep.Pages == 0 {
		return fmt.Errorf("config: keep pages must be positive")
	}
	return nil
}

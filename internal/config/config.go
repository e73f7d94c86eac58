// Package config provides HCL configuration handling for the daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/logging"
)

// Config is the top-level daemon configuration.
type Config struct {
	LogLevel   string `hcl:"log_level,optional"`
	LogFormat  string `hcl:"log_format,optional"`
	SocketPath string `hcl:"socket_path,optional"`

	// RequireIPv6 fixes the IPv6 capability flag to true at startup on hosts
	// where ip6tables is known to be present. The flag still latches true on
	// the first successful ip6tables call either way.
	RequireIPv6 bool `hcl:"require_ipv6,optional"`

	DisableMetrics bool `hcl:"disable_metrics,optional"`

	Runner *RunnerConfig `hcl:"runner,block"`
}

// RunnerConfig configures the capability-scoped command runner.
type RunnerConfig struct {
	// User is the unprivileged account rule commands run as. Empty means
	// keep the daemon's own credentials (still capability-scoped).
	User string `hcl:"user,optional"`

	IptablesPath  string `hcl:"iptables,optional"`
	Ip6tablesPath string `hcl:"ip6tables,optional"`
	IPPath        string `hcl:"ip,optional"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		LogFormat:  "console",
		SocketPath: brand.GetSocketPath(),
		Runner: &RunnerConfig{
			User:          "nobody",
			IptablesPath:  "/sbin/iptables",
			Ip6tablesPath: "/sbin/ip6tables",
			IPPath:        "/bin/ip",
		},
	}
}

// Load reads the config file at path, applying defaults for anything unset.
// A missing file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = brand.GetConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var loaded Config
	if err := hclsimple.DecodeFile(path, nil, &loaded); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg.merge(&loaded)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadBytes parses config from raw HCL, applying defaults. The filename is
// only used in diagnostics and must end in .hcl.
func LoadBytes(filename string, data []byte) (*Config, error) {
	cfg := Default()

	var loaded Config
	if err := hclsimple.Decode(filename, data, nil, &loaded); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.merge(&loaded)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays non-zero fields of other onto cfg.
func (c *Config) merge(other *Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.SocketPath != "" {
		c.SocketPath = other.SocketPath
	}
	c.RequireIPv6 = other.RequireIPv6
	c.DisableMetrics = other.DisableMetrics
	if other.Runner != nil {
		if other.Runner.User != "" {
			c.Runner.User = other.Runner.User
		}
		if other.Runner.IptablesPath != "" {
			c.Runner.IptablesPath = other.Runner.IptablesPath
		}
		if other.Runner.Ip6tablesPath != "" {
			c.Runner.Ip6tablesPath = other.Runner.Ip6tablesPath
		}
		if other.Runner.IPPath != "" {
			c.Runner.IPPath = other.Runner.IPPath
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be \"console\" or \"json\", got %q", c.LogFormat)
	}
	if c.Runner == nil {
		return fmt.Errorf("runner block is required")
	}
	for name, p := range map[string]string{
		"iptables":  c.Runner.IptablesPath,
		"ip6tables": c.Runner.Ip6tablesPath,
		"ip":        c.Runner.IPPath,
	} {
		if p == "" {
			return fmt.Errorf("runner.%s path cannot be empty", name)
		}
		if !filepath.IsAbs(p) {
			return fmt.Errorf("runner.%s path must be absolute, got %q", name, p)
		}
	}
	return nil
}

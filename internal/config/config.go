// Package config loads retrace configuration from YAML with
// environment overrides and sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all retrace configuration.
type Config struct {
	// Source holds the Erlang source lookup settings.
	Source SourceConfig `yaml:"source"`

	// Debugger configures the backend connection.
	Debugger DebuggerConfig `yaml:"debugger"`

	// Output controls document rendering.
	Output OutputConfig `yaml:"output"`

	// Database configures the reconstruction archive.
	Database DatabaseConfig `yaml:"database"`
}

// SourceConfig configures where module sources are found.
type SourceConfig struct {
	// Dirs are searched in order for <module>.erl.
	Dirs []string `yaml:"dirs"`
	// Watch enables invalidation of cached parses and record
	// definitions when sources change on disk.
	Watch bool `yaml:"watch"`
}

// DebuggerConfig configures the debugger service link.
type DebuggerConfig struct {
	Addr        string `yaml:"addr"`
	DialTimeout string `yaml:"dial_timeout"`
}

// OutputConfig controls how reconstruction documents are rendered.
type OutputConfig struct {
	// IndentWidth is the number of spaces added per call depth.
	IndentWidth int `yaml:"indent_width"`
}

// DatabaseConfig configures the archive store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns a configuration that works out of the box: sources
// in the current directory, debugger on localhost, archive under
// .retrace/.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Dirs:  []string{"."},
			Watch: false,
		},
		Debugger: DebuggerConfig{
			Addr:        "127.0.0.1:4711",
			DialTimeout: "5s",
		},
		Output: OutputConfig{
			IndentWidth: 4,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(".retrace", "archive.db"),
		},
	}
}

// Load reads the config file at path, falling back to defaults for
// anything unset. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the file, which is
// handy for pointing one-off runs at a different node.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RETRACE_DEBUGGER_ADDR"); v != "" {
		c.Debugger.Addr = v
	}
	if v := os.Getenv("RETRACE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("RETRACE_SOURCE_DIRS"); v != "" {
		c.Source.Dirs = filepath.SplitList(v)
	}
	if v := os.Getenv("RETRACE_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Source.Watch = b
		}
	}
}

// Validate checks the fields that would otherwise fail deep inside a
// run.
func (c *Config) Validate() error {
	if len(c.Source.Dirs) == 0 {
		return fmt.Errorf("config: source.dirs must name at least one directory")
	}
	if c.Debugger.Addr == "" {
		return fmt.Errorf("config: debugger.addr is required")
	}
	if _, err := c.DialTimeout(); err != nil {
		return fmt.Errorf("config: debugger.dial_timeout: %w", err)
	}
	return nil
}

// DialTimeout parses the configured dial timeout, defaulting to 5s.
func (c *Config) DialTimeout() (time.Duration, error) {
	if c.Debugger.DialTimeout == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(c.Debugger.DialTimeout)
}

// DefaultPath is where the CLI looks when --config is not given.
func DefaultPath() string {
	return filepath.Join(".retrace", "config.yaml")
}

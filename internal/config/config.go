package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds configuration for a scheduler instance and the tools
// around it.
type RuntimeConfig struct {
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json, auto

	// Platform selects the hardware-control collaborator: "sim" (virtual
	// clock, deterministic) or "host" (monotonic OS clock).
	Platform string        `yaml:"platform"`
	Tick     time.Duration `yaml:"tick"` // Timer granularity for deadline wakeups

	StackSize  int `yaml:"stack_size"`  // Default thread stack size in bytes
	PageSize   int `yaml:"page_size"`   // Allocation unit of the region allocator
	ArenaPages int `yaml:"arena_pages"` // Pages available for stacks and TLS

	IntrWorkers int `yaml:"intr_workers"` // Number of interrupt-deferral threads

	TraceDB string `yaml:"trace_db"` // SQLite path for switch traces ("" disables)
	Addr    string `yaml:"addr"`     // Listen address of the trace API
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		LogLevel:    "info",
		LogFormat:   "text",
		Platform:    "sim",
		Tick:        10 * time.Millisecond,
		StackSize:   16 * 1024,
		PageSize:    4096,
		ArenaPages:  1024,
		IntrWorkers: 1,
		Addr:        ":8080",
	}
}

// Load reads a YAML config file on top of the defaults. Keys missing from
// the file keep their default values.
func Load(path string) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c RuntimeConfig) Validate() error {
	switch c.Platform {
	case "sim", "host":
	default:
		return fmt.Errorf("platform %q: want sim or host", c.Platform)
	}
	if c.Tick <= 0 {
		return errors.New("tick must be positive")
	}
	if c.PageSize <= 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page_size %d: must be a positive power of two", c.PageSize)
	}
	if c.StackSize <= 0 {
		return errors.New("stack_size must be positive")
	}
	if c.ArenaPages <= 0 {
		return errors.New("arena_pages must be positive")
	}
	if c.IntrWorkers < 1 || c.IntrWorkers > 64 {
		return fmt.Errorf("intr_workers %d: must be between 1 and 64", c.IntrWorkers)
	}
	return nil
}

package config

import (
	"fmt"
	"slices"

	"github.com/caarlos0/env/v11"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string         `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format   string         `yaml:"format" env:"FORMAT"` // text, json
	Dir      string         `yaml:"dir" env:"DIR"`       // log directory path
	Rotation RotationConfig `yaml:"rotation"`
	Console  ConsoleConfig  `yaml:"console"`
	File     FileConfig     `yaml:"file"`
}

// RotationConfig holds log rotation settings
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // number of files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// ConsoleConfig holds console output configuration
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled" env:"CONSOLE"`
	Level   string `yaml:"level"`  // optional override
	Format  string `yaml:"format"` // text or json
}

// FileConfig holds file output configuration
type FileConfig struct {
	Enabled bool   `yaml:"enabled" env:"FILE"`
	Level   string `yaml:"level"`  // optional override
	Format  string `yaml:"format"` // text or json
}

// DefaultLoggingConfig returns default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console: ConsoleConfig{Enabled: true, Level: "info", Format: "text"},
		File:    FileConfig{Enabled: false, Level: "info", Format: "text"},
	}
}

// ApplyDefaults fills in missing values with defaults
func (c *LoggingConfig) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Dir == "" {
		c.Dir = "logs"
	}

	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = 100
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = 10
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = 30
	}
	// Compress cannot be told apart from an explicit false, it stays as loaded.

	// A completely empty console section means console output.
	if c.Console.Level == "" && c.Console.Format == "" && !c.Console.Enabled {
		c.Console.Enabled = true
	}
	if c.Console.Level == "" {
		c.Console.Level = c.Level
	}
	if c.Console.Format == "" {
		c.Console.Format = c.Format
	}

	if c.File.Level == "" {
		c.File.Level = c.Level
	}
	if c.File.Format == "" {
		c.File.Format = c.Format
	}
}

// ApplyEnvOverrides reads GRAPHSYNC_LOG_* variables.
func (c *LoggingConfig) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "GRAPHSYNC_LOG_"}); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// ResolvePaths resolves the log directory next to the config directory.
func (c *LoggingConfig) ResolvePaths(configDir, _ string) {
	c.Dir = resolveDir(configDir, c.Dir)
}

// Validate validates the configuration
func (c *LoggingConfig) Validate() error {
	if !slices.Contains(validLogLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}
	if !slices.Contains(validLogFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
	if c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}

	if c.Console.Enabled {
		if c.Console.Level != "" && !slices.Contains(validLogLevels, c.Console.Level) {
			return fmt.Errorf("invalid console log level: %s", c.Console.Level)
		}
		if c.Console.Format != "" && !slices.Contains(validLogFormats, c.Console.Format) {
			return fmt.Errorf("invalid console log format: %s", c.Console.Format)
		}
	}

	if c.File.Enabled {
		if c.File.Level != "" && !slices.Contains(validLogLevels, c.File.Level) {
			return fmt.Errorf("invalid file log level: %s", c.File.Level)
		}
		if c.File.Format != "" && !slices.Contains(validLogFormats, c.File.Format) {
			return fmt.Errorf("invalid file log format: %s", c.File.Format)
		}
	}

	return nil
}

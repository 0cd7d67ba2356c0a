package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "logs", cfg.Dir)
	assert.Equal(t, 100, cfg.Rotation.MaxSize)
	assert.Equal(t, 10, cfg.Rotation.MaxBackups)
	assert.Equal(t, 30, cfg.Rotation.MaxAge)
	assert.True(t, cfg.Rotation.Compress)
	assert.True(t, cfg.Console.Enabled)
	assert.False(t, cfg.File.Enabled)
}

func TestLoggingConfigYAMLParsing(t *testing.T) {
	yamlData := `
level: "debug"
format: "json"
dir: "/var/log/graphsync"
rotation:
  max_size: 50
  max_backups: 5
  max_age: 14
  compress: false
console:
  enabled: false
file:
  enabled: true
  level: "warn"
`

	var cfg LoggingConfig
	err := yaml.Unmarshal([]byte(yamlData), &cfg)

	assert.NoError(t, err)
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "/var/log/graphsync", cfg.Dir)
	assert.Equal(t, 50, cfg.Rotation.MaxSize)
	assert.False(t, cfg.Console.Enabled)
	assert.True(t, cfg.File.Enabled)
	assert.Equal(t, "warn", cfg.File.Level)
}

func TestLoggingConfigApplyDefaults(t *testing.T) {
	cfg := &LoggingConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "logs", cfg.Dir)
	assert.Equal(t, 100, cfg.Rotation.MaxSize)
	assert.False(t, cfg.Rotation.Compress)
	assert.True(t, cfg.Console.Enabled)
	assert.False(t, cfg.File.Enabled)
	assert.Equal(t, "info", cfg.File.Level)
}

func TestLoggingConfigApplyDefaultsInheritsLevel(t *testing.T) {
	cfg := &LoggingConfig{
		Level:   "debug",
		Format:  "json",
		Console: ConsoleConfig{Enabled: true, Level: "warn"},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, "warn", cfg.Console.Level)
	assert.Equal(t, "json", cfg.Console.Format)
	assert.Equal(t, "debug", cfg.File.Level)
	assert.Equal(t, "json", cfg.File.Format)
}

func TestLoggingConfigResolvePaths(t *testing.T) {
	tests := []struct {
		name      string
		dir       string
		configDir string
		want      string
	}{
		{"relative", "logs", "/app/config", "/app/logs"},
		{"parent relative", "../logs", "/app/config", "/app/logs"},
		{"absolute", "/var/log/graphsync", "/app/config", "/var/log/graphsync"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &LoggingConfig{Dir: tt.dir}
			cfg.ResolvePaths(tt.configDir, "/app/data")
			assert.Equal(t, tt.want, cfg.Dir)
		})
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LoggingConfig)
		wantErr string
	}{
		{"valid", func(*LoggingConfig) {}, ""},
		{"bad level", func(c *LoggingConfig) { c.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *LoggingConfig) { c.Format = "xml" }, "invalid log format"},
		{"empty dir", func(c *LoggingConfig) { c.Dir = "" }, "log directory cannot be empty"},
		{"bad console level", func(c *LoggingConfig) { c.Console.Level = "loud" }, "invalid console log level"},
		{"bad console format", func(c *LoggingConfig) { c.Console.Format = "xml" }, "invalid console log format"},
		{"bad file level", func(c *LoggingConfig) { c.File.Enabled = true; c.File.Level = "loud" }, "invalid file log level"},
		{"bad file format", func(c *LoggingConfig) { c.File.Enabled = true; c.File.Format = "xml" }, "invalid file log format"},
		{"disabled file ignored", func(c *LoggingConfig) { c.File.Enabled = false; c.File.Level = "loud" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLoggingConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoggingConfigApplyEnvOverrides(t *testing.T) {
	t.Setenv("GRAPHSYNC_LOG_LEVEL", "warn")
	t.Setenv("GRAPHSYNC_LOG_FILE", "true")

	cfg := DefaultLoggingConfig()
	assert.NoError(t, cfg.ApplyEnvOverrides())
	assert.Equal(t, "warn", cfg.Level)
	assert.True(t, cfg.File.Enabled)
	assert.Equal(t, "text", cfg.Format)
}

func TestLoggingConfigApplyEnvOverridesInvalid(t *testing.T) {
	t.Setenv("GRAPHSYNC_LOG_FILE", "maybe")

	cfg := DefaultLoggingConfig()
	assert.Error(t, cfg.ApplyEnvOverrides())
}

// Package config loads the graphsync configuration from YAML files and
// GRAPHSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/syntrixbase/graphsync/internal/document"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Database names the graph database. When set it prefixes document ids
	// and fills the @dbname field.
	Database string `yaml:"database"`

	// DataDir is the base directory of runtime data such as the journal.
	DataDir string `yaml:"data_dir"`

	Index         IndexConfig         `yaml:",inline"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Nats          NatsConfig          `yaml:"nats"`
	Reindex       ReindexConfig       `yaml:"reindex"`
	Journal       JournalConfig       `yaml:"journal"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() *Config {
	return &Config{
		DataDir:       "data",
		Index:         DefaultIndexConfig(),
		Elasticsearch: DefaultElasticsearchConfig(),
		Dispatch:      DefaultDispatchConfig(),
		Nats:          DefaultNatsConfig(),
		Reindex:       DefaultReindexConfig(),
		Journal:       DefaultJournalConfig(),
		Metrics:       DefaultMetricsConfig(),
		Logging:       DefaultLoggingConfig(),
	}
}

// LoadConfig loads configuration from configDir and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	// 1. Start with default values (so YAML can override them, including bool fields)
	cfg := DefaultConfig()

	// 2. Load config.yml, then config.local.yml on top of it
	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	// 3. Apply the section lifecycle
	if err := cfg.Finalize(configDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize runs the configuration lifecycle on cfg. LoadConfig calls it;
// callers building a Config in code call it themselves.
func (c *Config) Finalize(configDir string) error {
	top := struct {
		Database string `env:"GRAPHSYNC_DATABASE"`
		DataDir  string `env:"GRAPHSYNC_DATA_DIR"`
	}{c.Database, c.DataDir}
	if err := env.Parse(&top); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	c.Database, c.DataDir = top.Database, top.DataDir

	if c.DataDir == "" {
		c.DataDir = "data"
	}
	c.DataDir = resolveDir(configDir, c.DataDir)

	if err := ApplyServiceConfigs(configDir, c.DataDir,
		&c.Index,
		&c.Elasticsearch,
		&c.Dispatch,
		&c.Nats,
		&c.Reindex,
		&c.Journal,
		&c.Metrics,
		&c.Logging,
	); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if c.Index.IncludeDBField && c.Database == "" {
		return errors.New("configuration error: include_db_field needs database")
	}
	if c.Dispatch.Mode == DispatchNATS && c.Nats.URL == "" {
		return errors.New("configuration error: nats.url is required in nats dispatch mode")
	}
	return nil
}

// MapperOptions returns the document options implied by the configuration.
func (c *Config) MapperOptions() document.Options {
	return document.Options{
		Scope:         c.Database,
		IncludeID:     c.Index.IncludeIDField,
		IncludeLabels: c.Index.IncludeLabelsField,
		IncludeDB:     c.Index.IncludeDBField,
		TypeMapping:   c.Index.TypeMapping,
	}
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, skip
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}

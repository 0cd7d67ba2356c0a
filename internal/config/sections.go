package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/syntrixbase/graphsync/internal/indexspec"
)

// Dispatch modes.
const (
	DispatchDirect = "direct"
	DispatchNATS   = "nats"
)

// IndexConfig describes which nodes are indexed and how their documents look.
// Its keys live at the top level of the config file.
type IndexConfig struct {
	// Spec is the inline index specification, such as
	// "people:Person(first_name,last_name)".
	Spec string `yaml:"index_spec" env:"INDEX_SPEC"`

	// SpecFile is read instead of Spec when set.
	SpecFile string `yaml:"index_spec_file" env:"INDEX_SPEC_FILE"`

	IncludeIDField     bool `yaml:"include_id_field" env:"INCLUDE_ID_FIELD"`
	IncludeLabelsField bool `yaml:"include_labels_field" env:"INCLUDE_LABELS_FIELD"`
	IncludeDBField     bool `yaml:"include_db_field" env:"INCLUDE_DB_FIELD"`

	// TypeMapping uses the node label as the document type.
	TypeMapping bool `yaml:"type_mapping" env:"TYPE_MAPPING"`

	// Async dispatches commit batches in the background.
	Async bool `yaml:"async" env:"ASYNC"`
}

func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		IncludeIDField:     true,
		IncludeLabelsField: true,
		Async:              true,
	}
}

func (c *IndexConfig) ApplyDefaults() {}

func (c *IndexConfig) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "GRAPHSYNC_"}); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	return nil
}

func (c *IndexConfig) ResolvePaths(configDir, _ string) {
	c.SpecFile = resolveIn(configDir, c.SpecFile)
}

func (c *IndexConfig) Validate() error {
	if c.Spec != "" && c.SpecFile != "" {
		return errors.New("index_spec and index_spec_file are mutually exclusive")
	}
	if _, err := c.Mapping(); err != nil {
		return err
	}
	return nil
}

// Mapping parses the configured index specification.
func (c *IndexConfig) Mapping() (*indexspec.Mapping, error) {
	if c.SpecFile != "" {
		return indexspec.LoadFile(c.SpecFile)
	}
	return indexspec.Parse(c.Spec)
}

// ElasticsearchConfig holds the search cluster connection settings.
type ElasticsearchConfig struct {
	// HostName is a comma separated list of node URLs.
	HostName          string        `yaml:"host_name" env:"HOST_NAME"`
	Discovery         bool          `yaml:"discovery" env:"DISCOVERY"`
	User              string        `yaml:"user" env:"USER"`
	Password          string        `yaml:"password" env:"PASSWORD"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
}

func DefaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{
		HostName:          "http://localhost:9200",
		ConnectionTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
	}
}

func (c *ElasticsearchConfig) ApplyDefaults() {
	defaults := DefaultElasticsearchConfig()
	if c.HostName == "" {
		c.HostName = defaults.HostName
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = defaults.ConnectionTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
}

func (c *ElasticsearchConfig) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "GRAPHSYNC_ELASTICSEARCH_"}); err != nil {
		return fmt.Errorf("elasticsearch: %w", err)
	}
	return nil
}

func (c *ElasticsearchConfig) ResolvePaths(_, _ string) {}

func (c *ElasticsearchConfig) Validate() error {
	hosts := c.Addresses()
	if len(hosts) == 0 {
		return errors.New("elasticsearch.host_name is required")
	}
	for _, host := range hosts {
		u, err := url.Parse(host)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("elasticsearch.host_name: invalid address %q", host)
		}
	}
	if c.ConnectionTimeout < 0 || c.ReadTimeout < 0 {
		return errors.New("elasticsearch timeouts cannot be negative")
	}
	return nil
}

// Addresses splits HostName into node URLs.
func (c *ElasticsearchConfig) Addresses() []string {
	var out []string
	for _, h := range strings.Split(c.HostName, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// DispatchConfig controls how batches reach the search engine.
type DispatchConfig struct {
	// Timeout bounds one bulk request.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// MaxInFlight limits concurrent background batches. Zero is unlimited.
	MaxInFlight int `yaml:"max_in_flight" env:"MAX_IN_FLIGHT"`

	// Backlog is how many async batches may wait for a free slot when
	// MaxInFlight is set. Batches arriving at a full backlog are journaled
	// and dropped.
	Backlog int `yaml:"backlog" env:"BACKLOG"`

	// Mode is "direct" (background goroutines) or "nats" (JetStream hand-off).
	Mode string `yaml:"mode" env:"MODE"`
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Timeout:     30 * time.Second,
		MaxInFlight: 8,
		Backlog:     1024,
		Mode:        DispatchDirect,
	}
}

func (c *DispatchConfig) ApplyDefaults() {
	defaults := DefaultDispatchConfig()
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.Backlog == 0 {
		c.Backlog = defaults.Backlog
	}
	if c.Mode == "" {
		c.Mode = defaults.Mode
	}
}

func (c *DispatchConfig) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "GRAPHSYNC_DISPATCH_"}); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func (c *DispatchConfig) ResolvePaths(_, _ string) {}

func (c *DispatchConfig) Validate() error {
	if c.Mode != DispatchDirect && c.Mode != DispatchNATS {
		return fmt.Errorf("invalid dispatch mode: %s (must be direct or nats)", c.Mode)
	}
	if c.Timeout < 0 {
		return errors.New("dispatch.timeout cannot be negative")
	}
	if c.MaxInFlight < 0 {
		return errors.New("dispatch.max_in_flight cannot be negative")
	}
	if c.Backlog < 0 {
		return errors.New("dispatch.backlog cannot be negative")
	}
	return nil
}

// NatsConfig holds the JetStream settings used by the nats dispatch mode.
type NatsConfig struct {
	URL         string `yaml:"url" env:"URL"`
	Stream      string `yaml:"stream" env:"STREAM"`
	Subject     string `yaml:"subject" env:"SUBJECT"`
	Consumer    string `yaml:"consumer" env:"CONSUMER"`
	FileStorage bool   `yaml:"file_storage" env:"FILE_STORAGE"`
}

func DefaultNatsConfig() NatsConfig {
	return NatsConfig{
		URL:      "nats://localhost:4222",
		Stream:   "GRAPHSYNC",
		Consumer: "graphsync-worker",
	}
}

func (c *NatsConfig) ApplyDefaults() {
	defaults := DefaultNatsConfig()
	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.Stream == "" {
		c.Stream = defaults.Stream
	}
	if c.Consumer == "" {
		c.Consumer = defaults.Consumer
	}
}

func (c *NatsConfig) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "GRAPHSYNC_NATS_"}); err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	return nil
}

func (c *NatsConfig) ResolvePaths(_, _ string) {}

func (c *NatsConfig) Validate() error {
	if strings.ContainsAny(c.Stream, ". *>") {
		return fmt.Errorf("invalid nats stream name: %q", c.Stream)
	}
	return nil
}

// ReindexConfig controls bulk re-indexing.
type ReindexConfig struct {
	BatchSize     int `yaml:"batch_size" env:"BATCH_SIZE"`
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

func DefaultReindexConfig() ReindexConfig {
	return ReindexConfig{BatchSize: 500, MaxConcurrent: 2}
}

func (c *ReindexConfig) ApplyDefaults() {
	defaults := DefaultReindexConfig()
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = defaults.MaxConcurrent
	}
}

func (c *ReindexConfig) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "GRAPHSYNC_REINDEX_"}); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	return nil
}

func (c *ReindexConfig) ResolvePaths(_, _ string) {}

func (c *ReindexConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("reindex.batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("reindex.max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	return nil
}

// JournalConfig controls the failed batch journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

func DefaultJournalConfig() JournalConfig {
	return JournalConfig{Enabled: true, Path: "journal"}
}

func (c *JournalConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "journal"
	}
}

func (c *JournalConfig) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "GRAPHSYNC_JOURNAL_"}); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// ResolvePaths places a relative journal under the data directory.
func (c *JournalConfig) ResolvePaths(_, dataDir string) {
	c.Path = resolveIn(dataDir, c.Path)
}

func (c *JournalConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return errors.New("journal.path is required when the journal is enabled")
	}
	return nil
}

// MetricsConfig controls the Prometheus endpoint of the CLI.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Port    int    `yaml:"port" env:"PORT"`
	Path    string `yaml:"path" env:"PATH"`
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Port: 9464, Path: "/metrics"}
}

func (c *MetricsConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 9464
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

func (c *MetricsConfig) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: "GRAPHSYNC_METRICS_"}); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

func (c *MetricsConfig) ResolvePaths(_, _ string) {}

func (c *MetricsConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/': %q", c.Path)
	}
	return nil
}

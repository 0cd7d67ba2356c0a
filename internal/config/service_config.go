package config

import (
	"path/filepath"
	"strings"
)

// ServiceConfig defines the configuration lifecycle shared by every section.
type ServiceConfig interface {
	// ApplyDefaults fills zero values with sensible defaults
	ApplyDefaults()

	// ApplyEnvOverrides applies GRAPHSYNC_* environment variable overrides
	ApplyEnvOverrides() error

	// ResolvePaths resolves relative paths using the given directories.
	// - configDir: base directory for config-related paths (e.g., index_spec_file)
	// - dataDir: base directory for runtime data paths (e.g., journal)
	ResolvePaths(configDir, dataDir string)

	// Validate returns an error if the configuration is invalid.
	Validate() error
}

// ApplyServiceConfigs applies the configuration lifecycle to all service configs.
// It calls ApplyDefaults, ApplyEnvOverrides, ResolvePaths, and Validate in order.
func ApplyServiceConfigs(configDir, dataDir string, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		if err := cfg.ApplyEnvOverrides(); err != nil {
			return err
		}
		cfg.ResolvePaths(configDir, dataDir)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// resolveDir makes a relative directory absolute-ish against base.
// Paths starting with ".." are resolved from base itself, anything else from
// the parent of base, so "logs" ends up next to the config directory.
func resolveDir(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	if strings.HasPrefix(dir, "..") {
		return filepath.Clean(filepath.Join(base, dir))
	}
	return filepath.Clean(filepath.Join(filepath.Dir(base), dir))
}

// resolveIn joins a relative path onto base.
func resolveIn(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Clean(filepath.Join(base, path))
}

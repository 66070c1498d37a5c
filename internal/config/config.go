// Package config provides configuration types, defaults, and persistence for beanserver.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/beanserver/internal/capcache"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/registry"
	"github.com/zjrosen/beanserver/internal/templates"
	"github.com/zjrosen/beanserver/internal/tracing"
)

// Config holds all beanserver configuration.
type Config struct {
	DefaultDomain string           `mapstructure:"default_domain"`
	Cache         CacheConfig      `mapstructure:"cache"`
	Dispatch      DispatchConfig   `mapstructure:"dispatch"`
	Introspect    IntrospectConfig `mapstructure:"introspect"`
	Log           LogConfig        `mapstructure:"log"`
	Tracing       tracing.Config   `mapstructure:"tracing"`
	Flags         map[string]bool  `mapstructure:"flags"` // Feature flags, see internal/flags
}

// CacheConfig controls how long discovered capability models are kept.
type CacheConfig struct {
	// Expiration is how long an unused model stays cached.
	// Default: 10m
	Expiration time.Duration `mapstructure:"expiration"`

	// CleanupInterval is how often expired models are purged.
	// Default: 30m
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Lifetimes converts the cache section into capability cache settings.
func (c CacheConfig) Lifetimes() capcache.Config {
	return capcache.Config{Expiration: c.Expiration, CleanupInterval: c.CleanupInterval}
}

// DispatchConfig holds dispatcher switches.
type DispatchConfig struct {
	// InvokeGetters allows accessor-shaped methods to be invoked as
	// operations. nil defers to the invoke-getters flag.
	InvokeGetters *bool `mapstructure:"invoke_getters"`
}

// IntrospectConfig holds capability discovery switches.
type IntrospectConfig struct {
	// MergeDuplicateAccessors keeps the first of two conflicting getters.
	// nil defers to the merge-duplicate-accessors flag.
	MergeDuplicateAccessors *bool `mapstructure:"merge_duplicate_accessors"`
}

// LogConfig holds debug log settings.
type LogConfig struct {
	Path  string `mapstructure:"path"`  // empty disables file logging
	Level string `mapstructure:"level"` // debug, info (default), warn, error
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		DefaultDomain: registry.DefaultDomain,
		Cache: CacheConfig{
			Expiration:      10 * time.Minute,
			CleanupInterval: 30 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: tracing.DefaultConfig(),
		Flags:   map[string]bool{},
	}
}

// Validate checks every section and returns the first error found.
func Validate(cfg Config) error {
	if err := ValidateDefaultDomain(cfg.DefaultDomain); err != nil {
		return err
	}
	if err := ValidateCache(cfg.Cache); err != nil {
		return err
	}
	if err := ValidateLog(cfg.Log); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateDefaultDomain checks the default domain can name objects.
// An empty domain is valid and means the built-in default.
func ValidateDefaultDomain(domain string) error {
	if domain == "" {
		return nil
	}
	if strings.ContainsAny(domain, ":*?\n") {
		return fmt.Errorf("default_domain must not contain ':', '*', '?' or newlines, got %q", domain)
	}
	if domain == registry.ReservedDomain {
		return fmt.Errorf("default_domain %q is reserved", domain)
	}
	return nil
}

// ValidateCache checks cache lifetimes. Zero values use defaults.
func ValidateCache(cache CacheConfig) error {
	if cache.Expiration < 0 {
		return fmt.Errorf("cache.expiration must not be negative, got %s", cache.Expiration)
	}
	if cache.CleanupInterval < 0 {
		return fmt.Errorf("cache.cleanup_interval must not be negative, got %s", cache.CleanupInterval)
	}
	return nil
}

// ValidateLog checks the log level name.
func ValidateLog(l LogConfig) error {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", l.Level)
	}
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	// Path requirements only matter once tracing is on
	if t.Enabled {
		if t.Exporter == tracing.ExporterFile && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == tracing.ExporterOTLP && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/beanserver, falling back to
// ~/.config/beanserver. Returns an empty string if neither is available.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "beanserver")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "beanserver")
}

// DefaultConfigPath returns the user-level config file path.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return templates.DefaultConfig()
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

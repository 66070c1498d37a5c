package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/beanserver/internal/config"
	"github.com/zjrosen/beanserver/internal/presentation"
)

// localConfigFile is checked before the user config directory.
const localConfigFile = ".beanserver.yaml"

var (
	version      = "dev"
	cfgFile      string
	outputFormat string
	verbose      bool
	noColor      bool

	v      *viper.Viper
	cfg    config.Config
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "beanserver",
	Short: "Inspect and operate managed objects",
	Long: `beanserver hosts managed objects in-process and lets you query them by
name pattern, read and write their attributes, invoke their operations and
inspect what they expose.

Every command runs against a server populated with the built-in go.runtime
objects and the server delegate.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: preRun,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.beanserver.yaml, then $XDG_CONFIG_HOME/beanserver/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", string(presentation.FormatTable),
		"output format: table, yaml or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"print debug logs to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored table output")
}

func initConfig() {
	v = viper.New()
	cfgErr = nil

	defaults := config.Defaults()
	v.SetDefault("default_domain", defaults.DefaultDomain)
	v.SetDefault("cache.expiration", defaults.Cache.Expiration)
	v.SetDefault("cache.cleanup_interval", defaults.Cache.CleanupInterval)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	v.SetEnvPrefix("BEANSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config lookup order:
	// 1. --config
	// 2. ./.beanserver.yaml
	// 3. $XDG_CONFIG_HOME/beanserver/config.yaml
	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case fileExists(localConfigFile):
		v.SetConfigFile(localConfigFile)
	default:
		if dir := config.DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cfgErr = fmt.Errorf("reading config: %w", err)
			return
		}
	}

	cfg = config.Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		cfgErr = fmt.Errorf("decoding config: %w", err)
	}
}

func preRun(cmd *cobra.Command, _ []string) error {
	if noColor {
		presentation.DisableColor()
	}
	if _, err := presentation.ParseFormat(outputFormat); err != nil {
		return err
	}
	if skipsConfig(cmd) {
		return nil
	}
	if cfgErr != nil {
		return cfgErr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// skipsConfig reports whether cmd must run even with a broken config file.
func skipsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == configCmd || c == versionCmd {
			return true
		}
	}
	return false
}

// configFileUsed returns the file config was read from, or where a new one
// should be written.
func configFileUsed() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v != nil && v.ConfigFileUsed() != "" {
		return v.ConfigFileUsed()
	}
	if fileExists(localConfigFile) {
		return localConfigFile
	}
	if dir := config.DefaultConfigDir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return localConfigFile
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func formatter(cmd *cobra.Command) *presentation.Formatter {
	format, _ := presentation.ParseFormat(outputFormat)
	return presentation.NewFormatter(cmd.OutOrStdout(), format)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(ver string) {
	version = ver
	rootCmd.Version = ver
}

// Package config loads gaze settings from file, environment and flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/internal/watchers/debounce"
	"github.com/gazewatch/gaze/internal/watchers/local"
	"github.com/gazewatch/gaze/internal/watchers/patterns"
	"github.com/gazewatch/gaze/internal/watchers/source"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/logger"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. GAZE_WATCH_MODE
const EnvPrefix = "GAZE"

// Config is the complete gaze configuration
type Config struct {
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// WatchConfig configures the watcher
type WatchConfig struct {
	Patterns      []string      `mapstructure:"patterns" yaml:"patterns"`
	Cwd           string        `mapstructure:"cwd" yaml:"cwd"`
	Mark          bool          `mapstructure:"mark" yaml:"mark"`
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	DebounceDelay time.Duration `mapstructure:"debounce_delay" yaml:"debounce_delay"`
	Mode          string        `mapstructure:"mode" yaml:"mode"`
	// IgnoreFile holds gitignore-style exclusions, relative to Cwd
	IgnoreFile     string `mapstructure:"ignore_file" yaml:"ignore_file"`
	DefaultIgnores bool   `mapstructure:"default_ignores" yaml:"default_ignores"`
}

// JournalConfig configures the event journal
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Retain  int    `mapstructure:"retain" yaml:"retain"`
}

// LoggingConfig configures pkg/logger
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	File        string `mapstructure:"file" yaml:"file"`
	Development bool   `mapstructure:"development" yaml:"development"`
	JSON        bool   `mapstructure:"json" yaml:"json"`
}

// MetricsConfig configures the Prometheus endpoint; empty Addr disables it
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Dir returns the per-user configuration directory
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gaze")
}

// DefaultFile returns the config file written when none was found
func DefaultFile() string {
	return filepath.Join(Dir(), "config.yaml")
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("watch.patterns", []string{})
	v.SetDefault("watch.cwd", "")
	v.SetDefault("watch.mark", true)
	v.SetDefault("watch.interval", source.DefaultInterval)
	v.SetDefault("watch.debounce_delay", debounce.DefaultDelay)
	v.SetDefault("watch.mode", string(interfaces.ModeAuto))
	v.SetDefault("watch.ignore_file", "")
	v.SetDefault("watch.default_ignores", false)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", database.DefaultPath())
	v.SetDefault("journal.retain", 10000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.json", false)

	v.SetDefault("metrics.addr", "")
}

// Setup points v at cfgFile, or at the default search path when it is
// empty, and enables GAZE_ environment overrides
func Setup(v *viper.Viper, cfgFile string) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(Dir())
		v.AddConfigPath("/etc/gaze/")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Read loads the config file. A missing file in the search path is not an
// error; a missing explicit file is.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return gazeerrors.NewConfigError("failed to read config file", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, gazeerrors.NewConfigError("failed to decode configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field that has a constrained domain
func (c *Config) Validate() error {
	if _, ok := interfaces.ParseMode(c.Watch.Mode); !ok {
		return gazeerrors.NewConfigError(fmt.Sprintf("watch.mode must be auto, watch or poll, got %q", c.Watch.Mode), nil)
	}
	if c.Watch.Interval < 0 {
		return gazeerrors.NewConfigError("watch.interval must not be negative", nil)
	}
	if c.Watch.DebounceDelay < 0 {
		return gazeerrors.NewConfigError("watch.debounce_delay must not be negative", nil)
	}
	if err := patterns.New("/").Add(c.Watch.Patterns...); err != nil {
		return gazeerrors.NewConfigError("watch.patterns is invalid", err)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return gazeerrors.NewConfigError("journal.path is required when the journal is enabled", nil)
	}
	if c.Journal.Retain < 0 {
		return gazeerrors.NewConfigError("journal.retain must not be negative", nil)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return gazeerrors.NewConfigError(fmt.Sprintf("logging.level %q is not a log level", c.Logging.Level), err)
	}
	return nil
}

// WatchOptions converts the watch section into watcher options
func (c *Config) WatchOptions() local.Options {
	return local.Options{
		Cwd:           c.Watch.Cwd,
		NoMark:        !c.Watch.Mark,
		Interval:      c.Watch.Interval,
		DebounceDelay: c.Watch.DebounceDelay,
		Mode:          interfaces.Mode(c.Watch.Mode),
	}
}

// Patterns returns args, or watch.patterns when args is empty, followed by
// the exclusions from default_ignores and ignore_file
func (c *Config) Patterns(args []string, cwd string) ([]string, error) {
	out := append([]string(nil), args...)
	if len(out) == 0 {
		out = append(out, c.Watch.Patterns...)
	}
	if len(out) == 0 {
		return nil, gazeerrors.NewConfigError("no patterns given and watch.patterns is empty", nil)
	}

	if c.Watch.DefaultIgnores {
		out = append(out, patterns.Exclusions(patterns.DefaultIgnores...)...)
	}
	if c.Watch.IgnoreFile != "" {
		file := c.Watch.IgnoreFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(cwd, file)
		}
		excluded, err := patterns.ReadIgnoreFile(file)
		if err != nil {
			return nil, err
		}
		out = append(out, excluded...)
	}
	return out, nil
}

// LogConfig converts the logging section for pkg/logger
func (c *Config) LogConfig() *logger.LogConfig {
	lc := logger.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.OutputPath = c.Logging.File
	lc.Development = c.Logging.Development
	lc.EnableJSON = c.Logging.JSON
	return lc
}

// DatabaseOptions converts the journal section for the database manager
func (c *Config) DatabaseOptions() *database.Options {
	opts := database.DefaultOptions()
	opts.Path = c.Journal.Path
	return opts
}

// YAML renders the configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Package cli implements the command-line interface for gaze
package cli

import (
	"fmt"

	"github.com/gazewatch/gaze/internal/config"
	"github.com/gazewatch/gaze/internal/watchers/local"
	"github.com/gazewatch/gaze/internal/watchers/registry"
	gazelogger "github.com/gazewatch/gaze/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile     string
	verboseMode bool
	cfg         *config.Config
	logger      = zap.NewNop()
	version     string
	buildDate   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gaze",
	Short: "gaze - watch files matching glob patterns",
	Long: `gaze resolves glob patterns to the files and directories they match,
watches them, and reports what was added, changed, deleted or renamed.

Patterns follow doublestar syntax; prefix a pattern with ! to exclude.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: gazeLoadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, bd string) {
	version = v
	buildDate = bd
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildDate)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gaze/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Add all subcommands
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// gazeLoadConfig reads the config file and environment, then installs the
// configured logger
func gazeLoadConfig(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	config.Setup(v, cfgFile)
	if err := config.Read(v); err != nil {
		return err
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	logConfig := cfg.LogConfig()
	if verboseMode {
		logConfig.Level = "debug"
		logConfig.Development = true
	}
	if err := gazelogger.Initialize(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = gazelogger.Named("cli")

	if file := v.ConfigFileUsed(); file != "" {
		logger.Debug("Using config file", zap.String("file", file))
	}
	return nil
}

// gazeSharedRegistry installs the process-wide registry for opts so every
// watcher the command creates shares one set of OS watches
func gazeSharedRegistry(opts *local.Options) error {
	reg, err := registry.Init(registry.Config{
		Mode:     opts.Mode,
		Interval: opts.Interval,
		Logger:   gazelogger.Named("registry"),
	})
	if err != nil {
		return fmt.Errorf("failed to create watch registry: %w", err)
	}
	opts.Registry = reg
	return nil
}

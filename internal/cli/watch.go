package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/internal/metrics"
	"github.com/gazewatch/gaze/internal/watchers"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// watchCmd represents the watch command (main monitoring command)
var watchCmd = &cobra.Command{
	Use:   "watch [patterns...]",
	Short: "Watch paths matching glob patterns and print their changes",
	Long: `Watch every file and directory matching the given glob patterns and
print added, changed, deleted and renamed events as they happen.

Patterns are resolved against --cwd. Without arguments the patterns from
the config file (watch.patterns) are used.`,
	Example: `  gaze watch '**/*.go' '!vendor/**'
  gaze watch --mode poll --interval 500ms 'src/**'
  gaze watch --journal --metrics-addr :9464 '**/*'`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("cwd", "", "Directory patterns resolve against (default is the working directory)")
	watchCmd.Flags().String("mode", "auto", "Watch backend: auto, watch or poll")
	watchCmd.Flags().Duration("interval", 100*time.Millisecond, "Poll interval")
	watchCmd.Flags().Duration("debounce", 500*time.Millisecond, "Window repeated events are folded within")
	watchCmd.Flags().String("ignore-file", "", "Exclude paths listed in this gitignore-style file")
	watchCmd.Flags().Bool("default-ignores", false, "Exclude VCS directories, node_modules and editor swap files")
	watchCmd.Flags().Bool("no-mark", false, "Print directories without a trailing separator")
	watchCmd.Flags().Bool("journal", false, "Record events in the journal")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	watchCmd.Flags().Bool("json", false, "Print events as JSON lines")
	watchCmd.Flags().Bool("no-color", false, "Disable colored output")
	watchCmd.Flags().Duration("status-interval", 0, "Print a summary at this interval (0 disables)")

	viper.BindPFlag("watch.cwd", watchCmd.Flags().Lookup("cwd"))
	viper.BindPFlag("watch.mode", watchCmd.Flags().Lookup("mode"))
	viper.BindPFlag("watch.interval", watchCmd.Flags().Lookup("interval"))
	viper.BindPFlag("watch.debounce_delay", watchCmd.Flags().Lookup("debounce"))
	viper.BindPFlag("watch.ignore_file", watchCmd.Flags().Lookup("ignore-file"))
	viper.BindPFlag("watch.default_ignores", watchCmd.Flags().Lookup("default-ignores"))
	viper.BindPFlag("journal.enabled", watchCmd.Flags().Lookup("journal"))
	viper.BindPFlag("metrics.addr", watchCmd.Flags().Lookup("metrics-addr"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	noMark, _ := cmd.Flags().GetBool("no-mark")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	statusInterval, _ := cmd.Flags().GetDuration("status-interval")

	opts := cfg.WatchOptions()
	if noMark {
		opts.NoMark = true
	}

	cwd, err := filepath.Abs(opts.Cwd)
	if err != nil {
		return fmt.Errorf("failed to resolve cwd: %w", err)
	}
	opts.Cwd = cwd

	patterns, err := cfg.Patterns(args, cwd)
	if err != nil {
		return err
	}
	if err := gazeSharedRegistry(&opts); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := newEventPrinter(out, opts.Cwd, jsonOutput, !noColor)

	managerConfig := watchers.ManagerConfig{
		Patterns: patterns,
		Watch:    opts,
		Retain:   cfg.Journal.Retain,
		Handler:  printer.print,
	}

	if cfg.Journal.Enabled {
		db := database.NewManager(cfg.DatabaseOptions())
		if err := db.Open(); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer db.Close()
		managerConfig.DB = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := gazeServeMetrics(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	manager, err := watchers.NewGazeWatcherManager(managerConfig)
	if err != nil {
		return fmt.Errorf("failed to create watcher manager: %w", err)
	}

	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer manager.Stop()

	if !jsonOutput {
		fmt.Fprintf(out, "Watching %v in %s (Ctrl+C to stop)\n", patterns, printer.cwd)
	}

	var tick <-chan time.Time
	if statusInterval > 0 {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			stats := manager.GetStats()
			if !jsonOutput {
				fmt.Fprintf(out, "\nStopped after %s: %s\n",
					utils.FormatDuration(stats.Session.Uptime()), summarize(stats.Session.Counts))
			}
			return nil
		case <-tick:
			stats := manager.GetStats()
			line := summarize(stats.Session.Counts)
			if stats.Queue != nil {
				line += fmt.Sprintf(", %d pending journal writes", stats.Queue.Pending)
			}
			logger.Info("Watch status", zap.String("summary", line))
		}
	}
}

// gazeServeMetrics starts the Prometheus endpoint in the background
func gazeServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

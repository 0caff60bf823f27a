package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/internal/database/repositories"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last watch session and journal size",
	Long: `Display the most recent 'gaze watch --journal' session.

Shows information about:
- The patterns and directory it watched
- When it started and how long it ran
- Event counts by kind`,
	RunE: runStatus,
}

// statusReport is the --json shape of the status command
type statusReport struct {
	ConfigFile string          `json:"config_file"`
	Journal    string          `json:"journal"`
	Events     int             `json:"events"`
	FreePages  int             `json:"free_pages"`
	Session    *models.Session `json:"session,omitempty"`
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output status in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	report := statusReport{
		ConfigFile: viper.ConfigFileUsed(),
		Journal:    cfg.Journal.Path,
	}

	if _, err := os.Stat(report.Journal); err == nil {
		opts := cfg.DatabaseOptions()
		opts.ReadOnly = true
		db := database.NewManager(opts)
		if err := db.Open(); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer db.Close()

		if report.Events, err = repositories.NewEventRepository(db).Count(); err != nil {
			return err
		}
		if report.Session, err = repositories.NewSessionRepository(db).Last(); err != nil {
			return err
		}
		stats, err := db.Stats()
		if err != nil {
			return err
		}
		report.FreePages = stats.FreePageN
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	configFile := report.ConfigFile
	if configFile == "" {
		configFile = "(none, using defaults)"
	}
	fmt.Fprintf(out, "gaze %s\n", version)
	fmt.Fprintf(out, "  Config:  %s\n", configFile)
	fmt.Fprintf(out, "  Journal: %s (%d events, %d free pages)\n", report.Journal, report.Events, report.FreePages)

	s := report.Session
	if s == nil {
		fmt.Fprintf(out, "\nNo watch session recorded\n")
		return nil
	}

	state := "stopped"
	if s.IsRunning {
		state = "running"
	}
	fmt.Fprintf(out, "\nLast session (%s)\n", state)
	fmt.Fprintf(out, "  Patterns: %v\n", s.Patterns)
	fmt.Fprintf(out, "  Cwd:      %s\n", s.Cwd)
	fmt.Fprintf(out, "  Mode:     %s\n", s.Mode)
	fmt.Fprintf(out, "  Started:  %s\n", formatTime(s.StartedAt))
	fmt.Fprintf(out, "  Stopped:  %s\n", formatTime(s.StoppedAt))
	fmt.Fprintf(out, "  Uptime:   %s\n", utils.FormatDuration(s.Uptime()))
	fmt.Fprintf(out, "  Events:   %s\n", summarize(s.Counts))
	if s.LastError != "" {
		fmt.Fprintf(out, "  Last error: %s\n", utils.TruncateString(s.LastError, 120))
	}
	return nil
}

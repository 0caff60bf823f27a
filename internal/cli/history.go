package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/internal/database/repositories"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/spf13/cobra"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled events",
	Long: `Display events recorded by 'gaze watch --journal', oldest first.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("tail", 20, "Number of events to display (0 for all)")
	historyCmd.Flags().StringSlice("kind", nil, "Only show these kinds (added, changed, deleted, renamed, error)")
	historyCmd.Flags().String("since", "", "Show events since a duration ago (e.g., 2h, 30m, 1d)")
	historyCmd.Flags().Bool("json", false, "Output events as JSON lines")
	historyCmd.Flags().Bool("no-color", false, "Disable colored output")
	historyCmd.Flags().Int("prune", -1, "Keep only the newest N events")
	historyCmd.Flags().Bool("clear", false, "Delete every journaled event")
}

func runHistory(cmd *cobra.Command, args []string) error {
	tail, _ := cmd.Flags().GetInt("tail")
	kinds, _ := cmd.Flags().GetStringSlice("kind")
	since, _ := cmd.Flags().GetString("since")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	prune, _ := cmd.Flags().GetInt("prune")
	clearAll, _ := cmd.Flags().GetBool("clear")

	filter := &repositories.EventFilter{Limit: tail}
	for _, k := range kinds {
		kind, err := models.ParseEventKind(k)
		if err != nil {
			return err
		}
		filter.Kinds = append(filter.Kinds, kind)
	}
	if since != "" {
		d, err := utils.ParseDuration(since)
		if err != nil {
			return fmt.Errorf("invalid --since %q: %w", since, err)
		}
		filter.Since = time.Now().Add(-d)
	}

	writable := clearAll || prune >= 0
	opts := cfg.DatabaseOptions()
	if _, err := os.Stat(opts.Path); os.IsNotExist(err) {
		if writable {
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "No journal at %s; run 'gaze watch --journal' first\n", opts.Path)
		return nil
	}
	opts.ReadOnly = !writable

	db := database.NewManager(opts)
	if err := db.Open(); err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer db.Close()

	repo := repositories.NewEventRepository(db)
	out := cmd.OutOrStdout()

	switch {
	case clearAll:
		if err := repo.Clear(); err != nil {
			return fmt.Errorf("failed to clear journal: %w", err)
		}
		fmt.Fprintf(out, "Journal cleared\n")
		return nil
	case prune >= 0:
		n, err := repo.Prune(prune)
		if err != nil {
			return fmt.Errorf("failed to prune journal: %w", err)
		}
		fmt.Fprintf(out, "Pruned %d events\n", n)
		return nil
	}

	events, err := repo.List(filter)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	printer := newEventPrinter(out, "", jsonOutput, !noColor)
	for _, ev := range events {
		printer.print(ev)
	}
	if len(events) == 0 && !jsonOutput {
		fmt.Fprintf(out, "No events recorded\n")
	}
	return nil
}

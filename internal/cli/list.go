package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gazewatch/gaze/internal/watchers/local"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list [patterns...]",
	Short: "List the files and directories the patterns would watch",
	Long: `Resolve the patterns, wait for the initial scan to settle and print the
watched tree grouped by directory.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().String("cwd", "", "Directory patterns resolve against (default is the working directory)")
	listCmd.Flags().Bool("relative", true, "Print paths relative to cwd")
	listCmd.Flags().Bool("unixify", false, "Use / as the separator in relative paths")
	listCmd.Flags().Bool("json", false, "Output the tree as JSON")
	listCmd.Flags().Duration("timeout", 5*time.Second, "How long to wait for the initial scan")
}

func runList(cmd *cobra.Command, args []string) error {
	cwd, _ := cmd.Flags().GetString("cwd")
	relative, _ := cmd.Flags().GetBool("relative")
	unixify, _ := cmd.Flags().GetBool("unixify")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	opts := cfg.WatchOptions()
	if cwd != "" {
		opts.Cwd = cwd
	}
	abs, err := filepath.Abs(opts.Cwd)
	if err != nil {
		return fmt.Errorf("failed to resolve cwd: %w", err)
	}
	opts.Cwd = abs

	patterns, err := cfg.Patterns(args, abs)
	if err != nil {
		return err
	}
	if err := gazeSharedRegistry(&opts); err != nil {
		return err
	}

	w, err := local.New(patterns, opts)
	if err != nil {
		return err
	}
	defer w.Close()

	select {
	case <-w.Ready():
	case <-time.After(timeout):
		return fmt.Errorf("initial scan did not settle within %s", timeout)
	}

	watched := w.Watched()
	if relative {
		watched = w.Relative(unixify)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(watched)
	}

	if len(watched) == 0 {
		fmt.Fprintf(out, "No paths match %v in %s\n", patterns, w.Cwd())
		return nil
	}
	printTree(out, watched)
	return nil
}

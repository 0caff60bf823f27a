package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gazewatch/gaze/pkg/models"
	"github.com/gazewatch/gaze/pkg/utils"
)

// Color codes for event kinds
var kindColors = map[models.EventKind]string{
	models.EventAdded:   "\033[32m", // Green
	models.EventChanged: "\033[36m", // Cyan
	models.EventDeleted: "\033[31m", // Red
	models.EventRenamed: "\033[33m", // Yellow
	models.EventError:   "\033[91m", // Bright red
	models.EventReady:   "\033[90m", // Gray
	models.EventNoMatch: "\033[90m",
}

const colorReset = "\033[0m"

// eventPrinter writes events as text lines or JSON lines
type eventPrinter struct {
	out      io.Writer
	cwd      string
	jsonMode bool
	color    bool
	mu       sync.Mutex
}

func newEventPrinter(out io.Writer, cwd string, jsonMode, color bool) *eventPrinter {
	return &eventPrinter{out: out, cwd: cwd, jsonMode: jsonMode, color: color}
}

func (p *eventPrinter) print(ev *models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.jsonMode {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(p.out, string(data))
		return
	}

	kind := fmt.Sprintf("%-8s", ev.Kind)
	if color, ok := kindColors[ev.Kind]; ok && p.color {
		kind = color + kind + colorReset
	}
	fmt.Fprintf(p.out, "[%s] %s %s\n", ev.Timestamp.Format("15:04:05"), kind, p.describe(ev))
}

func (p *eventPrinter) describe(ev *models.Event) string {
	switch ev.Kind {
	case models.EventRenamed:
		return fmt.Sprintf("%s -> %s", p.rel(ev.OldPath), p.rel(ev.Path))
	case models.EventError:
		return ev.Error
	case models.EventReady:
		return "initial scan complete"
	case models.EventNoMatch:
		return "no path matched the patterns"
	}
	return p.rel(ev.Path)
}

// rel shortens path against the printer's cwd, keeping the directory mark
func (p *eventPrinter) rel(path string) string {
	if p.cwd == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(p.cwd, utils.UnmarkDir(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	if strings.HasSuffix(path, string(filepath.Separator)) {
		rel += string(filepath.Separator)
	}
	return rel
}

// printTree writes a relative watched tree with directories sorted
func printTree(out io.Writer, watched map[string][]string) {
	dirs := make([]string, 0, len(watched))
	for dir := range watched {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		fmt.Fprintf(out, "%s\n", dir)
		entries := append([]string(nil), watched[dir]...)
		sort.Strings(entries)
		for i, entry := range entries {
			branch := "├──"
			if i == len(entries)-1 {
				branch = "└──"
			}
			fmt.Fprintf(out, "%s %s\n", branch, entry)
		}
	}
}

// summarize renders per-kind counts, e.g. "2 added, 1 deleted"
func summarize(counts map[models.EventKind]int) string {
	var parts []string
	for _, kind := range []models.EventKind{
		models.EventAdded, models.EventChanged, models.EventDeleted,
		models.EventRenamed, models.EventError,
	} {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kind))
		}
	}
	if len(parts) == 0 {
		return "no events"
	}
	return strings.Join(parts, ", ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

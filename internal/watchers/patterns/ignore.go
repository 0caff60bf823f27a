package patterns

import (
	"bufio"
	"os"
	"strings"

	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
)

// DefaultIgnores are editor, VCS and OS droppings callers usually want out
// of a watch. They are not applied unless requested.
var DefaultIgnores = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	".git/",
	".svn/",
	".hg/",
	".idea/",
	"node_modules/",
	"__pycache__/",
	"*.swp",
	"*.swo",
	"*~",
	".#*",
}

// ReadIgnoreFile reads gitignore-style lines from path and returns them as
// exclusion patterns. A missing file yields no patterns.
func ReadIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gazeerrors.NewFileSystemError("failed to read ignore file "+path, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, gazeerrors.NewFileSystemError("failed to read ignore file "+path, err)
	}
	return Exclusions(lines...), nil
}

// Exclusions converts gitignore-style lines into ! patterns. Comments and
// blank lines are skipped, and so are !re-includes, which would otherwise
// add paths outside the caller's own patterns.
func Exclusions(lines ...string) []string {
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		dirOnly := strings.HasSuffix(line, "/")
		line = strings.TrimSuffix(line, "/")
		if line == "" {
			continue
		}

		// Only a slash before the end anchors a line at cwd
		glob := "**/" + line
		if strings.Contains(line, "/") {
			glob = strings.TrimPrefix(line, "/")
		}

		if !dirOnly {
			out = append(out, "!"+glob)
		}
		out = append(out, "!"+glob+"/**")
	}
	return out
}

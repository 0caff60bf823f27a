//go:build windows

package patterns

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Windows file systems are case-insensitive

func filepathGlob(pattern string) ([]string, error) {
	return doublestar.FilepathGlob(pattern, doublestar.WithCaseInsensitive())
}

func pathMatch(pattern, path string) (bool, error) {
	return doublestar.PathMatch(strings.ToLower(pattern), strings.ToLower(path))
}

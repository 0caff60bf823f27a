//go:build !windows

package patterns

import "github.com/bmatcuk/doublestar/v4"

func filepathGlob(pattern string) ([]string, error) {
	return doublestar.FilepathGlob(pattern)
}

func pathMatch(pattern, path string) (bool, error) {
	return doublestar.PathMatch(pattern, path)
}

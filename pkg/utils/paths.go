// Package utils provides path helpers shared by the watcher packages
package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// IsDir reports whether path carries a trailing directory separator
func IsDir(path string) bool {
	if path == "" {
		return false
	}
	last := path[len(path)-1]
	return last == '/' || last == '\\'
}

// MarkDir appends the platform separator to dir unless it is already marked
func MarkDir(dir string) string {
	if dir == "" || dir == "." || IsDir(dir) {
		return dir
	}
	return dir + string(os.PathSeparator)
}

// UnmarkDir strips a trailing separator, leaving filesystem roots intact
func UnmarkDir(path string) string {
	if !IsDir(path) {
		return path
	}
	trimmed := strings.TrimRight(path, `/\`)
	if trimmed == "" || strings.HasSuffix(trimmed, ":") {
		return path
	}
	return trimmed
}

// Resolve makes path absolute against base and keeps its directory marker
func Resolve(base, path string) string {
	var result string
	if filepath.IsAbs(path) {
		result = filepath.Clean(path)
	} else {
		result = filepath.Join(base, path)
	}
	if IsDir(path) {
		result = MarkDir(result)
	}
	return result
}

// Parent returns the marked parent directory of path
func Parent(path string) string {
	return MarkDir(filepath.Dir(UnmarkDir(path)))
}

// Unixify converts platform separators to forward slashes
func Unixify(path string) string {
	if os.PathSeparator == '/' {
		return path
	}
	return strings.ReplaceAll(path, string(os.PathSeparator), "/")
}

// Unique concatenates lists, keeping the first occurrence of every value
func Unique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0)
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}
	return result
}

// ObjectPush creates m[key] if missing and appends the values not already present
func ObjectPush(m map[string][]string, key string, vals ...string) []string {
	list, ok := m[key]
	if !ok {
		list = make([]string, 0, len(vals))
	}
	for _, v := range vals {
		if v == "" || contains(list, v) {
			continue
		}
		list = append(list, v)
	}
	m[key] = list
	return list
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

package patterns

import (
	"os"
	"path/filepath"
	"testing"

	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture lays out the tree the watcher tests use
func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range []string{
		"Project (LO)/one.js",
		"nested/one.js",
		"nested/three.js",
		"nested/sub/two.js",
		"one.js",
		"sub/one.js",
		"sub/two.js",
		"sub/README.md",
	} {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("var test = true;"), 0644))
	}
	return root
}

func rel(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(root, utils.UnmarkDir(p))
		require.NoError(t, err)
		if utils.IsDir(p) {
			r += "/"
		}
		out = append(out, filepath.ToSlash(r))
	}
	return out
}

func TestAddDeduplicatesAndKeepsOrder(t *testing.T) {
	s := New("/w")
	require.NoError(t, s.Add("**/*.js", "", "!nested/**", "**/*.js"))
	require.NoError(t, s.Add("sub/*.md", "!nested/**"))

	assert.Equal(t, []string{"**/*.js", "!nested/**", "sub/*.md"}, s.Patterns())
	assert.Equal(t, 3, s.Len())
}

func TestAddRejectsMalformedPattern(t *testing.T) {
	s := New("/w")
	err := s.Add("*.js", "[")
	require.Error(t, err)
	assert.True(t, gazeerrors.IsPatternError(err))
	assert.Equal(t, 0, s.Len(), "nothing is added when any pattern is bad")
}

func TestMatch(t *testing.T) {
	cwd := filepath.FromSlash("/w")
	s := New(cwd)
	require.NoError(t, s.Add("**/*.js", "!nested/**/*.js", "nested/keep.js"))

	tests := []struct {
		name string
		path string
		want bool
	}{
		{name: "top level", path: "one.js", want: true},
		{name: "relative nested", path: filepath.FromSlash("sub/one.js"), want: true},
		{name: "absolute", path: filepath.Join(cwd, "sub", "two.js"), want: true},
		{name: "excluded", path: filepath.FromSlash("nested/sub/two.js"), want: false},
		{name: "excluded directly", path: filepath.FromSlash("nested/one.js"), want: false},
		{name: "re-included after exclusion", path: filepath.FromSlash("nested/keep.js"), want: true},
		{name: "other extension", path: filepath.FromSlash("sub/README.md"), want: false},
		{name: "outside cwd", path: filepath.FromSlash("/elsewhere/one.js"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Match(tt.path))
		})
	}
}

func TestMatchIgnoresDirectoryMarker(t *testing.T) {
	s := New(filepath.FromSlash("/w"))
	require.NoError(t, s.Add("sub"))
	assert.True(t, s.Match(utils.MarkDir("sub")))
}

func TestMatchIsOrderIndependentWithinBatch(t *testing.T) {
	a := New("/w")
	b := New("/w")
	require.NoError(t, a.Add("**/*.js", "**/*.md"))
	require.NoError(t, b.Add("**/*.md", "**/*.js"))

	for _, p := range []string{"one.js", "sub/README.md", "x.txt"} {
		assert.Equal(t, a.Match(filepath.FromSlash(p)), b.Match(filepath.FromSlash(p)), p)
	}
}

func TestFind(t *testing.T) {
	root := fixture(t)

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{
			name:     "recursive js",
			patterns: []string{"**/*.js"},
			want: []string{
				"Project (LO)/one.js", "nested/one.js", "nested/sub/two.js", "nested/three.js",
				"one.js", "sub/one.js", "sub/two.js",
			},
		},
		{
			name:     "with exclusion",
			patterns: []string{"**/*.js", "!nested/**/*.js"},
			want:     []string{"Project (LO)/one.js", "one.js", "sub/one.js", "sub/two.js"},
		},
		{
			name:     "directories are marked",
			patterns: []string{"sub", "sub/*.md"},
			want:     []string{"sub/", "sub/README.md"},
		},
		{
			name:     "braces",
			patterns: []string{"sub/{one,two}.js"},
			want:     []string{"sub/one.js", "sub/two.js"},
		},
		{
			name:     "no match",
			patterns: []string{"**/*.coffee"},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(root)
			require.NoError(t, s.Add(tt.patterns...))
			found, err := s.Find()
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, rel(t, root, found))
		})
	}
}

func TestFindKeepsFirstAppearanceOrder(t *testing.T) {
	root := fixture(t)
	s := New(root)
	require.NoError(t, s.Add("sub/two.js", "sub/*.js"))

	found, err := s.Find()
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/two.js", "sub/one.js"}, rel(t, root, found))
}

func TestCouldContain(t *testing.T) {
	cwd := filepath.FromSlash("/w")

	tests := []struct {
		name     string
		patterns []string
		dir      string
		want     bool
	}{
		{name: "globstar below", patterns: []string{"**/*.js"}, dir: "a/b", want: true},
		{name: "root itself", patterns: []string{"sub/*.js"}, dir: ".", want: true},
		{name: "exact base", patterns: []string{"sub/*.js"}, dir: "sub", want: true},
		{name: "sibling", patterns: []string{"sub/*.js"}, dir: "nested", want: false},
		{name: "too deep", patterns: []string{"sub/*.js"}, dir: "sub/deeper", want: false},
		{name: "wildcard segment", patterns: []string{"*/lib/*.js"}, dir: "pkg/lib", want: true},
		{name: "wildcard mismatch", patterns: []string{"*/lib/*.js"}, dir: "pkg/src", want: false},
		{name: "outside cwd", patterns: []string{"**/*.js"}, dir: "/elsewhere", want: false},
		{name: "negation never includes", patterns: []string{"!**/*.js"}, dir: "sub", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(cwd)
			require.NoError(t, s.Add(tt.patterns...))
			assert.Equal(t, tt.want, s.CouldContain(filepath.FromSlash(tt.dir)))
		})
	}
}

package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/codesage/internal/config"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func relPaths(t *testing.T, root string, files []string) []string {
	t.Helper()
	out := make([]string, len(files))
	for i, f := range files {
		rel, err := filepath.Rel(root, f)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func newTestScanner(mutate func(*config.IngestConfig)) *RepositoryScanner {
	cfg := config.Default().Ingest
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRepositoryScanner(cfg, nil)
}

func TestScannerDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "src/app.ts", "export {}")
	writeFile(t, root, "src/lib/util.py", "x = 1")
	writeFile(t, root, "docs/README.md", "# hi")
	writeFile(t, root, "config.yml", "a: 1")
	writeFile(t, root, "notes.txt", "not source")
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, "node_modules/dep/index.js", "ignored")
	writeFile(t, root, "dist/bundle.js", "ignored")
	writeFile(t, root, "coverage/lcov.json", "{}")
	writeFile(t, root, ".next/build.js", "ignored")
	writeFile(t, root, ".git/hooks/pre-commit.py", "ignored")
	writeFile(t, root, "pkg/node_modules/x.js", "ignored")

	files, err := newTestScanner(nil).Discover(root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"config.yml",
		"docs/README.md",
		"main.go",
		"src/app.ts",
		"src/lib/util.py",
	}, relPaths(t, root, files))
	for _, f := range files {
		assert.True(t, filepath.IsAbs(f))
	}
}

func TestScannerGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "# build output\nbuild/\n*.gen.go\n!keep.gen.go\n/local.json\n")
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "build/out.go", "ignored")
	writeFile(t, root, "api/types.gen.go", "ignored")
	writeFile(t, root, "api/keep.gen.go", "kept")
	writeFile(t, root, "local.json", "{}")
	writeFile(t, root, "sub/local.json", "{}")

	files, err := newTestScanner(nil).Discover(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"api/keep.gen.go", "main.go", "sub/local.json"}, relPaths(t, root, files))

	files, err = newTestScanner(func(c *config.IngestConfig) { c.RespectGitignore = false }).Discover(root)
	require.NoError(t, err)
	assert.Len(t, files, 6)
}

func TestScannerExcludeAndSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "main_test.go", "package main")
	writeFile(t, root, "vendor/x/y.go", "package y")
	writeFile(t, root, "big.json", string(make([]byte, 2048)))

	files, err := newTestScanner(func(c *config.IngestConfig) {
		c.Exclude = []string{"*_test.go", "vendor/**"}
		c.MaxFileSize = 1024
	}).Discover(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, relPaths(t, root, files))
}

func TestScannerSingleFile(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "notes.txt", "any extension is accepted")

	files, err := newTestScanner(nil).Discover(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}

func TestScannerErrors(t *testing.T) {
	root := t.TempDir()

	_, err := newTestScanner(nil).Discover(filepath.Join(root, "missing"))
	assert.True(t, os.IsNotExist(err))

	writeFile(t, root, "notes.txt", "no source here")
	_, err = newTestScanner(nil).Discover(root)
	require.Error(t, err)
	assert.Equal(t, "no source files found in "+root, err.Error())
}

func TestIgnoreMatcher(t *testing.T) {
	m := NewIgnoreMatcher()
	require.NoError(t, m.ParseGitignore([]byte("*.log\ntmp/\n!important.log\ndocs/*.md\n")))

	assert.True(t, m.Match("a.log", false))
	assert.True(t, m.Match("deep/dir/a.log", false))
	assert.False(t, m.Match("important.log", false))
	assert.True(t, m.Match("tmp", true))
	assert.False(t, m.Match("tmp", false))
	assert.True(t, m.Match("docs/a.md", false))
	assert.False(t, m.Match("other/docs/a.md", false))

	var nilMatcher *IgnoreMatcher
	assert.False(t, nilMatcher.Match("a.log", false))
}

func TestReadFileReplacesInvalidUTF8(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.go", "ok\xffok")
	content, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok�ok", content)
}

package indexer

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type ignoreRule struct {
	pattern string
	isDir   bool
	negated bool
	matchFn func(string) bool
}

// IgnoreMatcher evaluates .gitignore style rules against slash separated
// paths relative to the repository root. Later rules win, so a negated
// rule can re-include a path.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher creates an empty matcher.
func NewIgnoreMatcher() *IgnoreMatcher {
	return &IgnoreMatcher{}
}

// LoadGitignore adds the rules of a .gitignore file. A missing file is not an error.
func (m *IgnoreMatcher) LoadGitignore(gitignorePath string) error {
	content, err := os.ReadFile(gitignorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return m.ParseGitignore(content)
}

// ParseGitignore adds the rules found in content.
func (m *IgnoreMatcher) ParseGitignore(content []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.AddPattern(line)
	}
	return scanner.Err()
}

// AddPattern adds a single rule.
func (m *IgnoreMatcher) AddPattern(pattern string) {
	rule := ignoreRule{pattern: pattern}

	if strings.HasPrefix(rule.pattern, "!") {
		rule.negated = true
		rule.pattern = strings.TrimPrefix(rule.pattern, "!")
	}

	if strings.HasSuffix(rule.pattern, "/") {
		rule.isDir = true
		rule.pattern = strings.TrimSuffix(rule.pattern, "/")
	}

	if strings.HasPrefix(rule.pattern, "/") || strings.Contains(rule.pattern, "/") {
		// Anchored to the root.
		p := strings.TrimPrefix(rule.pattern, "/")
		rule.matchFn = func(path string) bool {
			matched, _ := doublestar.Match(p, path)
			return matched
		}
	} else {
		p := rule.pattern
		rule.matchFn = func(path string) bool {
			matched, _ := doublestar.Match("**/"+p, path)
			if !matched {
				matched, _ = doublestar.Match(p, path)
			}
			return matched
		}
	}

	m.rules = append(m.rules, rule)
}

// Match reports whether relPath is ignored.
func (m *IgnoreMatcher) Match(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	path := filepath.ToSlash(relPath)

	excluded := false
	for _, rule := range m.rules {
		if rule.isDir && !isDir {
			continue
		}
		if rule.matchFn(path) {
			excluded = !rule.negated
		}
	}

	return excluded
}

package indexer

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/DreamCats/codesage/internal/config"
)

// SourceGlob selects the files worth indexing.
const SourceGlob = "**/*.{ts,tsx,js,jsx,mjs,cjs,py,go,rs,java,md,json,yaml,yml}"

// DefaultExcludeDirs are never descended into.
var DefaultExcludeDirs = []string{"node_modules", "dist", ".git", "coverage", ".next"}

// RepositoryScanner discovers the source files of a repository.
type RepositoryScanner struct {
	exclude          []string
	respectGitignore bool
	maxFileSize      int64
	logger           *slog.Logger
}

// NewRepositoryScanner creates a scanner from the ingest section.
func NewRepositoryScanner(cfg config.IngestConfig, logger *slog.Logger) *RepositoryScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositoryScanner{
		exclude:          cfg.Exclude,
		respectGitignore: cfg.RespectGitignore,
		maxFileSize:      cfg.MaxFileSize,
		logger:           logger,
	}
}

// Discover returns the sorted absolute paths of the source files under
// path. A regular file is returned as is.
func (s *RepositoryScanner) Discover(path string) ([]string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.Mode().IsRegular() {
		return []string{absPath}, nil
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("invalid repository path: %s", path)
	}

	var ignore *IgnoreMatcher
	if s.respectGitignore {
		ignore = NewIgnoreMatcher()
		if err := ignore.LoadGitignore(filepath.Join(absPath, ".gitignore")); err != nil {
			return nil, fmt.Errorf("failed to load .gitignore: %w", err)
		}
	}

	var files []string
	err = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == absPath {
			return nil
		}

		rel, err := filepath.Rel(absPath, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.skipDir(d.Name(), rel, ignore) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !s.include(rel, ignore) {
			return nil
		}

		if s.maxFileSize > 0 {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if fi.Size() > s.maxFileSize {
				s.logger.Debug("skipping large file", "path", rel, "size", fi.Size())
				return nil
			}
		}

		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", absPath, err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no source files found in %s", absPath)
	}

	sort.Strings(files)
	return files, nil
}

func (s *RepositoryScanner) skipDir(name, rel string, ignore *IgnoreMatcher) bool {
	for _, dir := range DefaultExcludeDirs {
		if name == dir {
			return true
		}
	}
	// Hidden directories are not part of the source tree.
	if strings.HasPrefix(name, ".") {
		return true
	}
	if ignore.Match(rel, true) {
		s.logger.Debug("directory excluded by .gitignore", "path", rel)
		return true
	}
	for _, pattern := range s.exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func (s *RepositoryScanner) include(rel string, ignore *IgnoreMatcher) bool {
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return false
	}
	if matched, _ := doublestar.Match(SourceGlob, rel); !matched {
		return false
	}
	if ignore.Match(rel, false) {
		s.logger.Debug("file excluded by .gitignore", "path", rel)
		return false
	}
	for _, pattern := range s.exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			s.logger.Debug("file excluded by pattern", "path", rel, "pattern", pattern)
			return false
		}
		if matched, _ := doublestar.Match(pattern, filepath.Base(rel)); matched {
			s.logger.Debug("file excluded by basename pattern", "path", rel, "pattern", pattern)
			return false
		}
	}
	return true
}

// ReadFile reads a file as UTF-8 text. Invalid sequences become U+FFFD.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

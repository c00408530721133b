package indexer

import (
	"path/filepath"
	"strings"
)

var languageByExt = map[string]string{
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".py":   "python",
	".go":   "go",
	".rs":   "rust",
	".java": "java",
	".json": "json",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
}

// DetectLanguage maps a file extension to a language name, "text" if unknown.
func DetectLanguage(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "text"
}

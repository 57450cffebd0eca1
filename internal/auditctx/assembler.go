// Package auditctx builds the bounded source payload embedded in the audit
// prompt.
package auditctx

import (
	"strings"

	"repoaudit/internal/fetcher"
)

const (
	// MaxFileChars bounds each file section, counted in runes.
	MaxFileChars = 8000

	Preamble = "Here is a subset of the actual source code from the repository:\n\n"

	// UnavailableNotice opens the fallback payload when no file was fetched.
	UnavailableNotice = "NOTE: Unable to fetch detailed source code due to access limits."
)

// Assemble concatenates the fetched files, or returns Fallback(language) when
// there are none.
func Assemble(files []fetcher.File, language string) string {
	if len(files) == 0 {
		return Fallback(language)
	}
	var b strings.Builder
	b.WriteString(Preamble)
	for _, f := range files {
		b.WriteString("--- FILE: ")
		b.WriteString(f.Path)
		b.WriteString(" ---\n")
		b.WriteString(Truncate(f.Content, MaxFileChars))
		b.WriteString("\n\n")
	}
	return b.String()
}

// Fallback tells the model that no source is attached so it does not invent
// file contents.
func Fallback(language string) string {
	if strings.TrimSpace(language) == "" {
		language = "Unknown"
	}
	return UnavailableNotice +
		" Please perform a heuristic audit based on the repository structure and common patterns for " + language + " projects." +
		" Do not fabricate file paths, line numbers or code that was not provided; mark such findings as generic."
}

// Truncate keeps at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

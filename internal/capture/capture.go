// Package capture models the locally captured document handed to the
// reconciliation engine, and the boundary to whatever produced it: an
// external page-to-PDF renderer for URLs, or a plain file read for
// pre-existing PDFs.
package capture

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Document is one captured file ready for ingestion. It is immutable once
// handed to the engine; the engine owns moving or deleting the file at
// SourcePath.
type Document struct {
	SourcePath   string
	Title        string
	DomainOrName string
	Metadata     map[string]string
	// Captured is true when the file came out of the capture pipeline
	// rather than being supplied by the user; only captured staging files
	// are deleted after placement.
	Captured bool
}

// Capturer renders a URL to a PDF on disk. The browser-driving
// implementation lives outside this module; the engine only depends on
// this boundary.
type Capturer interface {
	Capture(ctx context.Context, pageURL, destPath string) (Document, error)
}

// maxDomainLen caps the fallback name derived from a filename.
const maxDomainLen = 30

// maxTitleLen caps sanitized titles used in filenames.
const maxTitleLen = 50

// DomainFromURL extracts the host for file naming, without a www. prefix.
func DomainFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// SanitizeTitle reduces a page title to a filename-safe form: only
// letters, digits, and " ._-" survive, trimmed and capped in length.
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	runes := []rune(s)
	if len(runes) > maxTitleLen {
		s = string(runes[:maxTitleLen])
	}
	return s
}

// truncateName bounds a filename-derived fallback domain.
func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) > maxDomainLen {
		return string(runes[:maxDomainLen])
	}
	return name
}

// accessDate formats the current time the way the store's accessDate
// field expects it.
func accessDate(now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05Z")
}

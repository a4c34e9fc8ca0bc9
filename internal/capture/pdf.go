package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// FromPDF builds a Document for a PDF file already on disk. The title
// comes from the PDF document information dictionary when present,
// otherwise from the filename stem.
func FromPDF(path string) (Document, error) {
	if _, err := os.Stat(path); err != nil {
		return Document{}, fmt.Errorf("stat pdf: %w", err)
	}

	title := pdfTitle(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if title == "" {
		title = stem
	}

	doc := Document{
		SourcePath:   path,
		Title:        title,
		DomainOrName: truncateName(stem),
		Metadata: map[string]string{
			"title":      title,
			"accessDate": accessDate(time.Now()),
		},
		Captured: false,
	}
	return doc, nil
}

// pdfTitle reads /Info /Title; an unreadable or title-less PDF yields "".
func pdfTitle(path string) string {
	defer func() {
		// The parser panics on some malformed cross-reference tables;
		// a missing title is not worth failing the ingestion over.
		_ = recover()
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return ""
	}
	t := info.Key("Title")
	if t.Kind() != pdf.String {
		return ""
	}
	return strings.TrimSpace(t.RawString())
}

// StagingName derives the filename a captured document is served and
// stored under.
func StagingName(title, domainOrName string) string {
	clean := SanitizeTitle(title)
	if clean == "" {
		clean = "capture"
	}
	if domainOrName == "" {
		return fmt.Sprintf("%s.pdf", clean)
	}
	return fmt.Sprintf("%s (%s).pdf", clean, domainOrName)
}

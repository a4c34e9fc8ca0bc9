package history

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Run kinds.
const (
	KindURL = "url"
	KindPDF = "pdf"
)

// Run is one ingestion attempt: what was saved, which records it ended up
// attached to, and how far the side effects got.
type Run struct {
	ID                string
	Kind              string // "url" or "pdf"
	Source            string // the page URL or the local PDF path
	ItemKey           string
	AttachmentKey     string
	TagsApplied       bool
	CollectionApplied bool
	PlacedPath        string
	Status            string // "completed", "partial", "failed"
	Detail            string
	CreatedAt         time.Time
}

package zotero

import (
	"context"
	"log/slog"
	"time"

	"github.com/zotsnap/zotsnap/internal/retry"
)

// linkerPageSize is the scan window for orphaned attachments. Wider than
// the resolver's page because other items may have landed in between.
const linkerPageSize = 50

// errorRetryDelay is the fixed wait after a transport failure during a
// link attempt. Transient store errors should not inflate the backoff.
const errorRetryDelay = 2 * time.Second

// ItemUpdater is the subset of Client the linker needs.
type ItemUpdater interface {
	RecentItems(ctx context.Context, limit int) ([]Item, error)
	UpdateItem(ctx context.Context, item Item) (map[string]any, error)
}

// Linker re-parents a freshly created attachment under its logical parent.
// The connector creates attachments standalone; once the record shows up in
// the store the linker claims it by setting parentItem.
type Linker struct {
	store  ItemUpdater
	limit  int
	logger *slog.Logger
}

// NewLinker creates a Linker writing through the given store.
func NewLinker(store ItemUpdater) *Linker {
	return &Linker{
		store:  store,
		limit:  linkerPageSize,
		logger: slog.Default(),
	}
}

// LinkAttachment scans recent items for one whose URL equals url, whose
// kind is webpage or attachment, and which has no parent yet, then sets its
// parent to parentKey and updates the store. An item that already has a
// parent is never re-parented.
//
// While no unparented match exists the linker waits policy.Wait(attempt)
// and retries; transport errors retry on a short fixed delay instead. The
// attempt budget bounds both cases. Exhaustion returns false without an
// error: a standalone attachment is a degraded outcome, not a fatal one.
func (l *Linker) LinkAttachment(ctx context.Context, url, parentKey string, policy retry.Policy) bool {
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		items, err := l.store.RecentItems(ctx, l.limit)
		if err != nil {
			l.logger.Warn("listing items for linking failed, retrying", "url", url, "error", err)
			if policy.Sleep(ctx, errorRetryDelay) != nil {
				return false
			}
			continue
		}

		item, ok := findOrphan(items, url)
		if !ok {
			l.logger.Info("no unparented attachment yet", "url", url, "attempt", attempt+1)
			if policy.Sleep(ctx, policy.Wait(attempt)) != nil {
				return false
			}
			continue
		}

		item.Data.ParentItem = parentKey
		if _, err := l.store.UpdateItem(ctx, item); err != nil {
			l.logger.Warn("re-parenting attachment failed, retrying", "key", item.Key, "error", err)
			if policy.Sleep(ctx, errorRetryDelay) != nil {
				return false
			}
			continue
		}

		l.logger.Info("attachment linked", "key", item.Key, "parent", parentKey)
		return true
	}

	l.logger.Warn("could not link attachment", "url", url, "attempts", policy.MaxAttempts)
	return false
}

// findOrphan returns a recent webpage/attachment item matching url that
// has no parent. When the save produced both a stray webpage record and
// the attachment itself under the same url, the attachment wins.
func findOrphan(items []Item, url string) (Item, bool) {
	var page Item
	var pageFound bool
	for _, it := range items {
		if it.Data.URL != url || it.Data.ParentItem != "" {
			continue
		}
		switch it.Data.ItemType {
		case KindAttachment:
			return it, true
		case KindWebpage:
			if !pageFound {
				page, pageFound = it, true
			}
		}
	}
	return page, pageFound
}

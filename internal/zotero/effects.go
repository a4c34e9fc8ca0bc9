package zotero

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Result reports one best-effort side effect. Failures never abort the
// primary ingestion; they are surfaced here so partial completion stays
// observable instead of hiding behind an overall success.
type Result struct {
	OK     bool
	Reason string
}

func ok() Result { return Result{OK: true} }

func failedf(format string, args ...any) Result {
	return Result{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// ItemMutator is the subset of Client the applier needs.
type ItemMutator interface {
	Item(ctx context.Context, key string) (Item, error)
	UpdateItem(ctx context.Context, item Item) (map[string]any, error)
	Collections(ctx context.Context) ([]Collection, error)
}

// Applier idempotently applies tags and collection membership to items.
type Applier struct {
	store  ItemMutator
	logger *slog.Logger
}

// NewApplier creates an Applier writing through the given store.
func NewApplier(store ItemMutator) *Applier {
	return &Applier{store: store, logger: slog.Default()}
}

// ApplyTags ensures the item carries every non-empty trimmed tag. Tags the
// item already has (by exact name) are not duplicated; when nothing is
// missing no update is issued. An empty tag list is a no-op.
func (a *Applier) ApplyTags(ctx context.Context, itemKey string, tags []string) Result {
	var wanted []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			wanted = append(wanted, t)
		}
	}
	if len(wanted) == 0 {
		a.logger.Info("no tags specified, skipping tag assignment")
		return ok()
	}

	item, err := a.store.Item(ctx, itemKey)
	if err != nil {
		a.logger.Error("fetching item for tag assignment failed", "key", itemKey, "error", err)
		return failedf("fetching item %s: %v", itemKey, err)
	}

	existing := make(map[string]bool, len(item.Data.Tags))
	for _, t := range item.Data.Tags {
		existing[t.Tag] = true
	}

	var added int
	for _, t := range wanted {
		if existing[t] {
			continue
		}
		item.Data.Tags = append(item.Data.Tags, Tag{Tag: t})
		existing[t] = true
		added++
	}
	if added == 0 {
		return ok()
	}

	if _, err := a.store.UpdateItem(ctx, item); err != nil {
		a.logger.Error("tag update failed", "key", itemKey, "error", err)
		return failedf("updating tags on %s: %v", itemKey, err)
	}

	a.logger.Info("tags applied", "key", itemKey, "tags", wanted)
	return ok()
}

// ApplyCollection ensures the item belongs to a collection. A non-empty
// collectionKey wins; otherwise collectionName is resolved by exact name
// match against the library's collections. Membership that already exists
// is success with no mutation.
func (a *Applier) ApplyCollection(ctx context.Context, itemKey, collectionKey, collectionName string) Result {
	if collectionKey == "" && collectionName != "" {
		key, found := a.resolveCollection(ctx, collectionName)
		if !found {
			a.logger.Warn("collection not found", "name", collectionName)
			return failedf("no collection named %q", collectionName)
		}
		collectionKey = key
	}
	if collectionKey == "" {
		a.logger.Info("no collection specified, skipping collection assignment")
		return ok()
	}

	item, err := a.store.Item(ctx, itemKey)
	if err != nil {
		a.logger.Error("fetching item for collection assignment failed", "key", itemKey, "error", err)
		return failedf("fetching item %s: %v", itemKey, err)
	}

	for _, c := range item.Data.Collections {
		if c == collectionKey {
			a.logger.Info("item already in collection", "key", itemKey, "collection", collectionKey)
			return ok()
		}
	}

	item.Data.Collections = append(item.Data.Collections, collectionKey)
	if _, err := a.store.UpdateItem(ctx, item); err != nil {
		a.logger.Error("collection update failed", "key", itemKey, "error", err)
		return failedf("adding %s to collection %s: %v", itemKey, collectionKey, err)
	}

	a.logger.Info("item added to collection", "key", itemKey, "collection", collectionKey)
	return ok()
}

// resolveCollection scans all collections for an exact name match.
func (a *Applier) resolveCollection(ctx context.Context, name string) (string, bool) {
	collections, err := a.store.Collections(ctx)
	if err != nil {
		a.logger.Error("listing collections failed", "error", err)
		return "", false
	}
	for _, c := range collections {
		if c.Data.Name == name {
			key := c.Data.Key
			if key == "" {
				key = c.Key
			}
			return key, true
		}
	}
	return "", false
}

package zotero

import (
	"context"
	"log/slog"
	"sort"

	"github.com/zotsnap/zotsnap/internal/retry"
)

// resolverPageSize is how many recent items each poll inspects. The record
// we are looking for was created moments ago, so a small page suffices.
const resolverPageSize = 10

// ItemLister is the subset of Client the resolver needs.
type ItemLister interface {
	RecentItems(ctx context.Context, limit int) ([]Item, error)
}

// Resolver polls the store for a record matching a URL. It exists because
// the connector's create call does not return the created item's key: the
// only way to learn it is to watch the recent-items feed until the record
// materializes.
type Resolver struct {
	store  ItemLister
	limit  int
	logger *slog.Logger
}

// NewResolver creates a Resolver reading from the given store.
func NewResolver(store ItemLister) *Resolver {
	return &Resolver{
		store:  store,
		limit:  resolverPageSize,
		logger: slog.Default(),
	}
}

// FindItemByURL polls until a recent item's URL equals url exactly, then
// returns its key. itemType narrows the match when non-empty. Among several
// matches the most recently modified wins, since a record may be touched
// again after creation.
//
// The store needs time to materialize a record even on the first check, so
// one policy delay is slept before the first poll. Exhausting the policy is
// a soft failure: found is false and err is nil, and the caller decides
// whether to abort or continue degraded. A transport or decode error inside
// an attempt stops the polling immediately with the same not-found outcome.
// err is non-nil only when ctx is cancelled mid-wait.
func (r *Resolver) FindItemByURL(ctx context.Context, url, itemType string, policy retry.Policy) (key string, found bool, err error) {
	r.logger.Info("waiting for item to materialize", "url", url, "delay", policy.Wait(0))
	if err := policy.Sleep(ctx, policy.Wait(0)); err != nil {
		return "", false, err
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		items, err := r.store.RecentItems(ctx, r.limit)
		if err != nil {
			// Do not keep polling past an exception; report not found.
			r.logger.Error("searching for item by URL failed", "url", url, "error", err)
			break
		}

		matches := filterByURL(items, url, itemType)
		if len(matches) > 0 {
			sort.Slice(matches, func(i, j int) bool {
				return matches[i].ModifiedAt().Before(matches[j].ModifiedAt())
			})
			last := matches[len(matches)-1]
			return last.Key, true, nil
		}

		r.logger.Info("item not found yet, retrying", "url", url, "attempt", attempt+1, "max_attempts", policy.MaxAttempts)
		if err := policy.Sleep(ctx, policy.Wait(attempt)); err != nil {
			return "", false, err
		}
	}

	r.logger.Warn("item never materialized", "url", url, "attempts", policy.MaxAttempts)
	return "", false, nil
}

// filterByURL keeps items whose URL equals url exactly, optionally
// narrowed to one item type. Items without a URL never match.
func filterByURL(items []Item, url, itemType string) []Item {
	var matches []Item
	for _, it := range items {
		if it.Data.URL == "" || it.Data.URL != url {
			continue
		}
		if itemType != "" && it.Data.ItemType != itemType {
			continue
		}
		matches = append(matches, it)
	}
	return matches
}

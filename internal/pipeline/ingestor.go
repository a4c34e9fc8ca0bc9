// Package pipeline orchestrates a full save: drive the connector, wait for
// records to materialize in the store, re-parent attachments, apply tags
// and collection membership, and place the file into storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zotsnap/zotsnap/internal/capture"
	"github.com/zotsnap/zotsnap/internal/connector"
	"github.com/zotsnap/zotsnap/internal/history"
	"github.com/zotsnap/zotsnap/internal/retry"
	"github.com/zotsnap/zotsnap/internal/transfer"
	"github.com/zotsnap/zotsnap/internal/vault"
	"github.com/zotsnap/zotsnap/internal/zotero"
)

// cleanupPageSize bounds the recent-items scan for duplicate cleanup.
const cleanupPageSize = 50

// Library is the subset of the store client the ingestor and its helpers
// need. *zotero.Client satisfies it.
type Library interface {
	RecentItems(ctx context.Context, limit int) ([]zotero.Item, error)
	Item(ctx context.Context, key string) (zotero.Item, error)
	UpdateItem(ctx context.Context, item zotero.Item) (map[string]any, error)
	DeleteItem(ctx context.Context, item zotero.Item) error
	Collections(ctx context.Context) ([]zotero.Collection, error)
}

// Connector is the subset of the connector client the ingestor needs.
type Connector interface {
	EnsureRunning(ctx context.Context) error
	SaveSnapshot(ctx context.Context, snap connector.SnapshotRequest) error
}

// Options tune a single save.
type Options struct {
	Tags           []string
	CollectionKey  string
	CollectionName string
}

// Report is the outcome of one save. ItemKey and AttachmentKey are empty
// when the corresponding record never materialized. Tags and Collection are
// best effort and carry their own failure reasons.
type Report struct {
	RunID         string
	ItemKey       string
	AttachmentKey string
	Tags          zotero.Result
	Collection    zotero.Result
	PlacedPath    string
	Status        string
}

// Config wires an Ingestor.
type Config struct {
	Connector  Connector
	Library    Library
	Capturer   capture.Capturer
	Vault      *vault.Vault
	History    *history.Store
	StagingDir string
	StartPort  int
	Policy     retry.Policy
	Version    string
	Logger     *slog.Logger
}

// Ingestor runs the save pipelines.
type Ingestor struct {
	connector  Connector
	library    Library
	resolver   *zotero.Resolver
	linker     *zotero.Linker
	applier    *zotero.Applier
	capturer   capture.Capturer
	vault      *vault.Vault
	history    *history.Store
	stagingDir string
	startPort  int
	policy     retry.Policy
	version    string
	logger     *slog.Logger

	// fetchMeta is swappable for tests.
	fetchMeta func(ctx context.Context, url string) (map[string]string, error)
	// serve is swappable for tests.
	serve func(dir string, startPort int) (*transfer.Server, error)
}

// New creates an Ingestor from cfg. History is optional; a nil store
// disables run recording.
func New(cfg Config) *Ingestor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartPort == 0 {
		cfg.StartPort = transfer.DefaultStartPort
	}
	return &Ingestor{
		connector:  cfg.Connector,
		library:    cfg.Library,
		resolver:   zotero.NewResolver(cfg.Library),
		linker:     zotero.NewLinker(cfg.Library),
		applier:    zotero.NewApplier(cfg.Library),
		capturer:   cfg.Capturer,
		vault:      cfg.Vault,
		history:    cfg.History,
		stagingDir: cfg.StagingDir,
		startPort:  cfg.StartPort,
		policy:     cfg.Policy,
		version:    cfg.Version,
		logger:     logger,
		fetchMeta:  capture.PageMetadata,
		serve:      transfer.Serve,
	}
}

// linkPolicy derives the re-parenting policy from the resolver policy:
// same attempt budget, wait growing by a second per attempt.
func (in *Ingestor) linkPolicy() retry.Policy {
	p := in.policy
	p.Backoff = retry.Linear(p.Delay, time.Second)
	return p
}

// applySideEffects applies tags then collection membership. The two touch
// the same record, so they run in order to keep the versions straight. Both
// are best effort; failures land in the report, not in an error.
func (in *Ingestor) applySideEffects(ctx context.Context, itemKey string, opts Options, report *Report) {
	report.Tags = in.applier.ApplyTags(ctx, itemKey, opts.Tags)
	report.Collection = in.applier.ApplyCollection(ctx, itemKey, opts.CollectionKey, opts.CollectionName)
}

// finish runs the store side effects and the file placement concurrently;
// they touch independent resources.
func (in *Ingestor) finish(ctx context.Context, itemKey, placeSrc, placeKey string, wasCaptured bool, opts Options, report *Report) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		in.applySideEffects(gctx, itemKey, opts, report)
		return nil
	})
	g.Go(func() error {
		if placeKey != "" {
			report.PlacedPath = in.vault.Place(placeSrc, placeKey, wasCaptured)
		}
		return nil
	})
	_ = g.Wait()
}

// formatExtra renders captured metadata into the record's extra field, one
// key per line, sorted for stable output.
func (in *Ingestor) formatExtra(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k == "url" || k == "title" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, meta[k])
	}
	fmt.Fprintf(&b, "Saved with zotsnap %s", in.version)
	return b.String()
}

// cleanupDuplicates deletes childless webpage records created as a side
// effect of saving the attachment through the local transfer URL.
func (in *Ingestor) cleanupDuplicates(ctx context.Context, url, keepKey string) {
	items, err := in.library.RecentItems(ctx, cleanupPageSize)
	if err != nil {
		in.logger.Warn("duplicate cleanup: listing items failed", "error", err)
		return
	}
	for _, it := range items {
		if it.Key == keepKey || it.Data.URL != url || it.Data.ItemType != zotero.KindWebpage {
			continue
		}
		// Re-fetch for a current child count before deleting.
		fresh, err := in.library.Item(ctx, it.Key)
		if err != nil {
			in.logger.Warn("duplicate cleanup: fetching item failed", "key", it.Key, "error", err)
			continue
		}
		if fresh.Meta.NumChildren != 0 {
			continue
		}
		if err := in.library.DeleteItem(ctx, fresh); err != nil {
			in.logger.Warn("duplicate cleanup: delete failed", "key", fresh.Key, "error", err)
			continue
		}
		in.logger.Info("deleted duplicate record", "key", fresh.Key)
	}
}

// record persists the run when a history store is configured.
func (in *Ingestor) record(run history.Run) {
	if in.history == nil {
		return
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if err := in.history.SaveRun(run); err != nil {
		in.logger.Warn("recording run failed", "run", run.ID, "error", err)
	}
}

func newRunID() string {
	return uuid.NewString()
}

// status summarizes a finished report: completed when everything landed,
// partial when the item exists but some step degraded.
func status(r Report) string {
	if r.ItemKey == "" && r.AttachmentKey == "" {
		return history.StatusFailed
	}
	if r.ItemKey != "" && r.AttachmentKey != "" && r.Tags.OK && r.Collection.OK && r.PlacedPath != "" {
		return history.StatusCompleted
	}
	return history.StatusPartial
}

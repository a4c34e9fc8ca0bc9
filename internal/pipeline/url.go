package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zotsnap/zotsnap/internal/capture"
	"github.com/zotsnap/zotsnap/internal/connector"
	"github.com/zotsnap/zotsnap/internal/history"
	"github.com/zotsnap/zotsnap/internal/zotero"
)

// SaveURL ingests a web page: ask the connector to save it, wait for the
// record to materialize, capture the page to PDF, attach the PDF through
// the local transfer server, then apply tags and collection membership and
// place the file into storage.
//
// A connector failure or a record that never appears aborts with an error.
// Everything after the record exists is best effort: a failed capture,
// attachment, or side effect degrades the run to partial instead of
// failing it.
func (in *Ingestor) SaveURL(ctx context.Context, pageURL string, opts Options) (Report, error) {
	report := Report{RunID: newRunID()}
	started := time.Now()
	var notes []string

	fail := func(err error) (Report, error) {
		report.Status = history.StatusFailed
		in.record(in.runFromReport(report, history.KindURL, pageURL, started, err.Error()))
		return report, err
	}

	if err := in.connector.EnsureRunning(ctx); err != nil {
		return fail(err)
	}

	meta, err := in.fetchMeta(ctx, pageURL)
	if err != nil {
		in.logger.Warn("fetching page metadata failed", "url", pageURL, "error", err)
		notes = append(notes, fmt.Sprintf("metadata: %v", err))
		meta = map[string]string{"url": pageURL}
		if d := capture.DomainFromURL(pageURL); d != "" {
			meta["domain"] = d
		}
	}
	title := meta["title"]
	if title == "" {
		title = meta["domain"]
	}

	if err := in.connector.SaveSnapshot(ctx, connector.SnapshotRequest{URL: pageURL, Title: title}); err != nil {
		return fail(fmt.Errorf("requesting snapshot: %w", err))
	}

	itemKey, found, err := in.resolver.FindItemByURL(ctx, pageURL, zotero.KindWebpage, in.policy)
	if err != nil {
		return fail(err)
	}
	if !found {
		return fail(fmt.Errorf("record for %s never appeared in the library", pageURL))
	}
	report.ItemKey = itemKey
	in.logger.Info("record materialized", "key", itemKey, "url", pageURL)

	doc, attachErr := in.attachCapture(ctx, pageURL, title, itemKey, &report)
	if attachErr != nil {
		in.logger.Warn("attachment phase degraded", "url", pageURL, "error", attachErr)
		notes = append(notes, attachErr.Error())
	}

	if err := in.writeMetadata(ctx, itemKey, title, meta); err != nil {
		in.logger.Warn("writing metadata failed", "key", itemKey, "error", err)
		notes = append(notes, fmt.Sprintf("metadata update: %v", err))
	}

	in.finish(ctx, itemKey, doc.SourcePath, report.AttachmentKey, doc.Captured, opts, &report)

	report.Status = status(report)
	if len(notes) > 0 && report.Status == history.StatusCompleted {
		report.Status = history.StatusPartial
	}
	in.record(in.runFromReport(report, history.KindURL, pageURL, started, strings.Join(notes, "; ")))
	return report, nil
}

// attachCapture renders the page to PDF and pushes it into the library as
// an attachment of itemKey, via the local transfer server.
func (in *Ingestor) attachCapture(ctx context.Context, pageURL, title, itemKey string, report *Report) (capture.Document, error) {
	if in.capturer == nil {
		return capture.Document{}, fmt.Errorf("capture: no capturer configured")
	}

	filename := capture.StagingName(title, capture.DomainFromURL(pageURL))
	dest := filepath.Join(in.stagingDir, filename)
	doc, err := in.capturer.Capture(ctx, pageURL, dest)
	if err != nil {
		return capture.Document{}, fmt.Errorf("capture: %w", err)
	}

	srv, err := in.serve(in.stagingDir, in.startPort)
	if err != nil {
		return doc, fmt.Errorf("transfer server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	localURL := srv.URL(filename)
	req := connector.SnapshotRequest{
		URL:         localURL,
		Title:       title,
		Filename:    filename,
		ContentType: "application/pdf",
		ItemType:    zotero.KindAttachment,
	}
	if err := in.connector.SaveSnapshot(ctx, req); err != nil {
		return doc, fmt.Errorf("requesting attachment save: %w", err)
	}

	attachmentKey, found, err := in.resolver.FindItemByURL(ctx, localURL, zotero.KindAttachment, in.policy)
	if err != nil {
		return doc, err
	}
	if !found {
		return doc, fmt.Errorf("attachment for %s never appeared in the library", filename)
	}
	report.AttachmentKey = attachmentKey

	if !in.linker.LinkAttachment(ctx, localURL, itemKey, in.linkPolicy()) {
		return doc, fmt.Errorf("attachment %s could not be linked to %s", attachmentKey, itemKey)
	}

	if err := in.restoreAttachment(ctx, attachmentKey, pageURL, filename); err != nil {
		return doc, fmt.Errorf("restoring attachment record: %w", err)
	}

	in.cleanupDuplicates(ctx, localURL, itemKey)
	return doc, nil
}

// restoreAttachment swaps the transfer URL on the attachment record for the
// real page URL and pins the filename to the staged capture. Without this
// the record would keep pointing at a server that no longer exists.
func (in *Ingestor) restoreAttachment(ctx context.Context, key, pageURL, filename string) error {
	item, err := in.library.Item(ctx, key)
	if err != nil {
		return err
	}
	item.Data.URL = pageURL
	item.Data.Filename = filename
	envelope, err := in.library.UpdateItem(ctx, item)
	if err != nil {
		return err
	}
	if _, err := zotero.ExtractKey(envelope); err != nil {
		return fmt.Errorf("update not confirmed: %w", err)
	}
	return nil
}

// writeMetadata folds the captured page metadata into the record's extra
// field and fills in a missing title.
func (in *Ingestor) writeMetadata(ctx context.Context, itemKey, title string, meta map[string]string) error {
	item, err := in.library.Item(ctx, itemKey)
	if err != nil {
		return err
	}
	item.Data.Extra = in.formatExtra(meta)
	if item.Data.Title == "" {
		item.Data.Title = title
	}
	if item.Data.AccessDate == "" {
		item.Data.AccessDate = meta["accessDate"]
	}
	envelope, err := in.library.UpdateItem(ctx, item)
	if err != nil {
		return err
	}
	if _, err := zotero.ExtractKey(envelope); err != nil {
		return fmt.Errorf("update not confirmed: %w", err)
	}
	return nil
}

func (in *Ingestor) runFromReport(r Report, kind, source string, started time.Time, detail string) history.Run {
	return history.Run{
		ID:                r.RunID,
		Kind:              kind,
		Source:            source,
		ItemKey:           r.ItemKey,
		AttachmentKey:     r.AttachmentKey,
		TagsApplied:       r.Tags.OK,
		CollectionApplied: r.Collection.OK,
		PlacedPath:        r.PlacedPath,
		Status:            r.Status,
		Detail:            detail,
		CreatedAt:         started,
	}
}

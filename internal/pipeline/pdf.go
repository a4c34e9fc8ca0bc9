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

// SavePDF ingests a PDF already on disk: serve it over the local transfer
// server, ask the connector to save it as a standalone attachment, wait for
// the record to materialize, then strip the transfer URL from the record,
// apply tags and collection membership, and place a copy into storage. The
// source file is kept.
func (in *Ingestor) SavePDF(ctx context.Context, path string, opts Options) (Report, error) {
	report := Report{RunID: newRunID()}
	started := time.Now()
	var notes []string

	fail := func(err error) (Report, error) {
		report.Status = history.StatusFailed
		in.record(in.runFromReport(report, history.KindPDF, path, started, err.Error()))
		return report, err
	}

	doc, err := capture.FromPDF(path)
	if err != nil {
		return fail(err)
	}

	if err := in.connector.EnsureRunning(ctx); err != nil {
		return fail(err)
	}

	srv, err := in.serve(filepath.Dir(path), in.startPort)
	if err != nil {
		return fail(fmt.Errorf("transfer server: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	filename := filepath.Base(path)
	localURL := srv.URL(filename)
	req := connector.SnapshotRequest{
		URL:         localURL,
		Title:       doc.Title,
		Filename:    filename,
		ContentType: "application/pdf",
		ItemType:    zotero.KindAttachment,
	}
	if err := in.connector.SaveSnapshot(ctx, req); err != nil {
		return fail(fmt.Errorf("requesting attachment save: %w", err))
	}

	key, found, err := in.resolver.FindItemByURL(ctx, localURL, zotero.KindAttachment, in.policy)
	if err != nil {
		return fail(err)
	}
	if !found {
		return fail(fmt.Errorf("record for %s never appeared in the library", filename))
	}
	report.ItemKey = key
	report.AttachmentKey = key
	in.logger.Info("record materialized", "key", key, "file", filename)

	if err := in.restoreRecord(ctx, key, doc, filename); err != nil {
		in.logger.Warn("restoring record failed", "key", key, "error", err)
		notes = append(notes, fmt.Sprintf("restore: %v", err))
	}

	in.finish(ctx, key, path, key, doc.Captured, opts, &report)

	report.Status = status(report)
	in.record(in.runFromReport(report, history.KindPDF, path, started, strings.Join(notes, "; ")))
	return report, nil
}

// restoreRecord clears the transfer URL the connector stored on the record
// and puts the real title and filename back.
func (in *Ingestor) restoreRecord(ctx context.Context, key string, doc capture.Document, filename string) error {
	item, err := in.library.Item(ctx, key)
	if err != nil {
		return err
	}
	item.Data.URL = ""
	item.Data.Title = doc.Title
	item.Data.Filename = filename
	if item.Data.AccessDate == "" {
		item.Data.AccessDate = doc.Metadata["accessDate"]
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

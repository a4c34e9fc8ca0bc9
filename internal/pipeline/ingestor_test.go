package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zotsnap/zotsnap/internal/capture"
	"github.com/zotsnap/zotsnap/internal/connector"
	"github.com/zotsnap/zotsnap/internal/history"
	"github.com/zotsnap/zotsnap/internal/retry"
	"github.com/zotsnap/zotsnap/internal/vault"
	"github.com/zotsnap/zotsnap/internal/zotero"
)

// fakeLibrary is an in-memory Library whose records the fake connector
// populates, the way the real application materializes saves.
type fakeLibrary struct {
	mu          sync.Mutex
	items       []zotero.Item
	collections []zotero.Collection
	deleted     []string
	nextKey     int
}

func (l *fakeLibrary) add(data zotero.ItemData, numChildren int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextKey++
	key := fmt.Sprintf("KEY%05d", l.nextKey)
	l.items = append(l.items, zotero.Item{
		Key:     key,
		Version: 1,
		Meta:    zotero.ItemMeta{NumChildren: numChildren},
		Data:    data,
	})
	return key
}

func (l *fakeLibrary) RecentItems(ctx context.Context, limit int) ([]zotero.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]zotero.Item, len(l.items))
	copy(out, l.items)
	return out, nil
}

func (l *fakeLibrary) Item(ctx context.Context, key string) (zotero.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.Key == key {
			return it, nil
		}
	}
	return zotero.Item{}, errors.New("item not found")
}

func (l *fakeLibrary) UpdateItem(ctx context.Context, item zotero.Item) (map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].Key == item.Key {
			l.items[i].Data = item.Data
			l.items[i].Version++
		}
	}
	return map[string]any{
		"success":   map[string]any{"0": item.Key},
		"unchanged": []any{},
		"failed":    map[string]any{},
	}, nil
}

func (l *fakeLibrary) DeleteItem(ctx context.Context, item zotero.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].Key == item.Key {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	l.deleted = append(l.deleted, item.Key)
	return nil
}

func (l *fakeLibrary) Collections(ctx context.Context) ([]zotero.Collection, error) {
	return l.collections, nil
}

// fakeConnector records save requests and immediately materializes the
// corresponding records in the library.
type fakeConnector struct {
	lib     *fakeLibrary
	saves   []connector.SnapshotRequest
	downErr error
	// mute stops record materialization, simulating saves that never land.
	mute bool
}

func (c *fakeConnector) EnsureRunning(ctx context.Context) error {
	return c.downErr
}

func (c *fakeConnector) SaveSnapshot(ctx context.Context, snap connector.SnapshotRequest) error {
	c.saves = append(c.saves, snap)
	if c.mute {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if snap.ItemType == zotero.KindAttachment {
		// Saving a file URL creates a parent webpage record plus the
		// attachment itself.
		c.lib.add(zotero.ItemData{
			ItemType:     zotero.KindWebpage,
			Title:        snap.Title,
			URL:          snap.URL,
			DateModified: now,
		}, 0)
		c.lib.add(zotero.ItemData{
			ItemType:     zotero.KindAttachment,
			Title:        snap.Title,
			URL:          snap.URL,
			Filename:     snap.Filename,
			ContentType:  snap.ContentType,
			DateModified: now,
		}, 0)
		return nil
	}
	c.lib.add(zotero.ItemData{
		ItemType:     zotero.KindWebpage,
		Title:        snap.Title,
		URL:          snap.URL,
		DateModified: now,
	}, 0)
	return nil
}

// fakeCapturer writes a placeholder PDF to the destination path.
type fakeCapturer struct {
	err error
}

func (c fakeCapturer) Capture(ctx context.Context, pageURL, destPath string) (capture.Document, error) {
	if c.err != nil {
		return capture.Document{}, c.err
	}
	if err := os.WriteFile(destPath, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		return capture.Document{}, err
	}
	return capture.Document{
		SourcePath: destPath,
		Title:      "Captured Page",
		Captured:   true,
	}, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Delay: time.Second, Sleeper: retry.NopSleeper}
}

func testIngestor(t *testing.T, lib *fakeLibrary, conn *fakeConnector, capt capture.Capturer) *Ingestor {
	t.Helper()
	staging := t.TempDir()
	storageRoot := t.TempDir()

	in := New(Config{
		Connector:  conn,
		Library:    lib,
		Capturer:   capt,
		Vault:      vault.New(storageRoot),
		StagingDir: staging,
		Policy:     fastPolicy(),
		Version:    "v1.0.0-test",
	})
	in.fetchMeta = func(ctx context.Context, url string) (map[string]string, error) {
		return map[string]string{
			"title":      "Captured Page",
			"domain":     "example.com",
			"author":     "A. Writer",
			"accessDate": "2026-03-01T12:00:00Z",
			"url":        url,
		}, nil
	}
	return in
}

func TestSaveURLFullRun(t *testing.T) {
	lib := &fakeLibrary{}
	conn := &fakeConnector{lib: lib}
	lib.collections = []zotero.Collection{{Key: "COLL001"}}
	lib.collections[0].Data.Key = "COLL001"
	lib.collections[0].Data.Name = "Reading"

	in := testIngestor(t, lib, conn, fakeCapturer{})

	report, err := in.SaveURL(context.Background(), "https://example.com/article", Options{
		Tags:           []string{"toread"},
		CollectionName: "Reading",
	})
	if err != nil {
		t.Fatalf("SaveURL: %v", err)
	}

	if report.ItemKey == "" {
		t.Fatal("expected an item key")
	}
	if report.AttachmentKey == "" {
		t.Fatal("expected an attachment key")
	}
	if !report.Tags.OK {
		t.Errorf("tags failed: %s", report.Tags.Reason)
	}
	if !report.Collection.OK {
		t.Errorf("collection failed: %s", report.Collection.Reason)
	}
	if report.Status != history.StatusCompleted {
		t.Errorf("status = %q, want completed", report.Status)
	}

	// The attachment must be parented under the webpage record.
	att, err := lib.Item(context.Background(), report.AttachmentKey)
	if err != nil {
		t.Fatalf("fetching attachment: %v", err)
	}
	if att.Data.ParentItem != report.ItemKey {
		t.Errorf("attachment parent = %q, want %q", att.Data.ParentItem, report.ItemKey)
	}

	// Metadata must land in the record's extra field.
	page, err := lib.Item(context.Background(), report.ItemKey)
	if err != nil {
		t.Fatalf("fetching item: %v", err)
	}
	if !strings.Contains(page.Data.Extra, "author: A. Writer") {
		t.Errorf("extra missing metadata: %q", page.Data.Extra)
	}
	if !strings.Contains(page.Data.Extra, "Saved with zotsnap v1.0.0-test") {
		t.Errorf("extra missing version line: %q", page.Data.Extra)
	}

	// The placed file and sentinel must exist; the staging copy is gone.
	if report.PlacedPath == "" {
		t.Fatal("expected a placed path")
	}
	if _, err := os.Stat(report.PlacedPath); err != nil {
		t.Errorf("placed file missing: %v", err)
	}
	sentinel := filepath.Join(filepath.Dir(report.PlacedPath), vault.SentinelFile)
	if _, err := os.Stat(sentinel); err != nil {
		t.Errorf("sentinel missing: %v", err)
	}
	if entries, _ := os.ReadDir(in.stagingDir); len(entries) != 0 {
		t.Errorf("staging dir not cleaned: %d entries left", len(entries))
	}

	// The childless webpage record for the transfer URL must have been
	// deleted.
	if len(lib.deleted) != 1 {
		t.Errorf("deleted %d records, want 1", len(lib.deleted))
	}
}

func TestSaveURLAttachmentURLRestored(t *testing.T) {
	lib := &fakeLibrary{}
	conn := &fakeConnector{lib: lib}
	in := testIngestor(t, lib, conn, fakeCapturer{})

	pageURL := "https://example.com/article"
	report, err := in.SaveURL(context.Background(), pageURL, Options{})
	if err != nil {
		t.Fatalf("SaveURL: %v", err)
	}

	att, err := lib.Item(context.Background(), report.AttachmentKey)
	if err != nil {
		t.Fatalf("fetching attachment: %v", err)
	}
	// The transfer server is gone after the save; the record must point at
	// the real page, not at the loopback URL it was fetched through.
	if att.Data.URL != pageURL {
		t.Errorf("attachment url = %q, want %q", att.Data.URL, pageURL)
	}
	if strings.Contains(att.Data.Filename, "localhost") || att.Data.Filename == "" {
		t.Errorf("attachment filename = %q, want the staged capture name", att.Data.Filename)
	}
	if att.Data.ParentItem != report.ItemKey {
		t.Errorf("restore must keep the parent, got %q", att.Data.ParentItem)
	}
}

func TestSaveURLConnectorDown(t *testing.T) {
	lib := &fakeLibrary{}
	conn := &fakeConnector{lib: lib, downErr: errors.New("Zotero is not running")}
	in := testIngestor(t, lib, conn, fakeCapturer{})

	report, err := in.SaveURL(context.Background(), "https://example.com", Options{})
	if err == nil {
		t.Fatal("expected error when the application is down")
	}
	if report.Status != history.StatusFailed {
		t.Errorf("status = %q, want failed", report.Status)
	}
	if len(conn.saves) != 0 {
		t.Errorf("no save should be requested, got %d", len(conn.saves))
	}
}

func TestSaveURLRecordNeverAppears(t *testing.T) {
	lib := &fakeLibrary{}
	conn := &fakeConnector{lib: lib, mute: true}
	in := testIngestor(t, lib, conn, fakeCapturer{})

	report, err := in.SaveURL(context.Background(), "https://example.com", Options{})
	if err == nil {
		t.Fatal("expected error when the record never materializes")
	}
	if report.ItemKey != "" {
		t.Errorf("item key = %q, want empty", report.ItemKey)
	}
	if report.Status != history.StatusFailed {
		t.Errorf("status = %q, want failed", report.Status)
	}
}

func TestSaveURLCaptureFailureDegrades(t *testing.T) {
	lib := &fakeLibrary{}
	conn := &fakeConnector{lib: lib}
	in := testIngestor(t, lib, conn, fakeCapturer{err: errors.New("renderer crashed")})

	report, err := in.SaveURL(context.Background(), "https://example.com/article", Options{Tags: []string{"toread"}})
	if err != nil {
		t.Fatalf("a capture failure must degrade, not fail: %v", err)
	}
	if report.ItemKey == "" {
		t.Fatal("expected the webpage record to exist")
	}
	if report.AttachmentKey != "" {
		t.Errorf("attachment key = %q, want empty", report.AttachmentKey)
	}
	if !report.Tags.OK {
		t.Errorf("tags must still apply: %s", report.Tags.Reason)
	}
	if report.Status != history.StatusPartial {
		t.Errorf("status = %q, want partial", report.Status)
	}
}

func TestSaveURLRecordsHistory(t *testing.T) {
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("opening history: %v", err)
	}
	defer store.Close()

	lib := &fakeLibrary{}
	conn := &fakeConnector{lib: lib}
	in := testIngestor(t, lib, conn, fakeCapturer{})
	in.history = store

	report, err := in.SaveURL(context.Background(), "https://example.com/article", Options{})
	if err != nil {
		t.Fatalf("SaveURL: %v", err)
	}

	run, err := store.GetRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Kind != history.KindURL {
		t.Errorf("kind = %q", run.Kind)
	}
	if run.Source != "https://example.com/article" {
		t.Errorf("source = %q", run.Source)
	}
	if run.ItemKey != report.ItemKey || run.AttachmentKey != report.AttachmentKey {
		t.Errorf("run keys %q/%q do not match report", run.ItemKey, run.AttachmentKey)
	}
	if run.Status != report.Status {
		t.Errorf("run status = %q, report %q", run.Status, report.Status)
	}
}

func TestSavePDFFullRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep learning survey.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 content"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := &fakeLibrary{}
	conn := &fakeConnector{lib: lib}
	in := testIngestor(t, lib, conn, fakeCapturer{})

	report, err := in.SavePDF(context.Background(), path, Options{Tags: []string{"ml"}})
	if err != nil {
		t.Fatalf("SavePDF: %v", err)
	}

	if report.ItemKey == "" || report.AttachmentKey != report.ItemKey {
		t.Fatalf("want item and attachment to be the same record, got %q/%q", report.ItemKey, report.AttachmentKey)
	}
	if report.Status != history.StatusCompleted {
		t.Errorf("status = %q, want completed", report.Status)
	}

	// The transfer URL must be cleared and the real filename restored.
	item, err := lib.Item(context.Background(), report.ItemKey)
	if err != nil {
		t.Fatalf("fetching item: %v", err)
	}
	if item.Data.URL != "" {
		t.Errorf("record URL = %q, want cleared", item.Data.URL)
	}
	if item.Data.Filename != "deep learning survey.pdf" {
		t.Errorf("filename = %q", item.Data.Filename)
	}
	if item.Data.Title != "deep learning survey" {
		t.Errorf("title = %q, want filename stem", item.Data.Title)
	}

	// A copy is placed; the user's file stays where it was.
	if _, err := os.Stat(report.PlacedPath); err != nil {
		t.Errorf("placed file missing: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("source file must be kept: %v", err)
	}
}

func TestSavePDFMissingFile(t *testing.T) {
	lib := &fakeLibrary{}
	conn := &fakeConnector{lib: lib}
	in := testIngestor(t, lib, conn, fakeCapturer{})

	_, err := in.SavePDF(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"), Options{})
	if err == nil {
		t.Fatal("expected error for a missing file")
	}
}

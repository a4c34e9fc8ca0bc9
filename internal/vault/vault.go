// Package vault performs the final, durable placement of a captured file
// into the Zotero storage layout: one subdirectory per attachment key,
// holding the file under its original name plus a sentinel marking it
// ready for full-text indexing.
package vault

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// SentinelFile signals that a placed file is ready for downstream
// indexing. It is always zero bytes.
const SentinelFile = ".zotero-ft-cache"

// Vault places files under a storage root shared with the desktop
// application. Placement is best effort: a failed precondition degrades to
// leaving the file where it is rather than failing the ingestion.
type Vault struct {
	root   string
	logger *slog.Logger
}

// New creates a Vault over the given storage root. The root is not
// created: it belongs to the desktop application, and its absence means
// placement should be skipped.
func New(root string) *Vault {
	return &Vault{root: root, logger: slog.Default()}
}

// Root returns the storage root path.
func (v *Vault) Root() string {
	return v.root
}

// Place copies the file at path into <root>/<recordKey>/ under its
// original filename and touches the sentinel. The desktop indexer matches
// by filename, so the file is never renamed. When wasCaptured is true the
// staging file is deleted after a successful copy; a pre-existing user
// file is always preserved.
//
// Missing source or missing root returns path unchanged. The copy
// overwrites, so a retried placement is safe.
func (v *Vault) Place(path, recordKey string, wasCaptured bool) string {
	if _, err := os.Stat(path); err != nil {
		v.logger.Error("file to place not found", "path", path, "error", err)
		return path
	}
	if _, err := os.Stat(v.root); err != nil {
		v.logger.Error("storage root does not exist", "root", v.root, "error", err)
		return path
	}

	dir := filepath.Join(v.root, recordKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		v.logger.Error("creating storage subdirectory failed", "dir", dir, "error", err)
		return path
	}

	final := filepath.Join(dir, filepath.Base(path))
	if err := copyFile(path, final); err != nil {
		v.logger.Error("copying file to storage failed", "dest", final, "error", err)
		return path
	}

	if err := touch(filepath.Join(dir, SentinelFile)); err != nil {
		v.logger.Warn("writing sentinel failed", "dir", dir, "error", err)
	}

	if wasCaptured {
		if err := os.Remove(path); err != nil {
			v.logger.Warn("could not remove staging file", "path", path, "error", err)
		} else {
			v.logger.Info("staging file removed", "path", path)
		}
	} else {
		v.logger.Info("original file preserved", "path", path)
	}

	v.logger.Info("file placed in storage", "path", final)
	return final
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	return out.Close()
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

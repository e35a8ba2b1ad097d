// Package walker turns configured roots into ordered entity streams and decides
// which of them the collector still needs.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

// IncompleteWalkError reports a root whose walk skipped nodes it could not read.
// Paths of such a root are exempt from deletion reconciliation for the cycle.
type IncompleteWalkError struct {
	Root     string
	Failures int
	First    error
}

func (e *IncompleteWalkError) Error() string {
	return fmt.Sprintf("walk of root %q incomplete: %d unreadable entries, first: %v", e.Root, e.Failures, e.First)
}

func (e *IncompleteWalkError) Unwrap() error { return e.First }

// Walker builds entities from the local filesystem.
type Walker struct {
	ClientID string
	Logger   *slog.Logger
}

// New creates a Walker stamping entities with clientID.
func New(clientID string, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{ClientID: clientID, Logger: logger}
}

// Walk visits root in lexical pre-order and calls fn for every folder and
// regular file, the root folder first. A folder is always passed to fn before
// any of its descendants. Entities carry metadata only; see LoadContent.
//
// Entries matched by the root's ignore file, symlinks and special files are
// skipped. Entries that vanish during the walk are skipped silently. Any other
// per-entry error is logged and the walk carries on; Walk then returns an
// *IncompleteWalkError once it has finished. An error returned by fn, or a
// cancelled ctx, aborts the walk and is returned as is.
func (w *Walker) Walk(ctx context.Context, root lib.Root, fn func(types.Entity) error) error {
	// WalkDir does not follow a symlinked root, so resolve it first.
	base, err := filepath.EvalSymlinks(root.Path)
	if err != nil {
		return &IncompleteWalkError{Root: root.Label, Failures: 1, First: err}
	}
	info, err := os.Stat(base)
	if err != nil {
		return &IncompleteWalkError{Root: root.Label, Failures: 1, First: err}
	}
	if !info.IsDir() {
		return &IncompleteWalkError{Root: root.Label, Failures: 1, First: fmt.Errorf("%s is not a directory", root.Path)}
	}

	ignore := lib.LoadIgnoreMatcher(base)
	var failures int
	var firstFailure error
	fail := func(path string, err error) {
		w.Logger.Warn("skipping unreadable entry", "root", root.Label, "path", path, "error", err)
		failures++
		if firstFailure == nil {
			firstFailure = err
		}
	}

	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			fail(path, err)
			if d != nil && d.IsDir() && path != base {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			fail(path, err)
			return nil
		}
		rel = filepath.ToSlash(rel)

		// --- Filtering ---
		if ignore.Ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			w.Logger.Debug("skipping non-regular entry", "root", root.Label, "path", path, "type", d.Type().String())
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				fail(path, err)
			}
			return nil
		}

		return fn(w.entity(root, path, rel, info))
	})
	if err != nil {
		return err
	}
	if failures > 0 {
		return &IncompleteWalkError{Root: root.Label, Failures: failures, First: firstFailure}
	}
	return nil
}

func (w *Walker) entity(root lib.Root, localPath, rel string, info fs.FileInfo) types.Entity {
	e := types.Entity{
		Kind:         types.KindFile,
		Name:         info.Name(),
		LocalPath:    localPath,
		RelativePath: rel,
		CreatedAt:    createdAt(info).UTC(),
		ModifiedAt:   info.ModTime().UTC(),
		ClientID:     w.ClientID,
		RootLabel:    root.Label,
	}
	if info.IsDir() {
		e.Kind = types.KindFolder
	} else {
		e.Size = info.Size()
	}
	return e
}

// LoadContent reads the content of a file entity and fills Content, Size and
// Digest. Folders and tombstones are returned unchanged.
func LoadContent(e types.Entity) (types.Entity, error) {
	if !e.IsFile() || e.Deleted {
		return e, nil
	}
	content, err := os.ReadFile(e.LocalPath)
	if err != nil {
		return e, fmt.Errorf("read %s: %w", e.LocalPath, err)
	}
	e.Content = content
	e.Size = int64(len(content))
	e.Digest = lib.GetHash(content)
	return e, nil
}

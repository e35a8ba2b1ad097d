// Package collector receives entities from agents and mirrors them on disk,
// one directory tree per client and root.
package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

// ErrUnsafePath is returned for entities whose destination would escape the
// client's mirror.
var ErrUnsafePath = errors.New("unsafe destination path")

// Mirror applies entities to a backup tree laid out as
// <Root>/<client id>/<root label>/<relative path>.
//
// Every operation is idempotent, so a message delivered twice has the same
// effect as once. Concurrent writers to the same destination are not
// serialized; the last write wins.
type Mirror struct {
	Fs   afero.Fs
	Root string
}

// NewMirror creates a Mirror rooted at root on fs.
func NewMirror(fs afero.Fs, root string) *Mirror {
	return &Mirror{Fs: fs, Root: root}
}

// Destination returns where e lives in the mirror.
func (m *Mirror) Destination(e types.Entity) (string, error) {
	if !lib.ValidPathComponent(e.ClientID) {
		return "", fmt.Errorf("%w: client id %q", ErrUnsafePath, e.ClientID)
	}
	if !lib.ValidPathComponent(e.RootLabel) {
		return "", fmt.Errorf("%w: root label %q", ErrUnsafePath, e.RootLabel)
	}
	base := filepath.Join(m.Root, e.ClientID, e.RootLabel)
	if e.RelativePath == "." {
		return base, nil
	}
	rel := filepath.FromSlash(e.RelativePath)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: relative path %q", ErrUnsafePath, e.RelativePath)
	}
	return filepath.Join(base, rel), nil
}

// Apply makes the mirror reflect e. A failed apply is not rolled back.
func (m *Mirror) Apply(e types.Entity) error {
	dest, err := m.Destination(e)
	if err != nil {
		return err
	}

	switch {
	case e.IsFolder() && !e.Deleted:
		return m.createFolder(dest)
	case e.IsFolder():
		return m.removeFolder(dest)
	case e.IsFile() && !e.Deleted:
		return m.writeFile(dest, e)
	case e.IsFile():
		return m.removeFile(dest)
	default:
		return fmt.Errorf("unknown entity kind %d", e.Kind)
	}
}

func (m *Mirror) createFolder(dest string) error {
	// A file previously mirrored under the same name gives way to the folder.
	if info, err := m.Fs.Stat(dest); err == nil && !info.IsDir() {
		if err := m.Fs.Remove(dest); err != nil {
			return err
		}
	}
	return m.Fs.MkdirAll(dest, 0755)
}

func (m *Mirror) writeFile(dest string, e types.Entity) error {
	if err := m.Fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	info, err := m.Fs.Stat(dest)
	switch {
	case err == nil && info.IsDir():
		if err := m.Fs.RemoveAll(dest); err != nil {
			return err
		}
	case err == nil && info.Size() == int64(len(e.Content)) && m.sameContent(dest, e.Digest):
		// Content already there, typically a resend after a lost ack.
		return m.Fs.Chtimes(dest, e.ModifiedAt, e.ModifiedAt)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return err
	}

	if err := lib.WriteFileAtomic(m.Fs, dest, e.Content, 0644); err != nil {
		return err
	}
	return m.Fs.Chtimes(dest, e.ModifiedAt, e.ModifiedAt)
}

func (m *Mirror) sameContent(dest, digest string) bool {
	f, err := m.Fs.Open(dest)
	if err != nil {
		return false
	}
	defer f.Close()
	existing, err := lib.GetReaderHash(f)
	return err == nil && existing == digest
}

func (m *Mirror) removeFolder(dest string) error {
	info, err := m.Fs.Stat(dest)
	if err != nil {
		if absent(err) {
			return nil
		}
		return err
	}
	// A file now owns this name; its own messages manage it.
	if !info.IsDir() {
		return nil
	}
	return m.Fs.RemoveAll(dest)
}

func (m *Mirror) removeFile(dest string) error {
	info, err := m.Fs.Stat(dest)
	if err != nil {
		if absent(err) {
			return nil
		}
		return err
	}
	// A folder now owns this name; its own messages manage it.
	if info.IsDir() {
		return nil
	}
	return m.Fs.Remove(dest)
}

// absent reports whether a stat error means nothing is at the path, including
// when a parent component has since become a file.
func absent(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

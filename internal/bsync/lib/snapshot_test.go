package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

func sampleSnapshotEntity(localPath, rel string, kind types.Kind) types.Entity {
	mtime := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)
	return types.Entity{
		Kind:         kind,
		Name:         filepath.Base(localPath),
		LocalPath:    localPath,
		RelativePath: rel,
		CreatedAt:    mtime.Add(-time.Hour),
		ModifiedAt:   mtime,
		ClientID:     "laptop",
		RootLabel:    "docs",
	}
}

func TestSnapshotPersistence(t *testing.T) {
	t.Run("should reload a snapshot of a very large tree", func(t *testing.T) {
		// Arrange: more entries than a default CBOR decoder accepts in one map.
		const entries = 140_000
		statePath := filepath.Join(t.TempDir(), "client_state")
		s := NewSnapshot()
		for i := 0; i < entries; i++ {
			rel := fmt.Sprintf("d%03d/f%06d.txt", i%1000, i)
			s.Put(sampleSnapshotEntity("/home/u/docs/"+rel, rel, types.KindFile))
		}

		// Act
		require.NoError(t, s.Save(statePath))
		loaded, err := LoadSnapshot(statePath)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, entries, loaded.Len())
		_, ok := loaded.Get("/home/u/docs/d999/f139999.txt")
		assert.True(t, ok)
	})

	t.Run("should round trip entries without content", func(t *testing.T) {
		// Arrange
		statePath := filepath.Join(t.TempDir(), "app_data", "client_state")
		s := NewSnapshot()
		folder := sampleSnapshotEntity("/home/u/docs", ".", types.KindFolder)
		file := sampleSnapshotEntity("/home/u/docs/a.txt", "a.txt", types.KindFile)
		file.Content = []byte("hello")
		file.Size = 5
		file.Digest = GetHash(file.Content)
		s.Put(folder)
		s.Put(file)
		require.True(t, s.Dirty())

		// Act
		require.NoError(t, s.Save(statePath))
		loaded, err := LoadSnapshot(statePath)

		// Assert
		require.NoError(t, err)
		assert.False(t, s.Dirty(), "Save should clear the dirty flag")
		assert.False(t, loaded.Dirty())
		assert.Equal(t, []string{"/home/u/docs", "/home/u/docs/a.txt"}, loaded.Paths())

		got, ok := loaded.Get("/home/u/docs/a.txt")
		require.True(t, ok)
		assert.Equal(t, "/home/u/docs/a.txt", got.LocalPath)
		assert.Nil(t, got.Content, "content is never persisted")
		assert.Equal(t, file.Digest, got.Digest)
		assert.True(t, got.ModifiedAt.Equal(file.ModifiedAt), "modification time keeps nanoseconds")
	})

	t.Run("should return an empty snapshot for a missing file", func(t *testing.T) {
		s, err := LoadSnapshot(filepath.Join(t.TempDir(), "absent"))
		require.NoError(t, err)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("should fall back to empty on a corrupt file", func(t *testing.T) {
		statePath := filepath.Join(t.TempDir(), "client_state")
		require.NoError(t, os.WriteFile(statePath, []byte("definitely not cbor \xff\x00"), 0600))

		s, err := LoadSnapshot(statePath)

		assert.ErrorIs(t, err, ErrCorruptSnapshot)
		require.NotNil(t, s)
		assert.Equal(t, 0, s.Len())
	})
}

func TestSnapshotMutations(t *testing.T) {
	s := NewSnapshot()
	a := sampleSnapshotEntity("/r/docs/a.txt", "a.txt", types.KindFile)
	b := sampleSnapshotEntity("/r/pics/b.jpg", "b.jpg", types.KindFile)
	b.RootLabel = "pics"
	s.Put(a)
	s.Put(b)

	t.Run("MarkDeleted flags and Put clears", func(t *testing.T) {
		s.MarkDeleted(a.LocalPath)
		got, _ := s.Get(a.LocalPath)
		assert.True(t, got.Deleted)

		s.Put(a)
		got, _ = s.Get(a.LocalPath)
		assert.False(t, got.Deleted)
	})

	t.Run("MarkDeleted on an unknown path is a no-op", func(t *testing.T) {
		s.MarkDeleted("/nowhere")
		_, ok := s.Get("/nowhere")
		assert.False(t, ok)
	})

	t.Run("RemoveRoot drops only that root", func(t *testing.T) {
		assert.Equal(t, 1, s.RemoveRoot("pics"))
		assert.Equal(t, []string{a.LocalPath}, s.Paths())
	})

	t.Run("Remove and Clear", func(t *testing.T) {
		s.Put(b)
		s.Remove(a.LocalPath)
		assert.Equal(t, 1, s.Len())
		s.Clear()
		assert.Equal(t, 0, s.Len())
	})
}

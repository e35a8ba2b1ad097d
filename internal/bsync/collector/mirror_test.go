package collector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

var mtime = time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

func folderEntity(rel string) types.Entity {
	return types.Entity{
		Kind:         types.KindFolder,
		Name:         filepath.Base(rel),
		RelativePath: rel,
		ModifiedAt:   mtime,
		ClientID:     "laptop",
		RootLabel:    "docs",
	}
}

func fileEntity(rel, content string) types.Entity {
	return types.Entity{
		Kind:         types.KindFile,
		Name:         filepath.Base(rel),
		RelativePath: rel,
		ModifiedAt:   mtime,
		ClientID:     "laptop",
		RootLabel:    "docs",
		Size:         int64(len(content)),
		Digest:       lib.GetHash([]byte(content)),
		Content:      []byte(content),
	}
}

func newMemMirror() *Mirror {
	return NewMirror(afero.NewMemMapFs(), "/backup")
}

func readMirror(t *testing.T, m *Mirror, rel string) string {
	t.Helper()
	data, err := afero.ReadFile(m.Fs, filepath.Join("/backup/laptop/docs", rel))
	require.NoError(t, err)
	return string(data)
}

func TestMirrorDestination(t *testing.T) {
	m := newMemMirror()

	testCases := []struct {
		name    string
		mutate  func(e *types.Entity)
		want    string
		wantErr bool
	}{
		{name: "root folder", mutate: func(e *types.Entity) { e.RelativePath = "." }, want: "/backup/laptop/docs"},
		{name: "nested file", mutate: func(e *types.Entity) { e.RelativePath = "a/b.txt" }, want: "/backup/laptop/docs/a/b.txt"},
		{name: "parent traversal", mutate: func(e *types.Entity) { e.RelativePath = "../../etc/passwd" }, wantErr: true},
		{name: "inner traversal", mutate: func(e *types.Entity) { e.RelativePath = "a/../../x" }, wantErr: true},
		{name: "absolute path", mutate: func(e *types.Entity) { e.RelativePath = "/etc/passwd" }, wantErr: true},
		{name: "empty path", mutate: func(e *types.Entity) { e.RelativePath = "" }, wantErr: true},
		{name: "client id traversal", mutate: func(e *types.Entity) { e.ClientID = ".." }, wantErr: true},
		{name: "client id with separator", mutate: func(e *types.Entity) { e.ClientID = "a/b" }, wantErr: true},
		{name: "root label traversal", mutate: func(e *types.Entity) { e.RootLabel = ".." }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := fileEntity("x", "x")
			tc.mutate(&e)

			got, err := m.Destination(e)

			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnsafePath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tc.want), got)
		})
	}
}

func TestMirrorApply(t *testing.T) {
	t.Run("should write the same file twice with identical results", func(t *testing.T) {
		// Arrange
		m := newMemMirror()
		e := fileEntity("notes/a.txt", "hello")

		// Act
		require.NoError(t, m.Apply(e))
		require.NoError(t, m.Apply(e))

		// Assert
		assert.Equal(t, "hello", readMirror(t, m, "notes/a.txt"))
		info, err := m.Fs.Stat("/backup/laptop/docs/notes/a.txt")
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(mtime))
	})

	t.Run("should replace content on update", func(t *testing.T) {
		m := newMemMirror()
		require.NoError(t, m.Apply(fileEntity("a.txt", "hello")))

		require.NoError(t, m.Apply(fileEntity("a.txt", "world")))

		assert.Equal(t, "world", readMirror(t, m, "a.txt"))
	})

	t.Run("should treat deleting an absent path as a no-op", func(t *testing.T) {
		m := newMemMirror()
		require.NoError(t, m.Apply(fileEntity("a.txt", "hello")))

		tombstone := fileEntity("a.txt", "hello").Tombstone()
		require.NoError(t, m.Apply(tombstone))
		require.NoError(t, m.Apply(tombstone))
		require.NoError(t, m.Apply(folderEntity("never/existed").Tombstone()))

		_, err := m.Fs.Stat("/backup/laptop/docs/a.txt")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("should remove folders recursively", func(t *testing.T) {
		m := newMemMirror()
		require.NoError(t, m.Apply(folderEntity("old")))
		require.NoError(t, m.Apply(fileEntity("old/x.txt", "x")))

		require.NoError(t, m.Apply(folderEntity("old").Tombstone()))

		exists, err := afero.DirExists(m.Fs, "/backup/laptop/docs/old")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("should swap a file for a folder of the same name", func(t *testing.T) {
		m := newMemMirror()
		require.NoError(t, m.Apply(fileEntity("thing", "was a file")))

		require.NoError(t, m.Apply(folderEntity("thing")))
		require.NoError(t, m.Apply(fileEntity("thing/inner.txt", "now nested")))

		assert.Equal(t, "now nested", readMirror(t, m, "thing/inner.txt"))
	})

	t.Run("should reject traversal without touching the filesystem", func(t *testing.T) {
		m := newMemMirror()

		err := m.Apply(fileEntity("../../escape.txt", "x"))

		assert.ErrorIs(t, err, ErrUnsafePath)
		_, statErr := m.Fs.Stat("/escape.txt")
		assert.ErrorIs(t, statErr, os.ErrNotExist)
	})
}

func TestMirrorOnDisk(t *testing.T) {
	root := t.TempDir()
	m := NewMirror(afero.NewBasePathFs(afero.NewOsFs(), root), string(filepath.Separator))

	require.NoError(t, m.Apply(folderEntity(".")))
	require.NoError(t, m.Apply(fileEntity("a.txt", "hello")))

	data, err := os.ReadFile(filepath.Join(root, "laptop", "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "laptop", "docs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	t.Run("should accept stale tombstones after a folder became a file", func(t *testing.T) {
		// Arrange: folder x with children, then a file x replacing it.
		require.NoError(t, m.Apply(folderEntity("x")))
		require.NoError(t, m.Apply(folderEntity("x/sub")))
		require.NoError(t, m.Apply(fileEntity("x/sub/b.txt", "b")))
		require.NoError(t, m.Apply(fileEntity("x/a.txt", "a")))
		require.NoError(t, m.Apply(fileEntity("x", "now a file")))

		// Act: the old children's tombstones arrive, deepest first.
		for _, e := range []types.Entity{
			fileEntity("x/sub/b.txt", "b").Tombstone(),
			folderEntity("x/sub").Tombstone(),
			fileEntity("x/a.txt", "a").Tombstone(),
		} {
			assert.NoError(t, m.Apply(e), e.DisplayPath())
		}

		// Assert
		data, err := os.ReadFile(filepath.Join(root, "laptop", "docs", "x"))
		require.NoError(t, err)
		assert.Equal(t, "now a file", string(data))
	})
}

package lib

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/afero"

	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

// snapshotVersion is bumped whenever the on-disk layout changes. Files with
// another version are treated like corrupt ones.
const snapshotVersion = 1

// ErrCorruptSnapshot is reported by LoadSnapshot when the state file exists but
// cannot be decoded. The returned snapshot is still usable (and empty).
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	if snapshotEncMode, err = encOptions.EncMode(); err != nil {
		panic("lib: CBOR encoder initialization failed: " + err.Error())
	}
	// A snapshot holds one map pair per synced path, far beyond the decoder's
	// default limits on a large tree.
	decOptions := cbor.DecOptions{
		MaxMapPairs:      math.MaxInt32,
		MaxArrayElements: math.MaxInt32,
	}
	if snapshotDecMode, err = decOptions.DecMode(); err != nil {
		panic("lib: CBOR decoder initialization failed: " + err.Error())
	}
}

// snapshotFile is the persisted form of a Snapshot.
type snapshotFile struct {
	Version  int                     `cbor:"1,keyasint"`
	Entities map[string]types.Entity `cbor:"2,keyasint"`
}

// Snapshot is the agent's record of the last acknowledged state of every local
// path. It only holds metadata; content never outlives a send.
type Snapshot struct {
	mu       sync.RWMutex
	entities map[string]types.Entity
	dirty    bool
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{entities: make(map[string]types.Entity)}
}

// LoadSnapshot reads the snapshot stored at path. A missing file yields an empty
// snapshot and no error. An unreadable or undecodable file also yields an empty
// snapshot, together with an error wrapping ErrCorruptSnapshot so the caller can
// report the forced full resync.
func LoadSnapshot(path string) (*Snapshot, error) {
	s := NewSnapshot()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	var file snapshotFile
	if err := snapshotDecMode.Unmarshal(data, &file); err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if file.Version != snapshotVersion {
		return s, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, file.Version)
	}

	for localPath, e := range file.Entities {
		e.LocalPath = localPath
		s.entities[localPath] = e
	}
	return s, nil
}

// Save writes the snapshot to path atomically and clears the dirty flag.
func (s *Snapshot) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := snapshotEncMode.Marshal(snapshotFile{Version: snapshotVersion, Entities: s.entities})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := WriteFileAtomic(afero.NewOsFs(), path, data, 0600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	s.dirty = false
	return nil
}

// Get returns the entry for localPath.
func (s *Snapshot) Get(localPath string) (types.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[localPath]
	return e, ok
}

// Put records an acknowledged, non-deleted entity under its LocalPath.
func (s *Snapshot) Put(e types.Entity) {
	e = e.Metadata()
	e.Deleted = false

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.LocalPath] = e
	s.dirty = true
}

// Remove drops the entry for localPath, if any.
func (s *Snapshot) Remove(localPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[localPath]; ok {
		delete(s.entities, localPath)
		s.dirty = true
	}
}

// MarkDeleted flags the entry for localPath as a pending deletion. A flagged
// entry is retried by the next cycle whatever its modification time.
func (s *Snapshot) MarkDeleted(localPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[localPath]; ok && !e.Deleted {
		e.Deleted = true
		s.entities[localPath] = e
		s.dirty = true
	}
}

// RemoveRoot drops every entry of the given root label and returns how many
// were removed.
func (s *Snapshot) RemoveRoot(label string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for p, e := range s.entities {
		if e.RootLabel == label {
			delete(s.entities, p)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// Clear drops every entry.
func (s *Snapshot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entities) > 0 {
		s.entities = make(map[string]types.Entity)
		s.dirty = true
	}
}

// Paths returns every local path in the snapshot, sorted.
func (s *Snapshot) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.entities))
	for p := range s.entities {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Entries returns every entry, sorted by local path.
func (s *Snapshot) Entries() []types.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]types.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LocalPath < entries[j].LocalPath
	})
	return entries
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Dirty reports whether the snapshot changed since it was loaded or saved.
func (s *Snapshot) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

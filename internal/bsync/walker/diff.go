package walker

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

// NeedsSync reports whether e must be sent to the collector, given the last
// acknowledged state. It never modifies the snapshot.
//
// An entity needs sending when its path is unknown, when the stored entry is a
// pending deletion, or when its kind, destination or modification time differ
// from the stored entry.
func NeedsSync(e types.Entity, snapshot *lib.Snapshot) bool {
	prev, ok := snapshot.Get(e.LocalPath)
	switch {
	case !ok:
		return true
	case prev.Deleted:
		return true
	case prev.Kind != e.Kind:
		return true
	case prev.RootLabel != e.RootLabel || prev.RelativePath != e.RelativePath:
		return true
	default:
		return !prev.ModifiedAt.Equal(e.ModifiedAt)
	}
}

// Touched is the set of local paths visited during one cycle, sent or not.
type Touched struct {
	paths mapset.Set[string]
}

// NewTouched returns an empty set.
func NewTouched() *Touched {
	return &Touched{paths: mapset.NewThreadUnsafeSet[string]()}
}

// Add records a visited path.
func (t *Touched) Add(localPath string) { t.paths.Add(localPath) }

// Contains reports whether localPath was visited.
func (t *Touched) Contains(localPath string) bool { return t.paths.Contains(localPath) }

// Len returns the number of visited paths.
func (t *Touched) Len() int { return t.paths.Cardinality() }

// Deleted returns a tombstone for every snapshot entry that was not touched
// this cycle, except entries of roots listed in skipRoots. Tombstones are
// ordered deepest first so children go before their folders.
func Deleted(snapshot *lib.Snapshot, touched *Touched, skipRoots mapset.Set[string]) []types.Entity {
	var tombstones []types.Entity
	for _, e := range snapshot.Entries() {
		if touched.Contains(e.LocalPath) {
			continue
		}
		if skipRoots != nil && skipRoots.Contains(e.RootLabel) {
			continue
		}
		tombstones = append(tombstones, e.Tombstone())
	}

	sort.SliceStable(tombstones, func(i, j int) bool {
		di, dj := depth(tombstones[i]), depth(tombstones[j])
		if di != dj {
			return di > dj
		}
		return tombstones[i].LocalPath < tombstones[j].LocalPath
	})
	return tombstones
}

func depth(e types.Entity) int {
	if e.RelativePath == "." {
		return 0
	}
	return strings.Count(e.RelativePath, "/") + 1
}

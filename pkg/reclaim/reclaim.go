// Package reclaim implements C8: tracking the oldest revision any active
// reader might still need (the "pin") and releasing page chains superseded
// by newer revisions once no reader can see them any more.
//
// Grounded on mjm918-tur's pkg/cowbtree/epoch.go EpochManager/ReaderGuard
// pattern, with epoch renamed to revision throughout (spec.md's unit of
// snapshot isolation is the published revision, not an abstract epoch) and
// retired *CowNode pointers replaced by retired on-disk page offsets that
// get handed to the free-page manager (C3) instead of left to the Go
// garbage collector.
package reclaim

import (
	"sync"
	"sync/atomic"

	"github.com/mavibot/mavibot/pkg/freelist"
)

// Reclaimer tracks readers pinned to past revisions and retires page
// offsets superseded by later writes.
type Reclaimer struct {
	current uint64 // atomically updated current published revision

	mu      sync.Mutex
	readers map[uint64]uint64 // reader id -> revision it is pinned to
	nextID  uint64
	retired map[uint64][]uint64 // revision a batch was retired at -> offsets
}

// New creates a Reclaimer observing startRevision as the first published
// revision (spec.md's revision counter begins at 1 on a fresh file).
func New(startRevision uint64) *Reclaimer {
	return &Reclaimer{
		current: startRevision,
		readers: make(map[uint64]uint64),
		retired: make(map[uint64][]uint64),
	}
}

// ReaderGuard pins a reader to the revision it began reading at, so later
// writers know not to reclaim pages that revision can still see.
type ReaderGuard struct {
	r        *Reclaimer
	id       uint64
	revision uint64
}

// Enter pins the calling reader to the current published revision.
func (r *Reclaimer) Enter() *ReaderGuard {
	id := atomic.AddUint64(&r.nextID, 1)
	revision := atomic.LoadUint64(&r.current)

	r.mu.Lock()
	r.readers[id] = revision
	r.mu.Unlock()

	return &ReaderGuard{r: r, id: id, revision: revision}
}

// Leave unpins the reader, making its revision eligible for reclamation
// once it is no longer the oldest pin.
func (g *ReaderGuard) Leave() {
	if g == nil {
		return
	}
	g.r.mu.Lock()
	delete(g.r.readers, g.id)
	g.r.mu.Unlock()
}

// Revision reports the snapshot revision this guard is pinned to.
func (g *ReaderGuard) Revision() uint64 { return g.revision }

// Advance publishes newRevision as current (called by the single writer on
// commit, per spec.md §5's single-writer model).
func (r *Reclaimer) Advance(newRevision uint64) {
	atomic.StoreUint64(&r.current, newRevision)
}

// CurrentRevision reports the latest published revision.
func (r *Reclaimer) CurrentRevision() uint64 {
	return atomic.LoadUint64(&r.current)
}

// Retire records offsets superseded as of revision (the revision that made
// them unreachable from the latest tree); they become eligible for return
// to the free list once Pin() rises above that revision.
func (r *Reclaimer) Retire(revision uint64, offsets []uint64) {
	if len(offsets) == 0 {
		return
	}
	r.mu.Lock()
	r.retired[revision] = append(r.retired[revision], offsets...)
	r.mu.Unlock()
}

// Pin returns the oldest revision any active reader is pinned to, or the
// current revision if no reader is active (spec.md §4.8's "pin").
func (r *Reclaimer) Pin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinLocked()
}

func (r *Reclaimer) pinLocked() uint64 {
	min := atomic.LoadUint64(&r.current)
	for _, rev := range r.readers {
		if rev < min {
			min = rev
		}
	}
	return min
}

// Sweep releases every retired batch older than the current pin back to
// free, returning how many pages were reclaimed. Intended to run
// periodically (or after every commit) rather than on every single read.
func (r *Reclaimer) Sweep(free *freelist.FreeList) (int, error) {
	r.mu.Lock()
	pin := r.pinLocked()
	var toFree []uint64
	for revision, offsets := range r.retired {
		if revision < pin {
			toFree = append(toFree, offsets...)
			delete(r.retired, revision)
		}
	}
	r.mu.Unlock()

	if len(toFree) == 0 {
		return 0, nil
	}
	if err := free.Release(toFree); err != nil {
		return 0, err
	}
	return len(toFree), nil
}

// PendingCount reports how many retired pages are still waiting on a
// reader to catch up, for metrics and tests.
func (r *Reclaimer) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, offsets := range r.retired {
		n += len(offsets)
	}
	return n
}

// ActiveReaderCount reports how many readers currently hold a pin.
func (r *Reclaimer) ActiveReaderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readers)
}

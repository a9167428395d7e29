package mavibot

import (
	"time"

	"github.com/mavibot/mavibot/pkg/btree"
	"github.com/mavibot/mavibot/pkg/header"
	"github.com/mavibot/mavibot/pkg/reclaim"
	"github.com/mavibot/mavibot/pkg/serial"
)

// ReadTxn is a read-only snapshot pinned to the revision published when it
// began. Readers never block writers and vice versa (spec.md §5).
type ReadTxn struct {
	db       *DB
	guard    *reclaim.ReaderGuard
	revision uint64
	treesRoot uint64
	closed   bool
}

// BeginRead starts a read transaction snapshotting the currently published
// revision. The returned ReadTxn must be closed to release its pin.
func (db *DB) BeginRead() (*ReadTxn, error) {
	if db.isClosed() {
		return nil, errClosed
	}
	pub := db.snapshot()
	guard := db.reclaim.Enter()
	return &ReadTxn{db: db, guard: guard, revision: pub.revision, treesRoot: pub.treeOfTreesRoot}, nil
}

// Revision reports the snapshot revision this transaction observes.
func (tx *ReadTxn) Revision() uint64 { return tx.revision }

// Close releases the transaction's pin on its revision, letting the
// reclaimer return pages superseded by later writes once it is safe.
func (tx *ReadTxn) Close() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.guard.Leave()
	return nil
}

func (tx *ReadTxn) treesView() *btree.Tree[string, treeEntry] {
	return btree.Open[string, treeEntry](tx.db.chain, tx.treesRoot, btree.Options{Order: 64}, serial.StringSerializer{}, treeEntrySerializer{})
}

// WriteTxn is the single writer permitted at any time (spec.md §5): opening
// one blocks until any prior WriteTxn commits or aborts.
type WriteTxn struct {
	db        *DB
	revision  uint64
	treesRoot uint64
	trees     *btree.Tree[string, treeEntry]
	done      bool
}

// BeginWrite acquires the write lock and opens a write transaction tentatively
// at publishedRevision+1. It blocks until any prior WriteTxn commits or
// aborts, per spec.md §5's single-writer model.
func (db *DB) BeginWrite() (*WriteTxn, error) {
	db.writeMu.Lock()
	if db.isClosed() {
		db.writeMu.Unlock()
		return nil, errClosed
	}
	pub := db.snapshot()
	trees := btree.Open[string, treeEntry](db.chain, pub.treeOfTreesRoot, btree.Options{Order: 64}, serial.StringSerializer{}, treeEntrySerializer{})
	return &WriteTxn{db: db, revision: pub.revision + 1, treesRoot: pub.treeOfTreesRoot, trees: trees}, nil
}

// Revision reports the revision this write will publish on Commit.
func (tx *WriteTxn) Revision() uint64 { return tx.revision }

// Commit persists every tree mutation made under this transaction: it
// writes the (possibly new) tree-of-trees root and revision counter into
// whichever header slot is not currently authoritative, fsyncs, and only
// then flips the in-memory published pointer — so a crash mid-commit always
// leaves the other slot's prior revision intact and readable (spec.md §4.8
// scenario 4).
func (tx *WriteTxn) Commit() (err error) {
	if tx.done {
		return nil
	}
	tx.done = true
	defer tx.db.writeMu.Unlock()

	start := time.Now()
	defer func() {
		tx.db.metrics.RecordCommit(err == nil, time.Since(start))
		tx.db.log.LogCommit(tx.revision, time.Since(start), err)
	}()

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()

	next := published{
		seq:             tx.db.pub.seq + 1,
		treeOfTreesRoot: tx.trees.Root(),
		freeListHead:    tx.db.free.Head,
		revision:        tx.revision,
		slot:            1 - tx.db.pub.slot,
	}
	if err = tx.db.store.Sync(); err != nil {
		return &ErrIO{Err: err}
	}
	if err = writeSlot(tx.db.store, next); err != nil {
		return &ErrIO{Err: err}
	}
	if err = tx.db.store.Sync(); err != nil {
		return &ErrIO{Err: err}
	}

	freed := tx.db.chain.TakePendingFree()
	tx.db.reclaim.Retire(tx.revision, freed)
	tx.db.reclaim.Advance(tx.revision)

	tx.db.pub = next
	tx.db.trees = tx.trees
	return nil
}

// Abort discards every mutation made under this transaction without
// touching the published header; pages it superseded remain reachable from
// the still-published root so nothing needs to be freed.
func (tx *WriteTxn) Abort() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.db.chain.TakePendingFree() // discard: these pages are still reachable from the unpublished root
	tx.db.writeMu.Unlock()
	tx.db.metrics.RecordCommit(false, 0)
	return nil
}

// AddTree registers a new named tree in the tree-of-trees. Returns
// ErrAlreadyManaged if name is already registered (spec.md §6's add_tree).
func (tx *WriteTxn) AddTree(name string, opts btree.Options) error {
	if _, existed, err := tx.trees.Get(name); err != nil {
		return &ErrIO{Err: err}
	} else if existed {
		return &ErrAlreadyManaged{Name: name}
	}
	if opts.DupThreshold <= 0 {
		opts.DupThreshold = btree.DefaultDupThreshold
	}
	entry := treeEntry{
		Root:            header.NoOffset,
		Order:           uint32(opts.Order),
		AllowDuplicates: opts.AllowDuplicates,
		DupThreshold:    uint32(opts.DupThreshold),
	}
	if _, err := tx.trees.Insert(tx.revision, name, entry); err != nil {
		return &ErrIO{Err: err}
	}
	return nil
}

// lookupTree fetches a registered tree's stored shape, or ErrKeyNotFound.
func lookupTree(trees *btree.Tree[string, treeEntry], name string) (treeEntry, error) {
	entry, ok, err := trees.Get(name)
	if err != nil {
		return treeEntry{}, &ErrIO{Err: err}
	}
	if !ok {
		return treeEntry{}, &ErrKeyNotFound{Key: name}
	}
	return entry, nil
}

func entryOptions(e treeEntry) btree.Options {
	return btree.Options{Order: int(e.Order), AllowDuplicates: e.AllowDuplicates, DupThreshold: int(e.DupThreshold)}
}

// GetTree opens a registered tree for read-only access under tx. K/V
// serializers are supplied fresh by the caller on every call — Go forbids a
// generic method on the non-generic *ReadTxn receiver, so this is a
// package-level function instead (spec.md §6's get_tree).
func GetTree[K any, V any](tx *ReadTxn, name string, kser serial.KeySerializer[K], vser serial.ValueSerializer[V]) (*btree.Tree[K, V], error) {
	entry, err := lookupTree(tx.treesView(), name)
	if err != nil {
		return nil, err
	}
	return btree.Open[K, V](tx.db.chain, entry.Root, entryOptions(entry), kser, vser), nil
}

// GetTreeForWrite opens a registered tree for mutation under tx. The
// returned Tree's root is not visible to anyone else until tx.Commit, and
// its final root must be written back into the registry via SaveTree before
// committing.
func GetTreeForWrite[K any, V any](tx *WriteTxn, name string, kser serial.KeySerializer[K], vser serial.ValueSerializer[V]) (*btree.Tree[K, V], error) {
	entry, err := lookupTree(tx.trees, name)
	if err != nil {
		return nil, err
	}
	return btree.Open[K, V](tx.db.chain, entry.Root, entryOptions(entry), kser, vser), nil
}

// SaveTree writes back a tree's (possibly changed) root into the
// tree-of-trees registry under tx. Callers must call this after mutating a
// tree obtained from GetTreeForWrite and before Commit, since the generic
// Tree[K,V] has no way to notify the registry of its own root changes.
func SaveTree[K any, V any](tx *WriteTxn, name string, t *btree.Tree[K, V]) error {
	entry, err := lookupTree(tx.trees, name)
	if err != nil {
		return err
	}
	entry.Root = t.Root()
	if _, err := tx.trees.Insert(tx.revision, name, entry); err != nil {
		return &ErrIO{Err: err}
	}
	return nil
}

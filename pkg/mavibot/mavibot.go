// Package mavibot implements C7 (transactions and revision management) and
// C9 (the tree-of-trees registry), wiring every lower component — pkg/page,
// pkg/chain, pkg/freelist, pkg/header, pkg/btree, pkg/reclaim — into the
// single-writer/multi-reader embedded storage engine spec.md describes.
package mavibot

import (
	"fmt"
	"os"
	"sync"

	"github.com/mavibot/mavibot/internal/logger"
	"github.com/mavibot/mavibot/internal/metrics"
	"github.com/mavibot/mavibot/pkg/btree"
	"github.com/mavibot/mavibot/pkg/freelist"
	"github.com/mavibot/mavibot/pkg/header"
	"github.com/mavibot/mavibot/pkg/page"
	"github.com/mavibot/mavibot/pkg/reclaim"
	"github.com/mavibot/mavibot/pkg/serial"
)

// HeaderVersion is written into every header slot this engine produces.
const HeaderVersion = 1

// published is the engine's in-memory mirror of the on-disk header: the
// state a just-opened ReadTxn snapshots, and a WriteTxn's Commit rewrites.
type published struct {
	seq             uint64
	treeOfTreesRoot uint64
	freeListHead    uint64
	revision        uint64
	// slot is which of the two header offsets (0 or pageSize) was written
	// last; the next commit targets the other one.
	slot int
}

// DB is an open Mavibot file.
type DB struct {
	path     string
	pageSize uint32

	store    *page.Store
	free     *freelist.FreeList
	chain    *btree.ChainStore
	reclaim  *reclaim.Reclaimer
	log      *logger.Logger
	metrics  *metrics.Metrics

	writeMu sync.Mutex // held for the lifetime of a single WriteTxn

	mu     sync.RWMutex // guards pub and the tree-of-trees
	pub    published
	trees  *btree.Tree[string, treeEntry]
	closed bool
}

// Open opens path, creating it fresh with pageSize if it does not exist.
// pageSize is ignored for an existing file; the file's own header governs
// once opened, per spec.md §6's format being self-describing.
func Open(path string, pageSize uint32, cacheCapacity int, log *logger.Logger, m *metrics.Metrics) (*DB, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}

	existing, probedPageSize, err := probeExistingFile(path)
	if err != nil {
		return nil, &ErrIO{Err: err}
	}
	if existing {
		pageSize = probedPageSize
	}

	store, err := page.Open(path, pageSize, cacheCapacity)
	if err != nil {
		return nil, &ErrIO{Err: err}
	}

	var pub published
	if existing {
		pub, err = readHeader(store)
		if err != nil {
			store.Close()
			return nil, err
		}
	} else {
		pub = published{seq: 1, treeOfTreesRoot: header.NoOffset, freeListHead: header.NoOffset, revision: 1, slot: 0}
		if err := writeSlot(store, pub); err != nil {
			store.Close()
			return nil, &ErrIO{Err: err}
		}
		// Reserve slot B's page so the first allocated page lands after it.
		if err := store.WritePage(uint64(pageSize), make([]byte, pageSize)); err != nil {
			store.Close()
			return nil, &ErrIO{Err: err}
		}
		if err := store.Sync(); err != nil {
			store.Close()
			return nil, &ErrIO{Err: err}
		}
	}

	free := freelist.New(store, pub.freeListHead)
	chainStore := btree.NewChainStore(store, free)
	rec := reclaim.New(pub.revision)

	db := &DB{
		path:    path,
		pageSize: pageSize,
		store:   store,
		free:    free,
		chain:   chainStore,
		reclaim: rec,
		log:     log,
		metrics: m,
		pub:     pub,
	}
	db.trees = btree.Open[string, treeEntry](chainStore, pub.treeOfTreesRoot, btree.Options{Order: 64}, serial.StringSerializer{}, treeEntrySerializer{})

	log.LogOpen(path, pageSize, pub.revision)
	return db, nil
}

// probeExistingFile reports whether path already exists and, if so, its
// page size, read via a raw file handle that bypasses pkg/page.Store —
// Store.Open itself requires a page size up front, so the very first slot-A
// read has to happen before the paged store can exist at all.
func probeExistingFile(path string) (existing bool, pageSize uint32, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, 0, err
	}
	if info.Size() == 0 {
		return false, 0, nil
	}

	buf := make([]byte, header.Size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return false, 0, err
	}
	ps, err := header.ProbePageSize(buf)
	if err != nil {
		return false, 0, &ErrCorruptFile{Reason: err.Error()}
	}
	return true, ps, nil
}

// readHeader loads both alternating slots (offsets 0 and pageSize) and
// picks the authoritative one per header.Choose's highest-valid-seq rule.
func readHeader(store *page.Store) (published, error) {
	slotABuf, err := readRawSlot(store, 0)
	if err != nil {
		return published{}, &ErrIO{Err: err}
	}
	slotBBuf, err := readRawSlot(store, uint64(store.PageSize()))
	if err != nil {
		return published{}, &ErrIO{Err: err}
	}

	h, err := header.Choose(slotABuf, slotBBuf)
	if err != nil {
		return published{}, &ErrCorruptFile{Reason: err.Error()}
	}

	slot := 0
	hb, errB := header.Decode(slotBBuf)
	if errB == nil && hb.Seq == h.Seq {
		slot = 1
	}

	return published{
		seq:             h.Seq,
		treeOfTreesRoot: h.TreeOfTreesRoot,
		freeListHead:    h.FreePageListHead,
		revision:        h.CurrentRevision,
		slot:            slot,
	}, nil
}

func readRawSlot(store *page.Store, offset uint64) ([]byte, error) {
	buf, err := store.ReadPage(offset)
	if err != nil {
		return nil, err
	}
	return buf[:header.Size], nil
}

// writeSlot encodes pub into a page.PageSize()-sized buffer (padded past
// header.Size) and writes it at pub.slot's offset (0 or page size).
func writeSlot(store *page.Store, pub published) error {
	h := header.Header{
		Version:          HeaderVersion,
		Seq:              pub.seq,
		PageSize:         store.PageSize(),
		TreeOfTreesRoot:  pub.treeOfTreesRoot,
		FreePageListHead: pub.freeListHead,
		CurrentRevision:  pub.revision,
	}
	encoded := header.Encode(h)
	buf := make([]byte, store.PageSize())
	copy(buf, encoded)

	offset := uint64(0)
	if pub.slot == 1 {
		offset = uint64(store.PageSize())
	}
	return store.WritePage(offset, buf)
}

// Close flushes the underlying store and releases its file handle. It does
// not itself commit anything; callers must Commit or Abort any open
// WriteTxn first.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if err := db.store.Sync(); err != nil {
		return &ErrIO{Err: err}
	}
	db.log.LogClose(db.path)
	return db.store.Close()
}

// Sweep runs a single reclaimer pass, returning pages freed; see spec.md §8
// scenario 6. Safe to call from a background loop or after every commit.
func (db *DB) Sweep() (int, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	n, err := db.reclaim.Sweep(db.free)
	if err != nil {
		return 0, &ErrIO{Err: err}
	}
	db.mu.Lock()
	db.pub.freeListHead = db.free.Head
	db.mu.Unlock()
	db.metrics.RecordReclaim(n, db.reclaim.PendingCount(), db.reclaim.ActiveReaderCount())
	db.log.LogReclaim(n, db.reclaim.Pin())
	return n, nil
}

// PageCacheStats reports the underlying page store's cumulative hit/miss
// counters, for callers wiring them into their own metrics loop.
func (db *DB) PageCacheStats() (hits, misses uint64) {
	return db.store.CacheStats()
}

// snapshot copies the currently published state under the read lock.
func (db *DB) snapshot() published {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.pub
}

var errClosed = fmt.Errorf("mavibot: db is closed")

// isClosed reports whether Close has already been called.
func (db *DB) isClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

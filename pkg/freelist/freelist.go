// Package freelist implements C3: a singly-linked list of reclaimable
// page-image offsets threaded through each free page's own
// next_page_offset header field (the same field C2's page chains use),
// rather than tree_db's unrolled-list-with-pointer-arrays design — spec's
// file format is normative and calls for the simpler single link per page.
package freelist

import (
	"encoding/binary"

	"github.com/mavibot/mavibot/pkg/chain"
)

// NoHead marks an empty free list; re-exported from chain for callers that
// don't otherwise depend on that package.
const NoHead = chain.NoNext

const nextPtrSize = 8

// PageIO is the page-level surface the free list needs.
type PageIO interface {
	PageSize() uint32
	ReadPage(offset uint64) ([]byte, error)
	WritePage(offset uint64, data []byte) error
	Append(data []byte) (uint64, error)
}

// FreeList tracks the head of the on-disk free chain. Head is exported so
// the record-manager header (C4) can persist and restore it verbatim.
type FreeList struct {
	io   PageIO
	Head uint64
}

// New wraps io with a free list whose current head is head (NoHead if the
// list is empty, e.g. on a freshly created file).
func New(io PageIO, head uint64) *FreeList {
	return &FreeList{io: io, Head: head}
}

// Allocate satisfies pkg/chain.Allocator: pop the head of the free list if
// one exists, otherwise extend the file with a fresh page.
func (f *FreeList) Allocate() (uint64, error) {
	if f.Head == NoHead {
		buf := make([]byte, f.io.PageSize())
		return f.io.Append(buf)
	}

	offset := f.Head
	page, err := f.io.ReadPage(offset)
	if err != nil {
		return 0, err
	}
	f.Head = binary.BigEndian.Uint64(page[:nextPtrSize])
	return offset, nil
}

// AllocateChain pops n offsets from the free list (extending the file as
// needed); the returned offsets need not be contiguous.
func (f *FreeList) AllocateChain(n int) ([]uint64, error) {
	offsets := make([]uint64, n)
	for i := 0; i < n; i++ {
		offset, err := f.Allocate()
		if err != nil {
			return nil, err
		}
		offsets[i] = offset
	}
	return offsets, nil
}

// Release pushes offsets onto the head of the free list in the order given:
// each becomes the new head, pointing at the previous head.
func (f *FreeList) Release(offsets []uint64) error {
	for _, offset := range offsets {
		buf := make([]byte, f.io.PageSize())
		binary.BigEndian.PutUint64(buf[:nextPtrSize], f.Head)
		if err := f.io.WritePage(offset, buf); err != nil {
			return err
		}
		f.Head = offset
	}
	return nil
}

// Len walks the free chain and counts its entries. Intended for tests and
// the page-accounting invariant in spec.md §8, not the hot path.
func (f *FreeList) Len() (int, error) {
	n := 0
	cur := f.Head
	for cur != NoHead {
		n++
		page, err := f.io.ReadPage(cur)
		if err != nil {
			return 0, err
		}
		cur = binary.BigEndian.Uint64(page[:nextPtrSize])
	}
	return n, nil
}

package btree

import (
	"github.com/mavibot/mavibot/pkg/chain"
	"github.com/mavibot/mavibot/pkg/freelist"
)

// ChainStore adapts C2 (pkg/chain) and C3 (pkg/freelist) into the IO surface
// the raw algorithms need: every node/leaf record in this tree is a
// variable-length logical record carried by a page chain, since the tree
// header's page size (max elements per node) is independent of the
// record-manager's page-image byte size — see DESIGN.md, Open Question
// resolution 3.
type ChainStore struct {
	pio  chain.PageIO
	free *freelist.FreeList

	// pendingFree collects offsets superseded by this store's writes so
	// the reclaimer (C8) can release them once no reader still needs the
	// revision they belonged to. ChainStore never frees synchronously.
	pendingFree []uint64
}

// NewChainStore wires a page store and free-page manager into tree storage.
func NewChainStore(pio chain.PageIO, free *freelist.FreeList) *ChainStore {
	return &ChainStore{pio: pio, free: free}
}

func (s *ChainStore) Read(offset uint64) ([]byte, error) {
	return chain.Read(s.pio, offset)
}

func (s *ChainStore) Write(data []byte) (uint64, error) {
	return chain.Write(s.pio, s.free, data)
}

// Free records offset's chain as reclaimable; the reclaimer decides when it
// is actually safe to return those pages to the free list.
func (s *ChainStore) Free(offset uint64) error {
	offsets, err := chain.Offsets(s.pio, offset)
	if err != nil {
		return err
	}
	s.pendingFree = append(s.pendingFree, offsets...)
	return nil
}

// TakePendingFree drains and returns every offset queued by Free since the
// last call, for the reclaimer to track against the revision being retired.
func (s *ChainStore) TakePendingFree() []uint64 {
	out := s.pendingFree
	s.pendingFree = nil
	return out
}

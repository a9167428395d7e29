package reclaim

import (
	"testing"

	"github.com/mavibot/mavibot/pkg/freelist"
)

type memIO struct {
	pageSize uint32
	pages    map[uint64][]byte
	next     uint64
}

func newMemIO(pageSize uint32) *memIO {
	return &memIO{pageSize: pageSize, pages: make(map[uint64][]byte)}
}

func (m *memIO) PageSize() uint32 { return m.pageSize }

func (m *memIO) ReadPage(offset uint64) ([]byte, error) {
	cp := make([]byte, len(m.pages[offset]))
	copy(cp, m.pages[offset])
	return cp, nil
}

func (m *memIO) WritePage(offset uint64, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.pages[offset] = cp
	return nil
}

func (m *memIO) Append(data []byte) (uint64, error) {
	offset := m.next
	m.next += uint64(m.pageSize)
	return offset, m.WritePage(offset, data)
}

func TestSweepWithNoReadersReclaimsImmediately(t *testing.T) {
	r := New(1)
	fl := freelist.New(newMemIO(64), freelist.NoHead)

	r.Retire(1, []uint64{100, 200})
	r.Advance(2)

	n, err := r.Sweep(fl)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pages reclaimed, got %d", n)
	}
}

func TestPinnedReaderBlocksReclamation(t *testing.T) {
	r := New(1)
	fl := freelist.New(newMemIO(64), freelist.NoHead)

	guard := r.Enter() // pins revision 1
	r.Retire(1, []uint64{100})
	r.Advance(2)

	n, err := r.Sweep(fl)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing reclaimed while reader pinned, got %d", n)
	}

	guard.Leave()
	n, err = r.Sweep(fl)
	if err != nil {
		t.Fatalf("Sweep after Leave: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 page reclaimed after reader left, got %d", n)
	}
}

func TestPinReflectsOldestActiveReader(t *testing.T) {
	r := New(5)
	g1 := r.Enter() // pins 5
	r.Advance(6)
	g2 := r.Enter() // pins 6
	r.Advance(7)

	if p := r.Pin(); p != 5 {
		t.Errorf("expected pin 5, got %d", p)
	}
	g1.Leave()
	if p := r.Pin(); p != 6 {
		t.Errorf("expected pin 6 after oldest left, got %d", p)
	}
	g2.Leave()
	if p := r.Pin(); p != 7 {
		t.Errorf("expected pin to fall back to current (7), got %d", p)
	}
}

package freelist

import "testing"

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

func TestAllocateExtendsWhenEmpty(t *testing.T) {
	io := newMemIO(64)
	fl := New(io, NoHead)

	a, err := fl.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := fl.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct offsets, got %d twice", a)
	}
	if fl.Head != NoHead {
		t.Errorf("expected head to remain empty after extending, got %d", fl.Head)
	}
}

func TestReleaseThenAllocateReuses(t *testing.T) {
	io := newMemIO(64)
	fl := New(io, NoHead)

	a, _ := fl.Allocate()
	b, _ := fl.Allocate()

	if err := fl.Release([]uint64{a, b}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if fl.Head != b {
		t.Errorf("expected head to be last-released offset %d, got %d", b, fl.Head)
	}

	got1, err := fl.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got1 != b {
		t.Errorf("expected LIFO reuse of %d, got %d", b, got1)
	}
	got2, err := fl.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got2 != a {
		t.Errorf("expected %d next, got %d", a, got2)
	}
	if fl.Head != NoHead {
		t.Errorf("expected list empty again, got head %d", fl.Head)
	}
}

func TestLenTracksChain(t *testing.T) {
	io := newMemIO(64)
	fl := New(io, NoHead)

	offsets := make([]uint64, 0, 5)
	for i := 0; i < 5; i++ {
		o, _ := fl.Allocate()
		offsets = append(offsets, o)
	}
	if err := fl.Release(offsets); err != nil {
		t.Fatalf("Release: %v", err)
	}
	n, err := fl.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 free pages, got %d", n)
	}
}

package chain

import (
	"bytes"
	"testing"
)

// memIO is an in-memory PageIO/Allocator fake, the same role tree_db's
// in-memory TestContext plays for btree tests: exercise the codec without a
// real file.
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
	p, ok := m.pages[offset]
	if !ok {
		return nil, &ErrCorrupt{Reason: "no such page"}
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	return cp, nil
}

func (m *memIO) WritePage(offset uint64, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.pages[offset] = cp
	return nil
}

func (m *memIO) Allocate() (uint64, error) {
	offset := m.next
	m.next += uint64(m.pageSize)
	return offset, nil
}

func TestWriteReadSmallFitsOnePage(t *testing.T) {
	io := newMemIO(64)
	data := []byte("hello chain")

	offset, err := Write(io, io, data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(io, offset)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %q, got %q", data, got)
	}
	if len(io.pages) != 1 {
		t.Errorf("expected a single page, used %d", len(io.pages))
	}
}

func TestWriteReadSpansMultiplePages(t *testing.T) {
	io := newMemIO(32)
	data := bytes.Repeat([]byte("0123456789"), 50) // 500 bytes, several pages at 32B/page

	offset, err := Write(io, io, data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(io.pages) < 2 {
		t.Fatalf("expected a multi-page chain, got %d pages", len(io.pages))
	}

	got, err := Read(io, offset)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round-trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestReadDetectsTruncatedChain(t *testing.T) {
	io := newMemIO(32)
	data := bytes.Repeat([]byte("x"), 200)
	offset, err := Write(io, io, data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Corrupt the chain by terminating it early.
	first, _ := io.ReadPage(offset)
	first[7] = 0xFF
	first[6] = 0xFF
	first[5] = 0xFF
	first[4] = 0xFF
	first[3] = 0xFF
	first[2] = 0xFF
	first[1] = 0xFF
	first[0] = 0xFF
	io.pages[offset] = first

	if _, err := Read(io, offset); err == nil {
		t.Fatal("expected corruption to be detected")
	}
}

func TestEmptyRecord(t *testing.T) {
	io := newMemIO(32)
	offset, err := Write(io, io, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(io, offset)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty record, got %d bytes", len(got))
	}
}

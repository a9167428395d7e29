package btree

import (
	"fmt"
	"testing"
)

// memStore is an in-memory IO fake, grounded on tree_db/pkg/btree/btree_test.go's
// TestContext map-backed page store: every Write hands out a fresh offset
// (copy-on-write never reuses one in place), Free just marks it gone.
type memStore struct {
	pages map[uint64][]byte
	next  uint64
	freed map[uint64]bool
}

func newMemStore() *memStore {
	return &memStore{pages: make(map[uint64][]byte), freed: make(map[uint64]bool)}
}

func (m *memStore) Read(offset uint64) ([]byte, error) {
	if m.freed[offset] {
		return nil, fmt.Errorf("read of freed offset %d", offset)
	}
	buf, ok := m.pages[offset]
	if !ok {
		return nil, fmt.Errorf("no page at offset %d", offset)
	}
	return buf, nil
}

func (m *memStore) Write(data []byte) (uint64, error) {
	m.next++
	off := m.next
	cp := make([]byte, len(data))
	copy(cp, data)
	m.pages[off] = cp
	return off, nil
}

func (m *memStore) Free(offset uint64) error {
	m.freed[offset] = true
	return nil
}

func key(i int) []byte { return []byte(fmt.Sprintf("key-%04d", i)) }
func val(i int) []byte { return []byte(fmt.Sprintf("val-%04d", i)) }

func TestInsertGetSingle(t *testing.T) {
	io := newMemStore()
	root, _, existed, err := Insert(io, NoRoot, 4, false, 0, 1, key(1), val(1))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if existed {
		t.Fatalf("expected no prior value")
	}
	got, ok, err := Get(io, root, key(1))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != string(val(1)) {
		t.Errorf("got %q want %q", got, val(1))
	}
}

func TestInsertManyTriggersSplits(t *testing.T) {
	io := newMemStore()
	root := uint64(NoRoot)
	const n = 200
	for i := 0; i < n; i++ {
		var err error
		root, _, _, err = Insert(io, root, 4, false, 0, uint64(i), key(i), val(i))
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		got, ok, err := Get(io, root, key(i))
		if err != nil || !ok {
			t.Fatalf("Get(%d): ok=%v err=%v", i, ok, err)
		}
		if string(got) != string(val(i)) {
			t.Errorf("key %d: got %q want %q", i, got, val(i))
		}
	}
}

func TestInsertOverwriteReturnsOldValue(t *testing.T) {
	io := newMemStore()
	root, _, _, err := Insert(io, NoRoot, 4, false, 0, 1, key(1), val(1))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	root, old, existed, err := Insert(io, root, 4, false, 0, 2, key(1), val(2))
	if err != nil {
		t.Fatalf("Insert overwrite: %v", err)
	}
	if !existed {
		t.Fatalf("expected existed=true")
	}
	if string(old) != string(val(1)) {
		t.Errorf("expected old value %q, got %q", val(1), old)
	}
	got, ok, err := Get(io, root, key(1))
	if err != nil || !ok || string(got) != string(val(2)) {
		t.Fatalf("expected updated value, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestDeleteShrinksTreeWithRebalance(t *testing.T) {
	io := newMemStore()
	root := uint64(NoRoot)
	const n = 100
	for i := 0; i < n; i++ {
		var err error
		root, _, _, err = Insert(io, root, 4, false, 0, uint64(i), key(i), val(i))
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		var err error
		var existed bool
		root, _, existed, err = Delete(io, root, 4, false, uint64(i), key(i), nil)
		if err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
		if !existed {
			t.Fatalf("Delete(%d): expected existed", i)
		}
	}
	if root != NoRoot {
		// Root may degrade to an empty leaf rather than NoRoot; either is
		// acceptable as long as no keys remain.
		for i := 0; i < n; i++ {
			_, ok, err := Get(io, root, key(i))
			if err != nil {
				t.Fatalf("Get(%d) after full delete: %v", i, err)
			}
			if ok {
				t.Errorf("key %d still present after delete", i)
			}
		}
	}
}

func TestDeleteNonexistentKey(t *testing.T) {
	io := newMemStore()
	root, _, _, err := Insert(io, NoRoot, 4, false, 0, 1, key(1), val(1))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, _, existed, err := Delete(io, root, 4, false, 2, key(99), nil)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if existed {
		t.Fatalf("expected existed=false for absent key")
	}
}

func TestDuplicateValuesAccumulateAndOverflow(t *testing.T) {
	io := newMemStore()
	root := uint64(NoRoot)
	const dupThreshold = 3
	const n = 10
	for i := 0; i < n; i++ {
		var err error
		root, _, _, err = Insert(io, root, 4, true, dupThreshold, uint64(i), []byte("shared"), val(i))
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		ok, err := containsDuplicate(io, root, []byte("shared"), val(i))
		if err != nil {
			t.Fatalf("containsDuplicate(%d): %v", i, err)
		}
		if !ok {
			t.Errorf("expected duplicate value %d to be present", i)
		}
	}
}

func containsDuplicate(io IO, root uint64, key, val []byte) (bool, error) {
	slot, ok, err := getSlot(io, root, key)
	if err != nil || !ok {
		return false, err
	}
	return containsValue(io, slot, val)
}

func TestDeleteSpecificDuplicate(t *testing.T) {
	io := newMemStore()
	root := uint64(NoRoot)
	const n = 4
	for i := 0; i < n; i++ {
		var err error
		root, _, _, err = Insert(io, root, 4, true, 8, uint64(i), []byte("shared"), val(i))
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	target := val(2)
	root, removed, existed, err := Delete(io, root, 4, true, 10, []byte("shared"), target)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Fatalf("expected existed=true")
	}
	if string(removed) != string(target) {
		t.Errorf("expected removed %q, got %q", target, removed)
	}
	ok, err := containsDuplicate(io, root, []byte("shared"), target)
	if err != nil {
		t.Fatalf("containsDuplicate: %v", err)
	}
	if ok {
		t.Errorf("expected %q to be gone", target)
	}
	for i := 0; i < n; i++ {
		if i == 2 {
			continue
		}
		ok, err := containsDuplicate(io, root, []byte("shared"), val(i))
		if err != nil {
			t.Fatalf("containsDuplicate(%d): %v", i, err)
		}
		if !ok {
			t.Errorf("expected %d to remain", i)
		}
	}
}

func TestCursorBrowseInOrder(t *testing.T) {
	io := newMemStore()
	root := uint64(NoRoot)
	const n = 50
	for i := n - 1; i >= 0; i-- {
		var err error
		root, _, _, err = Insert(io, root, 4, false, 0, uint64(i), key(i), val(i))
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	c, err := newRawCursor(io, root)
	if err != nil {
		t.Fatalf("newRawCursor: %v", err)
	}
	count := 0
	for c.valid() {
		if string(c.key()) != string(key(count)) {
			t.Fatalf("out of order at %d: got %q want %q", count, c.key(), key(count))
		}
		count++
		if err := c.next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if count != n {
		t.Errorf("expected %d keys, visited %d", n, count)
	}
}

func TestCursorBrowseBackwardInOrder(t *testing.T) {
	io := newMemStore()
	root := uint64(NoRoot)
	const n = 50
	for i := 0; i < n; i++ {
		var err error
		root, _, _, err = Insert(io, root, 4, false, 0, uint64(i), key(i), val(i))
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	c, err := newRawCursorAtEnd(io, root)
	if err != nil {
		t.Fatalf("newRawCursorAtEnd: %v", err)
	}
	count := n - 1
	for c.valid() {
		if string(c.key()) != string(key(count)) {
			t.Fatalf("out of order at %d: got %q want %q", count, c.key(), key(count))
		}
		count--
		if err := c.prev(); err != nil {
			t.Fatalf("prev: %v", err)
		}
	}
	if count != -1 {
		t.Errorf("expected to visit all %d keys, stopped with count=%d", n, count)
	}
}

func TestCursorBrowseFromMissThenPrevRetreatsToLastKey(t *testing.T) {
	io := newMemStore()
	root := uint64(NoRoot)
	for i := 0; i <= 1000; i += 2 {
		var err error
		root, _, _, err = Insert(io, root, 4, false, 0, uint64(i), key(i), val(i))
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	c, err := newRawCursorFrom(io, root, key(1500))
	if err != nil {
		t.Fatalf("newRawCursorFrom: %v", err)
	}
	if c.valid() {
		t.Fatalf("expected no key >= 1500 to exist")
	}
	if err := c.prev(); err != nil {
		t.Fatalf("prev: %v", err)
	}
	if !c.valid() || string(c.key()) != string(key(1000)) {
		t.Fatalf("expected prev to land on the last key (1000), got %q valid=%v", c.key(), c.valid())
	}
}

func TestCursorBrowseFromMidpoint(t *testing.T) {
	io := newMemStore()
	root := uint64(NoRoot)
	const n = 30
	for i := 0; i < n; i++ {
		var err error
		root, _, _, err = Insert(io, root, 4, false, 0, uint64(i), key(i), val(i))
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	c, err := newRawCursorFrom(io, root, key(15))
	if err != nil {
		t.Fatalf("newRawCursorFrom: %v", err)
	}
	if !c.valid() || string(c.key()) != string(key(15)) {
		t.Fatalf("expected to land on key 15, got %q valid=%v", c.key(), c.valid())
	}
}

package btree

import (
	"bytes"
	"fmt"
)

// NoRoot marks an empty tree (no root page yet).
const NoRoot = ^uint64(0)

// IO is the persistence surface the raw algorithms need: read a node/leaf's
// encoded bytes by offset, write a new encoded record and get its offset
// (copy-on-write: never reuses an offset in place), and free an offset whose
// page is no longer reachable. The engine wires this to pkg/chain plus the
// page reclaimer (C8) rather than releasing pages synchronously, so old
// revisions stay readable until no reader can see them.
type IO interface {
	Read(offset uint64) ([]byte, error)
	Write(data []byte) (uint64, error)
	Free(offset uint64) error
}

// ErrKeyTooLarge and friends are intentionally absent: spec.md places no
// bound on key/value size beyond page_size >= 64; chains absorb any length.

func ceilHalf(order int) int { return (order + 1) / 2 }

// Get performs C6.4.1 search: binary search down to a leaf, recursing into
// a duplicate sub-tree if the located slot has overflowed.
func Get(io IO, root uint64, key []byte) ([]byte, bool, error) {
	if root == NoRoot {
		return nil, false, nil
	}
	return get(io, root, key)
}

func get(io IO, offset uint64, key []byte) ([]byte, bool, error) {
	buf, err := io.Read(offset)
	if err != nil {
		return nil, false, err
	}
	k, err := peekKind(buf)
	if err != nil {
		return nil, false, err
	}
	switch k {
	case kindLeaf:
		lp, err := decodeLeaf(buf)
		if err != nil {
			return nil, false, err
		}
		idx := searchKeys(lp.keys, key)
		if idx >= len(lp.keys) || !bytes.Equal(lp.keys[idx], key) {
			return nil, false, nil
		}
		slot := lp.values[idx]
		if slot.subTree {
			return firstOfSubTree(io, slot.subTreeOffset)
		}
		return slot.inline, true, nil
	case kindNode:
		np, err := decodeNode(buf)
		if err != nil {
			return nil, false, err
		}
		child := np.children[childIndex(np.keys, key)]
		return get(io, child, key)
	default:
		return nil, false, fmt.Errorf("bad page kind")
	}
}

// containsValue reports whether val is among the slot's duplicate values
// (spec.md's contains(key, value), only meaningful in duplicate mode).
func containsValue(io IO, slot valueSlot, val []byte) (bool, error) {
	if !slot.subTree {
		for _, v := range decodeInlineList(slot.inline) {
			if bytes.Equal(v, val) {
				return true, nil
			}
		}
		return false, nil
	}
	_, ok, err := get(io, slot.subTreeOffset, val)
	return ok, err
}

func firstOfSubTree(io IO, offset uint64) ([]byte, bool, error) {
	it, err := newRawCursor(io, offset)
	if err != nil {
		return nil, false, err
	}
	if !it.valid() {
		return nil, false, nil
	}
	return it.key(), true, nil
}

// subTreeValues collects every duplicate value stored in a value-slot's
// overflow sub-tree, in ascending order. Sub-tree keys ARE the duplicate
// values (the overflow tree stores them with no payload), so a plain
// forward walk yields them already sorted.
func subTreeValues(io IO, offset uint64) ([][]byte, error) {
	it, err := newRawCursor(io, offset)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for it.valid() {
		out = append(out, it.key())
		if err := it.next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// getSlot locates the raw value-slot for key, for callers (Contains) that
// need to inspect duplicate-value storage directly rather than just the
// first value Get would return.
func getSlot(io IO, offset uint64, key []byte) (valueSlot, bool, error) {
	buf, err := io.Read(offset)
	if err != nil {
		return valueSlot{}, false, err
	}
	k, err := peekKind(buf)
	if err != nil {
		return valueSlot{}, false, err
	}
	switch k {
	case kindLeaf:
		lp, err := decodeLeaf(buf)
		if err != nil {
			return valueSlot{}, false, err
		}
		idx := searchKeys(lp.keys, key)
		if idx >= len(lp.keys) || !bytes.Equal(lp.keys[idx], key) {
			return valueSlot{}, false, nil
		}
		return lp.values[idx], true, nil
	case kindNode:
		np, err := decodeNode(buf)
		if err != nil {
			return valueSlot{}, false, err
		}
		return getSlot(io, np.children[childIndex(np.keys, key)], key)
	default:
		return valueSlot{}, false, fmt.Errorf("bad page kind")
	}
}

// searchKeys returns the index of the first key >= target (sort.Search
// would work too; written out to match the pack's hand-rolled linear/binary
// search idiom rather than reaching for a generic helper for 2-field data).
func searchKeys(keys [][]byte, target []byte) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(keys[mid], target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childIndex returns which child covers key, given separators keys[0..n-1]:
// child i covers [keys[i-1], keys[i]) (child 0 covers (-inf, keys[0])).
func childIndex(keys [][]byte, key []byte) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// --- Insert (C6.4.2) ---

// insertOutcome threads split results up the recursion.
type insertOutcome struct {
	offset      uint64 // CoW offset of the (possibly unchanged-shape) subtree root
	splitKey    []byte // non-nil if this subtree split
	splitOffset uint64 // right half's offset, valid when splitKey != nil
	oldValue    []byte
	existed     bool
}

// Insert inserts or updates (key,val) in the tree rooted at root, returning
// the new root offset (spec.md §4.6.2's cascading split may grow the tree by
// one level). dupThreshold bounds how many inline duplicate values a slot
// holds before it overflows into a duplicate sub-tree.
func Insert(io IO, root uint64, order int, allowDup bool, dupThreshold int, revision uint64, key, val []byte) (newRoot uint64, oldValue []byte, existed bool, err error) {
	if root == NoRoot {
		lp := leafPage{revision: revision, keys: [][]byte{key}, values: []valueSlot{leafValueForInsert(val, allowDup)}}
		offset, err := io.Write(encodeLeaf(lp))
		if err != nil {
			return NoRoot, nil, false, err
		}
		return offset, nil, false, nil
	}

	out, err := insert(io, root, order, allowDup, dupThreshold, revision, key, val)
	if err != nil {
		return NoRoot, nil, false, err
	}
	if out.splitKey == nil {
		return out.offset, out.oldValue, out.existed, nil
	}

	// Root split: grow the tree one level.
	np := nodePage{revision: revision, keys: [][]byte{out.splitKey}, children: []uint64{out.offset, out.splitOffset}}
	newOffset, err := io.Write(encodeNode(np))
	if err != nil {
		return NoRoot, nil, false, err
	}
	return newOffset, out.oldValue, out.existed, nil
}

// leafValueForInsert builds the slot for a brand-new key (no prior value to
// fold in — an existing key's value is handled by mergeDuplicate instead).
func leafValueForInsert(val []byte, allowDup bool) valueSlot {
	if !allowDup {
		return inlineValue(val)
	}
	return inlineValue(encodeInlineList([][]byte{val}))
}

func insert(io IO, offset uint64, order int, allowDup bool, dupThreshold int, revision uint64, key, val []byte) (insertOutcome, error) {
	buf, err := io.Read(offset)
	if err != nil {
		return insertOutcome{}, err
	}
	k, err := peekKind(buf)
	if err != nil {
		return insertOutcome{}, err
	}

	var out insertOutcome
	if k == kindLeaf {
		out, err = insertLeaf(io, buf, order, allowDup, dupThreshold, revision, key, val)
	} else {
		out, err = insertNode(io, buf, order, allowDup, dupThreshold, revision, key, val)
	}
	if err != nil {
		return insertOutcome{}, err
	}
	// The page image at offset is superseded by out.offset (copy-on-write);
	// queue it for the reclaimer rather than freeing synchronously, since an
	// older reader's snapshot may still be walking it.
	if err := io.Free(offset); err != nil {
		return insertOutcome{}, err
	}
	return out, nil
}

func insertLeaf(io IO, buf []byte, order int, allowDup bool, dupThreshold int, revision uint64, key, val []byte) (insertOutcome, error) {
	lp, err := decodeLeaf(buf)
	if err != nil {
		return insertOutcome{}, err
	}
	idx := searchKeys(lp.keys, key)
	existed := idx < len(lp.keys) && bytes.Equal(lp.keys[idx], key)

	var oldValue []byte
	newKeys := make([][]byte, 0, len(lp.keys)+1)
	newValues := make([]valueSlot, 0, len(lp.values)+1)

	if existed {
		oldValue = firstInlineOrNil(lp.values[idx])
		newKeys = append(newKeys, lp.keys[:idx+1]...)
		newValues = append(newValues, lp.values[:idx]...)

		slot, err := mergeDuplicate(io, lp.values[idx], val, allowDup, dupThreshold, revision, order)
		if err != nil {
			return insertOutcome{}, err
		}
		newValues = append(newValues, slot)

		newKeys = append(newKeys, lp.keys[idx+1:]...)
		newValues = append(newValues, lp.values[idx+1:]...)
	} else {
		newKeys = append(newKeys, lp.keys[:idx]...)
		newKeys = append(newKeys, key)
		newKeys = append(newKeys, lp.keys[idx:]...)

		newValues = append(newValues, lp.values[:idx]...)
		newValues = append(newValues, leafValueForInsert(val, allowDup))
		newValues = append(newValues, lp.values[idx:]...)
	}

	if len(newKeys) <= order {
		offset, err := io.Write(encodeLeaf(leafPage{revision: revision, keys: newKeys, values: newValues}))
		if err != nil {
			return insertOutcome{}, err
		}
		return insertOutcome{offset: offset, oldValue: oldValue, existed: existed}, nil
	}

	left := ceilHalf2(len(newKeys))
	leftOffset, err := io.Write(encodeLeaf(leafPage{revision: revision, keys: newKeys[:left], values: newValues[:left]}))
	if err != nil {
		return insertOutcome{}, err
	}
	rightOffset, err := io.Write(encodeLeaf(leafPage{revision: revision, keys: newKeys[left:], values: newValues[left:]}))
	if err != nil {
		return insertOutcome{}, err
	}
	return insertOutcome{
		offset:      leftOffset,
		splitKey:    newKeys[left],
		splitOffset: rightOffset,
		oldValue:    oldValue,
		existed:     existed,
	}, nil
}

// ceilHalf2 splits n elements, left keeping ceil(n/2) per spec.md §4.6.5.
func ceilHalf2(n int) int { return (n + 1) / 2 }

func firstInlineOrNil(v valueSlot) []byte {
	if v.subTree {
		return nil
	}
	return v.inline
}

// mergeDuplicate folds a newly inserted value into an existing slot.
// Non-dup trees simply replace the value. Dup trees keep an inline list up
// to dupThreshold entries, after which the slot is converted, one-way, into
// a pointer to a sub-tree B+tree whose keys are the duplicate values.
func mergeDuplicate(io IO, existing valueSlot, val []byte, allowDup bool, dupThreshold int, revision uint64, order int) (valueSlot, error) {
	if !allowDup {
		return inlineValue(val), nil
	}
	if existing.subTree {
		newRoot, _, _, err := Insert(io, existing.subTreeOffset, order, false, 0, revision, val, nil)
		if err != nil {
			return valueSlot{}, err
		}
		return subTreeValue(newRoot), nil
	}

	values := decodeInlineList(existing.inline)
	values = insertSortedValue(values, val)
	if len(values) <= dupThreshold {
		return inlineValue(encodeInlineList(values)), nil
	}

	// Overflow: build a fresh sub-tree from the accumulated values.
	subRoot := NoRoot
	var err error
	for _, v := range values {
		subRoot, _, _, err = Insert(io, subRoot, order, false, 0, revision, v, nil)
		if err != nil {
			return valueSlot{}, err
		}
	}
	return subTreeValue(subRoot), nil
}

// insertSortedValue inserts val into values at its sorted position, keeping
// the inline duplicate list ordered the same way the sub-tree overflow path
// orders values (its keys), per spec.md §8 scenario 3: duplicate values for
// a key must browse in ascending order by the value comparator regardless
// of insertion order.
func insertSortedValue(values [][]byte, val []byte) [][]byte {
	idx := searchKeys(values, val)
	out := make([][]byte, 0, len(values)+1)
	out = append(out, values[:idx]...)
	out = append(out, val)
	out = append(out, values[idx:]...)
	return out
}

func encodeInlineList(values [][]byte) []byte {
	buf := appendU32(nil, uint32(len(values)))
	for _, v := range values {
		buf = appendU32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

func decodeInlineList(buf []byte) [][]byte {
	if len(buf) < 4 {
		return nil
	}
	n := beU32(buf)
	pos := 4
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		l := beU32(buf[pos:])
		pos += 4
		out = append(out, buf[pos:pos+int(l)])
		pos += int(l)
	}
	return out
}

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func insertNode(io IO, buf []byte, order int, allowDup bool, dupThreshold int, revision uint64, key, val []byte) (insertOutcome, error) {
	np, err := decodeNode(buf)
	if err != nil {
		return insertOutcome{}, err
	}
	idx := childIndex(np.keys, key)
	childOut, err := insert(io, np.children[idx], order, allowDup, dupThreshold, revision, key, val)
	if err != nil {
		return insertOutcome{}, err
	}

	newKeys := make([][]byte, len(np.keys))
	copy(newKeys, np.keys)
	newChildren := make([]uint64, len(np.children))
	copy(newChildren, np.children)
	newChildren[idx] = childOut.offset

	if childOut.splitKey != nil {
		newKeys = insertAt(newKeys, idx, childOut.splitKey)
		newChildren = insertChildAt(newChildren, idx+1, childOut.splitOffset)
	}

	if len(newKeys) <= order {
		offset, err := io.Write(encodeNode(nodePage{revision: revision, keys: newKeys, children: newChildren}))
		if err != nil {
			return insertOutcome{}, err
		}
		return insertOutcome{offset: offset, oldValue: childOut.oldValue, existed: childOut.existed}, nil
	}

	// Split: promote the removed median, per spec.md §4.6.5.
	mid := len(newKeys) / 2
	leftOffset, err := io.Write(encodeNode(nodePage{revision: revision, keys: newKeys[:mid], children: newChildren[:mid+1]}))
	if err != nil {
		return insertOutcome{}, err
	}
	rightOffset, err := io.Write(encodeNode(nodePage{revision: revision, keys: newKeys[mid+1:], children: newChildren[mid+1:]}))
	if err != nil {
		return insertOutcome{}, err
	}
	return insertOutcome{
		offset:      leftOffset,
		splitKey:    newKeys[mid],
		splitOffset: rightOffset,
		oldValue:    childOut.oldValue,
		existed:     childOut.existed,
	}, nil
}

func insertAt(s [][]byte, idx int, v []byte) [][]byte {
	out := make([][]byte, 0, len(s)+1)
	out = append(out, s[:idx]...)
	out = append(out, v)
	out = append(out, s[idx:]...)
	return out
}

func insertChildAt(s []uint64, idx int, v uint64) []uint64 {
	out := make([]uint64, 0, len(s)+1)
	out = append(out, s[:idx]...)
	out = append(out, v)
	out = append(out, s[idx:]...)
	return out
}

// --- Delete (C6.4.3) ---

type deleteOutcome struct {
	offset    uint64
	underflow bool // fewer than ceilHalf(order) elements, not root
	removed   []byte
	existed   bool
}

// Delete removes key (and, in duplicate mode, specifically matchValue if
// non-nil) from the tree, returning the new root. Root collapse (a node
// left with a single child becomes the new root) is handled here.
func Delete(io IO, root uint64, order int, allowDup bool, revision uint64, key, matchValue []byte) (newRoot uint64, removed []byte, existed bool, err error) {
	if root == NoRoot {
		return NoRoot, nil, false, nil
	}
	out, err := del(io, root, order, allowDup, revision, key, matchValue, true)
	if err != nil {
		return NoRoot, nil, false, err
	}
	if !out.existed {
		return root, nil, false, nil
	}

	buf, err := io.Read(out.offset)
	if err != nil {
		return NoRoot, nil, false, err
	}
	k, err := peekKind(buf)
	if err != nil {
		return NoRoot, nil, false, err
	}
	if k == kindNode {
		np, err := decodeNode(buf)
		if err != nil {
			return NoRoot, nil, false, err
		}
		if len(np.keys) == 0 {
			// Root collapse: the sole remaining child becomes the new root;
			// the now-childless root page itself is discarded.
			if err := io.Free(out.offset); err != nil {
				return NoRoot, nil, false, err
			}
			return np.children[0], out.removed, true, nil
		}
	}
	return out.offset, out.removed, true, nil
}

func del(io IO, offset uint64, order int, allowDup bool, revision uint64, key, matchValue []byte, isRoot bool) (deleteOutcome, error) {
	buf, err := io.Read(offset)
	if err != nil {
		return deleteOutcome{}, err
	}
	k, err := peekKind(buf)
	if err != nil {
		return deleteOutcome{}, err
	}
	var out deleteOutcome
	if k == kindLeaf {
		out, err = deleteLeaf(io, buf, order, allowDup, revision, key, matchValue, isRoot)
	} else {
		out, err = deleteNode(io, buf, order, allowDup, revision, key, matchValue, isRoot)
	}
	if err != nil {
		return deleteOutcome{}, err
	}
	if !out.existed {
		return out, nil
	}
	if err := io.Free(offset); err != nil {
		return deleteOutcome{}, err
	}
	return out, nil
}

func deleteLeaf(io IO, buf []byte, order int, allowDup bool, revision uint64, key, matchValue []byte, isRoot bool) (deleteOutcome, error) {
	lp, err := decodeLeaf(buf)
	if err != nil {
		return deleteOutcome{}, err
	}
	idx := searchKeys(lp.keys, key)
	if idx >= len(lp.keys) || !bytes.Equal(lp.keys[idx], key) {
		return deleteOutcome{existed: false}, nil
	}

	removed := firstInlineOrNil(lp.values[idx])
	keepKey := false
	if allowDup && !lp.values[idx].subTree {
		values := decodeInlineList(lp.values[idx].inline)
		values, removed = removeDuplicate(values, matchValue)
		if len(values) > 0 {
			lp.values[idx] = inlineValue(encodeInlineList(values))
			keepKey = true
		}
	} else if allowDup && matchValue != nil {
		subRoot, _, found, err := Delete(io, lp.values[idx].subTreeOffset, order, false, revision, matchValue, nil)
		if err != nil {
			return deleteOutcome{}, err
		}
		if !found {
			return deleteOutcome{existed: false}, nil
		}
		removed = matchValue
		if _, nonEmpty, err := firstOfSubTree(io, subRoot); err != nil {
			return deleteOutcome{}, err
		} else if nonEmpty {
			lp.values[idx] = subTreeValue(subRoot)
			keepKey = true
		}
	}

	newKeys := make([][]byte, 0, len(lp.keys))
	newValues := make([]valueSlot, 0, len(lp.values))
	newKeys = append(newKeys, lp.keys[:idx]...)
	newValues = append(newValues, lp.values[:idx]...)
	if keepKey {
		newKeys = append(newKeys, lp.keys[idx])
		newValues = append(newValues, lp.values[idx])
	}
	newKeys = append(newKeys, lp.keys[idx+1:]...)
	newValues = append(newValues, lp.values[idx+1:]...)

	offset, err := io.Write(encodeLeaf(leafPage{revision: revision, keys: newKeys, values: newValues}))
	if err != nil {
		return deleteOutcome{}, err
	}
	underflow := !isRoot && len(newKeys) < ceilHalf(order)
	return deleteOutcome{offset: offset, underflow: underflow, removed: removed, existed: true}, nil
}

func removeDuplicate(values [][]byte, match []byte) ([][]byte, []byte) {
	if match == nil {
		if len(values) == 0 {
			return values, nil
		}
		return nil, values[0]
	}
	for i, v := range values {
		if bytes.Equal(v, match) {
			out := make([][]byte, 0, len(values)-1)
			out = append(out, values[:i]...)
			out = append(out, values[i+1:]...)
			return out, v
		}
	}
	return values, nil
}

func deleteNode(io IO, buf []byte, order int, allowDup bool, revision uint64, key, matchValue []byte, isRoot bool) (deleteOutcome, error) {
	np, err := decodeNode(buf)
	if err != nil {
		return deleteOutcome{}, err
	}
	idx := childIndex(np.keys, key)
	childOut, err := del(io, np.children[idx], order, allowDup, revision, key, matchValue, false)
	if err != nil {
		return deleteOutcome{}, err
	}
	if !childOut.existed {
		return deleteOutcome{existed: false}, nil
	}

	children := make([]uint64, len(np.children))
	copy(children, np.children)
	children[idx] = childOut.offset

	if !childOut.underflow {
		offset, err := io.Write(encodeNode(nodePage{revision: revision, keys: np.keys, children: children}))
		if err != nil {
			return deleteOutcome{}, err
		}
		return deleteOutcome{offset: offset, removed: childOut.removed, existed: true}, nil
	}

	newKeys, newChildren, err := rebalance(io, np.keys, children, idx, order, revision)
	if err != nil {
		return deleteOutcome{}, err
	}
	offset, err := io.Write(encodeNode(nodePage{revision: revision, keys: newKeys, children: newChildren}))
	if err != nil {
		return deleteOutcome{}, err
	}
	underflow := !isRoot && len(newKeys) < ceilHalf(order)
	return deleteOutcome{offset: offset, underflow: underflow, removed: childOut.removed, existed: true}, nil
}

// rebalance fixes an underflowing child at idx by borrowing from a sibling
// (left preferred) or, failing that, merging with one, per spec.md §4.6.3.
func rebalance(io IO, keys [][]byte, children []uint64, idx int, order int, revision uint64) ([][]byte, []uint64, error) {
	min := ceilHalf(order)

	if idx > 0 {
		leftBuf, err := io.Read(children[idx-1])
		if err != nil {
			return nil, nil, err
		}
		leftKind, _ := peekKind(leftBuf)
		if leftKind == kindLeaf {
			left, _ := decodeLeaf(leftBuf)
			if len(left.keys) > min {
				return borrowFromLeftLeaf(io, keys, children, idx, left, revision)
			}
		} else {
			left, _ := decodeNode(leftBuf)
			if len(left.keys) > min {
				return borrowFromLeftNode(io, keys, children, idx, left, revision)
			}
		}
	}
	if idx+1 < len(children) {
		rightBuf, err := io.Read(children[idx+1])
		if err != nil {
			return nil, nil, err
		}
		rightKind, _ := peekKind(rightBuf)
		if rightKind == kindLeaf {
			right, _ := decodeLeaf(rightBuf)
			if len(right.keys) > min {
				return borrowFromRightLeaf(io, keys, children, idx, right, revision)
			}
		} else {
			right, _ := decodeNode(rightBuf)
			if len(right.keys) > min {
				return borrowFromRightNode(io, keys, children, idx, right, revision)
			}
		}
	}

	if idx > 0 {
		return mergeChildren(io, keys, children, idx-1, revision)
	}
	return mergeChildren(io, keys, children, idx, revision)
}

func borrowFromLeftLeaf(io IO, keys [][]byte, children []uint64, idx int, left leafPage, revision uint64) ([][]byte, []uint64, error) {
	n := len(left.keys)
	borrowKey, borrowVal := left.keys[n-1], left.values[n-1]

	newLeftOffset, err := io.Write(encodeLeaf(leafPage{revision: revision, keys: left.keys[:n-1], values: left.values[:n-1]}))
	if err != nil {
		return nil, nil, err
	}

	childBuf, err := io.Read(children[idx])
	if err != nil {
		return nil, nil, err
	}
	child, err := decodeLeaf(childBuf)
	if err != nil {
		return nil, nil, err
	}
	newKeys := append([][]byte{borrowKey}, child.keys...)
	newValues := append([]valueSlot{borrowVal}, child.values...)
	newChildOffset, err := io.Write(encodeLeaf(leafPage{revision: revision, keys: newKeys, values: newValues}))
	if err != nil {
		return nil, nil, err
	}

	if err := io.Free(children[idx-1]); err != nil {
		return nil, nil, err
	}
	if err := io.Free(children[idx]); err != nil {
		return nil, nil, err
	}

	outKeys := make([][]byte, len(keys))
	copy(outKeys, keys)
	outKeys[idx-1] = borrowKey
	outChildren := make([]uint64, len(children))
	copy(outChildren, children)
	outChildren[idx-1] = newLeftOffset
	outChildren[idx] = newChildOffset
	return outKeys, outChildren, nil
}

func borrowFromRightLeaf(io IO, keys [][]byte, children []uint64, idx int, right leafPage, revision uint64) ([][]byte, []uint64, error) {
	borrowKey, borrowVal := right.keys[0], right.values[0]

	newRightOffset, err := io.Write(encodeLeaf(leafPage{revision: revision, keys: right.keys[1:], values: right.values[1:]}))
	if err != nil {
		return nil, nil, err
	}

	childBuf, err := io.Read(children[idx])
	if err != nil {
		return nil, nil, err
	}
	child, err := decodeLeaf(childBuf)
	if err != nil {
		return nil, nil, err
	}
	newKeys := append(append([][]byte{}, child.keys...), borrowKey)
	newValues := append(append([]valueSlot{}, child.values...), borrowVal)
	newChildOffset, err := io.Write(encodeLeaf(leafPage{revision: revision, keys: newKeys, values: newValues}))
	if err != nil {
		return nil, nil, err
	}

	if err := io.Free(children[idx]); err != nil {
		return nil, nil, err
	}
	if err := io.Free(children[idx+1]); err != nil {
		return nil, nil, err
	}

	outKeys := make([][]byte, len(keys))
	copy(outKeys, keys)
	outKeys[idx] = right.keys[1]
	outChildren := make([]uint64, len(children))
	copy(outChildren, children)
	outChildren[idx] = newChildOffset
	outChildren[idx+1] = newRightOffset
	return outKeys, outChildren, nil
}

func borrowFromLeftNode(io IO, keys [][]byte, children []uint64, idx int, left nodePage, revision uint64) ([][]byte, []uint64, error) {
	n := len(left.keys)
	demotedKey := keys[idx-1]
	promotedKey := left.keys[n-1]
	movedChild := left.children[n]

	newLeftOffset, err := io.Write(encodeNode(nodePage{revision: revision, keys: left.keys[:n-1], children: left.children[:n]}))
	if err != nil {
		return nil, nil, err
	}

	childBuf, err := io.Read(children[idx])
	if err != nil {
		return nil, nil, err
	}
	child, err := decodeNode(childBuf)
	if err != nil {
		return nil, nil, err
	}
	newKeys := append([][]byte{demotedKey}, child.keys...)
	newChildren := append([]uint64{movedChild}, child.children...)
	newChildOffset, err := io.Write(encodeNode(nodePage{revision: revision, keys: newKeys, children: newChildren}))
	if err != nil {
		return nil, nil, err
	}

	if err := io.Free(children[idx-1]); err != nil {
		return nil, nil, err
	}
	if err := io.Free(children[idx]); err != nil {
		return nil, nil, err
	}

	outKeys := make([][]byte, len(keys))
	copy(outKeys, keys)
	outKeys[idx-1] = promotedKey
	outChildren := make([]uint64, len(children))
	copy(outChildren, children)
	outChildren[idx-1] = newLeftOffset
	outChildren[idx] = newChildOffset
	return outKeys, outChildren, nil
}

func borrowFromRightNode(io IO, keys [][]byte, children []uint64, idx int, right nodePage, revision uint64) ([][]byte, []uint64, error) {
	demotedKey := keys[idx]
	promotedKey := right.keys[0]
	movedChild := right.children[0]

	newRightOffset, err := io.Write(encodeNode(nodePage{revision: revision, keys: right.keys[1:], children: right.children[1:]}))
	if err != nil {
		return nil, nil, err
	}

	childBuf, err := io.Read(children[idx])
	if err != nil {
		return nil, nil, err
	}
	child, err := decodeNode(childBuf)
	if err != nil {
		return nil, nil, err
	}
	newKeys := append(append([][]byte{}, child.keys...), demotedKey)
	newChildren := append(append([]uint64{}, child.children...), movedChild)
	newChildOffset, err := io.Write(encodeNode(nodePage{revision: revision, keys: newKeys, children: newChildren}))
	if err != nil {
		return nil, nil, err
	}

	if err := io.Free(children[idx]); err != nil {
		return nil, nil, err
	}
	if err := io.Free(children[idx+1]); err != nil {
		return nil, nil, err
	}

	outKeys := make([][]byte, len(keys))
	copy(outKeys, keys)
	outKeys[idx] = promotedKey
	outChildren := make([]uint64, len(children))
	copy(outChildren, children)
	outChildren[idx] = newChildOffset
	outChildren[idx+1] = newRightOffset
	return outKeys, outChildren, nil
}

// mergeChildren merges children[leftIdx] and children[leftIdx+1], pulling
// down the parent separator at keys[leftIdx].
func mergeChildren(io IO, keys [][]byte, children []uint64, leftIdx int, revision uint64) ([][]byte, []uint64, error) {
	leftBuf, err := io.Read(children[leftIdx])
	if err != nil {
		return nil, nil, err
	}
	rightBuf, err := io.Read(children[leftIdx+1])
	if err != nil {
		return nil, nil, err
	}
	k, err := peekKind(leftBuf)
	if err != nil {
		return nil, nil, err
	}

	var mergedOffset uint64
	if k == kindLeaf {
		left, err := decodeLeaf(leftBuf)
		if err != nil {
			return nil, nil, err
		}
		right, err := decodeLeaf(rightBuf)
		if err != nil {
			return nil, nil, err
		}
		mergedOffset, err = io.Write(encodeLeaf(leafPage{
			revision: revision,
			keys:     append(append([][]byte{}, left.keys...), right.keys...),
			values:   append(append([]valueSlot{}, left.values...), right.values...),
		}))
		if err != nil {
			return nil, nil, err
		}
	} else {
		left, err := decodeNode(leftBuf)
		if err != nil {
			return nil, nil, err
		}
		right, err := decodeNode(rightBuf)
		if err != nil {
			return nil, nil, err
		}
		mergedKeys := append(append([][]byte{}, left.keys...), append([][]byte{keys[leftIdx]}, right.keys...)...)
		mergedChildren := append(append([]uint64{}, left.children...), right.children...)
		mergedOffset, err = io.Write(encodeNode(nodePage{revision: revision, keys: mergedKeys, children: mergedChildren}))
		if err != nil {
			return nil, nil, err
		}
	}

	if err := io.Free(children[leftIdx]); err != nil {
		return nil, nil, err
	}
	if err := io.Free(children[leftIdx+1]); err != nil {
		return nil, nil, err
	}

	outKeys := make([][]byte, 0, len(keys)-1)
	outKeys = append(outKeys, keys[:leftIdx]...)
	outKeys = append(outKeys, keys[leftIdx+1:]...)
	outChildren := make([]uint64, 0, len(children)-1)
	outChildren = append(outChildren, children[:leftIdx]...)
	outChildren = append(outChildren, mergedOffset)
	outChildren = append(outChildren, children[leftIdx+2:]...)
	return outKeys, outChildren, nil
}

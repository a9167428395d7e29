package btree

import "fmt"

// rawCursor walks a raw []byte-keyed tree leaf-to-leaf, in either
// direction. It is the engine behind both the exported Cursor
// (duplicate-aware, browse_from/browse_backward) and the internal
// firstOfSubTree/subTreeValues lookups used for overflowed duplicate slots.
type rawCursor struct {
	io   IO
	root uint64

	// stack holds the path from root to the current leaf: each frame is an
	// internal node's decoded form plus the child index last descended
	// into, so next/prev can pop back up and move to a sibling in either
	// direction.
	stack []frame

	leaf    leafPage
	leafPos int

	// Exactly one of these may be true at once; when both are false the
	// cursor sits on a real element and leaf/leafPos/stack are valid.
	// before_first/after_last are the two conceptual sentinel positions a
	// cursor rests at outside the sequence (spec.md §4.6.4).
	beforeFirst bool
	afterLast   bool
}

type frame struct {
	node nodePage
	idx  int
}

// newRawCursor positions a cursor at the first key of the tree rooted at
// offset (spec.md's browse(): before_first semantics are handled by the
// exported Cursor, whose first Next reveals this position without moving
// the raw cursor).
func newRawCursor(io IO, offset uint64) (*rawCursor, error) {
	c := &rawCursor{io: io, root: offset}
	if offset == NoRoot {
		c.afterLast = true
		return c, nil
	}
	if err := c.descendLeftmost(offset); err != nil {
		return nil, err
	}
	return c, nil
}

// newRawCursorAtEnd positions a cursor at the last key of the tree rooted at
// offset (spec.md's browse_backward(): after_last semantics are handled by
// the exported Cursor, mirroring newRawCursor).
func newRawCursorAtEnd(io IO, offset uint64) (*rawCursor, error) {
	c := &rawCursor{io: io, root: offset}
	if offset == NoRoot {
		c.beforeFirst = true
		return c, nil
	}
	if err := c.descendRightmost(offset); err != nil {
		return nil, err
	}
	return c, nil
}

// newRawCursorFrom positions a cursor at the first key >= key (spec.md's
// browse_from). If no such key exists, the cursor lands at after_last —
// from which prev() still retreats to the tree's actual last element
// (spec.md §8 scenario 8).
func newRawCursorFrom(io IO, offset uint64, key []byte) (*rawCursor, error) {
	c := &rawCursor{io: io, root: offset}
	if offset == NoRoot {
		c.afterLast = true
		return c, nil
	}
	if err := c.descendTo(offset, key); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *rawCursor) descendLeftmost(offset uint64) error {
	c.stack = c.stack[:0]
	c.beforeFirst, c.afterLast = false, false
	for {
		buf, err := c.io.Read(offset)
		if err != nil {
			return err
		}
		k, err := peekKind(buf)
		if err != nil {
			return err
		}
		if k == kindLeaf {
			lp, err := decodeLeaf(buf)
			if err != nil {
				return err
			}
			c.leaf = lp
			c.leafPos = 0
			if len(lp.keys) == 0 {
				c.afterLast = true
			}
			return nil
		}
		np, err := decodeNode(buf)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, frame{node: np, idx: 0})
		offset = np.children[0]
	}
}

// descendRightmost mirrors descendLeftmost, landing on the tree's last key.
func (c *rawCursor) descendRightmost(offset uint64) error {
	c.stack = c.stack[:0]
	c.beforeFirst, c.afterLast = false, false
	for {
		buf, err := c.io.Read(offset)
		if err != nil {
			return err
		}
		k, err := peekKind(buf)
		if err != nil {
			return err
		}
		if k == kindLeaf {
			lp, err := decodeLeaf(buf)
			if err != nil {
				return err
			}
			c.leaf = lp
			c.leafPos = len(lp.keys) - 1
			if len(lp.keys) == 0 {
				c.beforeFirst = true
			}
			return nil
		}
		np, err := decodeNode(buf)
		if err != nil {
			return err
		}
		lastIdx := len(np.children) - 1
		c.stack = append(c.stack, frame{node: np, idx: lastIdx})
		offset = np.children[lastIdx]
	}
}

func (c *rawCursor) descendTo(offset uint64, key []byte) error {
	c.stack = c.stack[:0]
	c.beforeFirst, c.afterLast = false, false
	for {
		buf, err := c.io.Read(offset)
		if err != nil {
			return err
		}
		k, err := peekKind(buf)
		if err != nil {
			return err
		}
		if k == kindLeaf {
			lp, err := decodeLeaf(buf)
			if err != nil {
				return err
			}
			c.leaf = lp
			c.leafPos = searchKeys(lp.keys, key)
			if c.leafPos >= len(lp.keys) {
				return c.advancePastLeaf()
			}
			return nil
		}
		np, err := decodeNode(buf)
		if err != nil {
			return err
		}
		idx := childIndex(np.keys, key)
		c.stack = append(c.stack, frame{node: np, idx: idx})
		offset = np.children[idx]
	}
}

// valid reports whether the cursor currently sits on a real element.
func (c *rawCursor) valid() bool { return !c.beforeFirst && !c.afterLast }

func (c *rawCursor) key() []byte {
	if !c.valid() {
		return nil
	}
	return c.leaf.keys[c.leafPos]
}

// firstValue returns the slot's first inline value, or resolves a sub-tree
// slot to its first (smallest) duplicate. Used by Cursor.Value in
// non-duplicate mode, which needs no per-duplicate iteration.
func (c *rawCursor) firstValue() ([]byte, error) {
	if !c.valid() {
		return nil, fmt.Errorf("cursor not valid")
	}
	slot := c.leaf.values[c.leafPos]
	if !slot.subTree {
		return slot.inline, nil
	}
	v, ok, err := firstOfSubTree(c.io, slot.subTreeOffset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

// slot exposes the current element's raw value slot, for callers (the
// duplicate-aware typed Cursor) that must enumerate every value rather than
// just the first.
func (c *rawCursor) slot() valueSlot {
	return c.leaf.values[c.leafPos]
}

// next advances to the following distinct key. From after_last it is a
// no-op — hasNext stays false forever past the real end, per spec.md
// §4.6.4 and §8 scenario 8 — and from before_first it (re)enters the
// sequence at its first element.
func (c *rawCursor) next() error {
	if c.afterLast {
		return nil
	}
	if c.beforeFirst {
		if c.root == NoRoot {
			return nil
		}
		return c.descendLeftmost(c.root)
	}
	c.leafPos++
	if c.leafPos < len(c.leaf.keys) {
		return nil
	}
	return c.advancePastLeaf()
}

// prev is next's mirror: a no-op from before_first, and a (re)entry at the
// tree's last element from after_last. The after_last re-entry is what lets
// a browse_from miss still retreat to the true last element (spec.md §8
// scenario 8: browse_from(1500).hasNext = false, prev() = (1000, "1000")).
func (c *rawCursor) prev() error {
	if c.beforeFirst {
		return nil
	}
	if c.afterLast {
		if c.root == NoRoot {
			return nil
		}
		return c.descendRightmost(c.root)
	}
	c.leafPos--
	if c.leafPos >= 0 {
		return nil
	}
	return c.retreatPastLeaf()
}

// clone makes an independent copy of the cursor's position, used by
// peekNext/peekPrev to check reachability without disturbing the original.
func (c *rawCursor) clone() *rawCursor {
	return &rawCursor{
		io:          c.io,
		root:        c.root,
		stack:       append([]frame(nil), c.stack...),
		leaf:        c.leaf,
		leafPos:     c.leafPos,
		beforeFirst: c.beforeFirst,
		afterLast:   c.afterLast,
	}
}

// peekNext reports whether calling next would land on a real element,
// without moving the cursor.
func (c *rawCursor) peekNext() bool {
	c2 := c.clone()
	if err := c2.next(); err != nil {
		return false
	}
	return c2.valid()
}

// peekPrev reports whether calling prev would land on a real element,
// without moving the cursor.
func (c *rawCursor) peekPrev() bool {
	c2 := c.clone()
	if err := c2.prev(); err != nil {
		return false
	}
	return c2.valid()
}

func (c *rawCursor) advancePastLeaf() error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		top.idx++
		if top.idx < len(top.node.children) {
			return c.descendLeftmostFrom(top.node.children[top.idx])
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.afterLast = true
	return nil
}

// retreatPastLeaf mirrors advancePastLeaf, walking back to the previous
// sibling subtree instead of the next one.
func (c *rawCursor) retreatPastLeaf() error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		top.idx--
		if top.idx >= 0 {
			return c.descendRightmostFrom(top.node.children[top.idx])
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.beforeFirst = true
	return nil
}

func (c *rawCursor) descendLeftmostFrom(offset uint64) error {
	for {
		buf, err := c.io.Read(offset)
		if err != nil {
			return err
		}
		k, err := peekKind(buf)
		if err != nil {
			return err
		}
		if k == kindLeaf {
			lp, err := decodeLeaf(buf)
			if err != nil {
				return err
			}
			c.leaf = lp
			c.leafPos = 0
			if len(lp.keys) == 0 {
				return c.advancePastLeaf()
			}
			return nil
		}
		np, err := decodeNode(buf)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, frame{node: np, idx: 0})
		offset = np.children[0]
	}
}

// descendRightmostFrom mirrors descendLeftmostFrom for backward traversal.
func (c *rawCursor) descendRightmostFrom(offset uint64) error {
	for {
		buf, err := c.io.Read(offset)
		if err != nil {
			return err
		}
		k, err := peekKind(buf)
		if err != nil {
			return err
		}
		if k == kindLeaf {
			lp, err := decodeLeaf(buf)
			if err != nil {
				return err
			}
			c.leaf = lp
			c.leafPos = len(lp.keys) - 1
			if len(lp.keys) == 0 {
				return c.retreatPastLeaf()
			}
			return nil
		}
		np, err := decodeNode(buf)
		if err != nil {
			return err
		}
		lastIdx := len(np.children) - 1
		c.stack = append(c.stack, frame{node: np, idx: lastIdx})
		offset = np.children[lastIdx]
	}
}

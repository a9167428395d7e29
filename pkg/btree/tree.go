package btree

import (
	"fmt"

	"github.com/mavibot/mavibot/pkg/serial"
)

// Options configures a single named tree (spec.md's tree-header entity).
type Options struct {
	// Order is the tree header's "page size": the maximum number of
	// keys held by a leaf or separators held by an internal node before
	// it splits. Distinct from the record-manager's page_size (the byte
	// size of a page-image) — see DESIGN.md, Open Question resolution 3.
	Order int
	// AllowDuplicates enables multiple values per key (spec.md §4.6.4).
	AllowDuplicates bool
	// DupThreshold bounds inline duplicate storage before a slot
	// overflows into a sub-tree (spec.md §9 open question; default 8).
	DupThreshold int
}

const DefaultDupThreshold = 8

// Tree is the typed façade over the raw []byte-keyed algorithms: it
// serializes K/V at the boundary and otherwise delegates straight to
// Get/Insert/Delete, which compare serialized key bytes directly (every
// serial.KeySerializer in this module is order-preserving under
// bytes.Compare by construction, so no K round-trip is needed mid-descent).
type Tree[K any, V any] struct {
	io   IO
	root uint64
	opts Options
	kser serial.KeySerializer[K]
	vser serial.ValueSerializer[V]
}

// Open wraps an existing (or empty, root==NoRoot) raw tree for typed access.
func Open[K any, V any](io IO, root uint64, opts Options, kser serial.KeySerializer[K], vser serial.ValueSerializer[V]) *Tree[K, V] {
	if opts.DupThreshold <= 0 {
		opts.DupThreshold = DefaultDupThreshold
	}
	return &Tree[K, V]{io: io, root: root, opts: opts, kser: kser, vser: vser}
}

func (t *Tree[K, V]) Root() uint64 { return t.root }

func (t *Tree[K, V]) Get(key K) (V, bool, error) {
	var zero V
	kb := t.kser.Serialize(key)
	vb, ok, err := Get(t.io, t.root, kb)
	if err != nil || !ok {
		return zero, false, err
	}
	if t.opts.AllowDuplicates {
		slot, _, err := getSlot(t.io, t.root, kb)
		if err != nil {
			return zero, false, err
		}
		if !slot.subTree {
			vals := decodeInlineList(slot.inline)
			if len(vals) == 0 {
				return zero, false, nil
			}
			vb = vals[0]
		}
	}
	v, err := t.vser.Deserialize(serial.NewReader(vb))
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t *Tree[K, V]) HasKey(key K) (bool, error) {
	_, ok, err := Get(t.io, t.root, t.kser.Serialize(key))
	return ok, err
}

// Contains reports whether val is present among key's values. In
// non-duplicate mode this is equivalent to Get returning an equal value.
func (t *Tree[K, V]) Contains(key K, val V) (bool, error) {
	if t.root == NoRoot {
		return false, nil
	}
	slot, ok, err := getSlot(t.io, t.root, t.kser.Serialize(key))
	if err != nil || !ok {
		return false, err
	}
	if !t.opts.AllowDuplicates {
		return bytesEqualValue(slot, t.vser.Serialize(val)), nil
	}
	return containsValue(t.io, slot, t.vser.Serialize(val))
}

func bytesEqualValue(slot valueSlot, want []byte) bool {
	if slot.subTree {
		return false
	}
	if len(slot.inline) != len(want) {
		return false
	}
	for i := range want {
		if slot.inline[i] != want[i] {
			return false
		}
	}
	return true
}

// Insert inserts or updates key -> val under the given revision, returning
// whether a prior value existed. The new root must be persisted by the
// caller (the engine commits it into the tree-of-trees / header on commit).
func (t *Tree[K, V]) Insert(revision uint64, key K, val V) (existed bool, err error) {
	kb := t.kser.Serialize(key)
	vb := t.vser.Serialize(val)
	newRoot, _, existed, err := Insert(t.io, t.root, t.opts.Order, t.opts.AllowDuplicates, t.opts.DupThreshold, revision, kb, vb)
	if err != nil {
		return false, err
	}
	t.root = newRoot
	return existed, nil
}

// Delete removes key (and, in duplicate mode, only the matching value when
// match is supplied) under the given revision.
func (t *Tree[K, V]) Delete(revision uint64, key K, match *V) (existed bool, err error) {
	kb := t.kser.Serialize(key)
	var mb []byte
	if match != nil {
		mb = t.vser.Serialize(*match)
	}
	newRoot, _, existed, err := Delete(t.io, t.root, t.opts.Order, t.opts.AllowDuplicates, revision, kb, mb)
	if err != nil {
		return false, err
	}
	t.root = newRoot
	return existed, nil
}

// Cursor is a typed, bidirectional iterator over a Tree's keys in order,
// implementing spec.md's browse()/browse_from()/browse_backward() cursor
// semantics (§4.6.4): it starts positioned at one of the two conceptual
// sentinels (before_first for a forward cursor, after_last for a backward
// one) and must be advanced once, via Next or Prev, before the first
// Key()/Value() call. In duplicate-values mode the cursor visits every
// (key,value) pair, not just each distinct key.
type Cursor[K any, V any] struct {
	raw      *rawCursor
	kser     serial.KeySerializer[K]
	vser     serial.ValueSerializer[V]
	allowDup bool

	startedFwd  bool
	startedBack bool

	// dupLoaded/dupValues/dupIdx track per-duplicate position within the
	// raw cursor's current key; only meaningful when allowDup is true.
	// dupLoaded is cleared whenever the raw cursor moves to a new key.
	dupLoaded bool
	dupValues [][]byte
	dupIdx    int
}

// Browse returns a cursor positioned at before_first.
func (t *Tree[K, V]) Browse() (*Cursor[K, V], error) {
	rc, err := newRawCursor(t.io, t.root)
	if err != nil {
		return nil, err
	}
	return &Cursor[K, V]{raw: rc, kser: t.kser, vser: t.vser, allowDup: t.opts.AllowDuplicates}, nil
}

// BrowseBackward returns a cursor positioned at after_last; repeated Prev
// calls yield the tree's keys in descending order. spec.md §8's testable
// property holds: Browse() and BrowseBackward() over the same revision
// yield reverse sequences of one another.
func (t *Tree[K, V]) BrowseBackward() (*Cursor[K, V], error) {
	rc, err := newRawCursorAtEnd(t.io, t.root)
	if err != nil {
		return nil, err
	}
	return &Cursor[K, V]{raw: rc, kser: t.kser, vser: t.vser, allowDup: t.opts.AllowDuplicates}, nil
}

// BrowseFrom returns a cursor positioned at the first key >= key (or at
// after_last if no such key exists — from which Prev still retreats to the
// tree's actual last element, spec.md §8 scenario 8).
func (t *Tree[K, V]) BrowseFrom(key K) (*Cursor[K, V], error) {
	rc, err := newRawCursorFrom(t.io, t.root, t.kser.Serialize(key))
	if err != nil {
		return nil, err
	}
	return &Cursor[K, V]{raw: rc, kser: t.kser, vser: t.vser, allowDup: t.opts.AllowDuplicates}, nil
}

func (c *Cursor[K, V]) invalidateDup() { c.dupLoaded = false }

// loadDup decodes the current key's duplicate-value list, in ascending
// order, resolving an overflowed slot's sub-tree if needed.
func (c *Cursor[K, V]) loadDup() error {
	if c.dupLoaded {
		return nil
	}
	slot := c.raw.slot()
	if !slot.subTree {
		c.dupValues = decodeInlineList(slot.inline)
	} else {
		vs, err := subTreeValues(c.raw.io, slot.subTreeOffset)
		if err != nil {
			return err
		}
		c.dupValues = vs
	}
	c.dupLoaded = true
	return nil
}

// Next advances the cursor and reports whether it now sits on a valid
// (key,value) pair. Mirrors the teacher's sql.Rows-style "call Next before
// reading" protocol rather than a separate HasNext/Next pair. In duplicate
// mode, successive Next calls walk every value for a key (ascending) before
// moving to the following key.
func (c *Cursor[K, V]) Next() bool {
	if !c.startedFwd {
		c.startedFwd = true
		if !c.raw.valid() {
			return false
		}
		c.invalidateDup()
		return c.enterKeyForward()
	}
	if c.allowDup {
		if err := c.loadDup(); err != nil {
			return false
		}
		if c.dupIdx+1 < len(c.dupValues) {
			c.dupIdx++
			return true
		}
	}
	if err := c.raw.next(); err != nil {
		return false
	}
	if !c.raw.valid() {
		return false
	}
	c.invalidateDup()
	return c.enterKeyForward()
}

// Prev retreats the cursor and reports whether it now sits on a valid
// (key,value) pair. Prev after BrowseFrom found no match still lands on the
// tree's true last element (spec.md §8 scenario 8). In duplicate mode,
// successive Prev calls walk a key's values in descending order, the exact
// reverse of Next's ascending order (spec.md §8's testable property).
func (c *Cursor[K, V]) Prev() bool {
	if !c.startedBack {
		c.startedBack = true
		if !c.raw.valid() {
			if err := c.raw.prev(); err != nil {
				return false
			}
			if !c.raw.valid() {
				return false
			}
			c.invalidateDup()
			return c.enterKeyBackward()
		}
		c.invalidateDup()
		return c.enterKeyBackward()
	}
	if c.allowDup {
		if err := c.loadDup(); err != nil {
			return false
		}
		if c.dupIdx > 0 {
			c.dupIdx--
			return true
		}
	}
	if err := c.raw.prev(); err != nil {
		return false
	}
	if !c.raw.valid() {
		return false
	}
	c.invalidateDup()
	return c.enterKeyBackward()
}

// enterKeyForward positions dupIdx at the smallest value of the raw
// cursor's current key (a no-op outside duplicate mode).
func (c *Cursor[K, V]) enterKeyForward() bool {
	if !c.allowDup {
		return true
	}
	if err := c.loadDup(); err != nil {
		return false
	}
	c.dupIdx = 0
	return len(c.dupValues) > 0
}

// enterKeyBackward positions dupIdx at the largest value of the raw
// cursor's current key (a no-op outside duplicate mode).
func (c *Cursor[K, V]) enterKeyBackward() bool {
	if !c.allowDup {
		return true
	}
	if err := c.loadDup(); err != nil {
		return false
	}
	c.dupIdx = len(c.dupValues) - 1
	return c.dupIdx >= 0
}

// HasNext reports whether a following Next call would land on a real
// element, without moving the cursor.
func (c *Cursor[K, V]) HasNext() bool {
	if !c.startedFwd {
		return c.raw.valid()
	}
	if c.allowDup {
		if err := c.loadDup(); err == nil && c.dupIdx+1 < len(c.dupValues) {
			return true
		}
	}
	return c.raw.peekNext()
}

// HasPrev reports whether a following Prev call would land on a real
// element, without moving the cursor.
func (c *Cursor[K, V]) HasPrev() bool {
	if !c.startedBack {
		if c.raw.valid() {
			return true
		}
		return c.raw.peekPrev()
	}
	if c.allowDup {
		if err := c.loadDup(); err == nil && c.dupIdx > 0 {
			return true
		}
	}
	return c.raw.peekPrev()
}

// NextKey advances past any remaining duplicate values for the current key
// straight to the following distinct key (spec.md §4.6.4's nextKey). Called
// as a cursor's first navigation call, it behaves like Next (reveals the
// first key without moving).
func (c *Cursor[K, V]) NextKey() bool {
	if !c.startedFwd {
		c.startedFwd = true
		if !c.raw.valid() {
			return false
		}
		c.invalidateDup()
		return c.enterKeyForward()
	}
	if err := c.raw.next(); err != nil {
		return false
	}
	if !c.raw.valid() {
		return false
	}
	c.invalidateDup()
	return c.enterKeyForward()
}

// PrevKey retreats past any remaining duplicate values for the current key
// straight to the previous distinct key (spec.md §4.6.4's prevKey). Called
// as a cursor's first navigation call, it behaves like Prev.
func (c *Cursor[K, V]) PrevKey() bool {
	if !c.startedBack {
		c.startedBack = true
		if !c.raw.valid() {
			if err := c.raw.prev(); err != nil {
				return false
			}
			if !c.raw.valid() {
				return false
			}
			c.invalidateDup()
			return c.enterKeyBackward()
		}
		c.invalidateDup()
		return c.enterKeyBackward()
	}
	if err := c.raw.prev(); err != nil {
		return false
	}
	if !c.raw.valid() {
		return false
	}
	c.invalidateDup()
	return c.enterKeyBackward()
}

func (c *Cursor[K, V]) Key() (K, error) {
	r := serial.NewReader(c.raw.key())
	return c.kser.Deserialize(r)
}

func (c *Cursor[K, V]) Value() (V, error) {
	var zero V
	if !c.allowDup {
		vb, err := c.raw.firstValue()
		if err != nil {
			return zero, err
		}
		return c.vser.Deserialize(serial.NewReader(vb))
	}
	if err := c.loadDup(); err != nil {
		return zero, err
	}
	if c.dupIdx < 0 || c.dupIdx >= len(c.dupValues) {
		return zero, fmt.Errorf("cursor not positioned on a value")
	}
	return c.vser.Deserialize(serial.NewReader(c.dupValues[c.dupIdx]))
}

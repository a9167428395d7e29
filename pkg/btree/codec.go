// Package btree implements C5 (node/leaf codec) and C6 (search, insert,
// delete, cursor) of the B+tree. Nodes are tagged byte-slice variants, the
// re-architecture spec.md §9 calls for in place of inheritance among
// leaf/node/value-holder classes; tree_db's BNode/BTree pair is the idiom
// this is grounded on, generalized from a single fixed-size page to a
// variable-length record carried by pkg/chain, and from byte-size fill
// targets to the element-count fill targets spec.md's page_size calls for.
package btree

import (
	"encoding/binary"
	"fmt"
)

type kind uint8

const (
	kindLeaf kind = 0x01
	kindNode kind = 0x02
)

// subTreeValueLen is the value_len sentinel marking a leaf slot that has
// overflowed into a duplicate-values sub-tree, per spec.md §6.
const subTreeValueLen = 0xFFFFFFFF

const headerFixedLen = 1 + 8 + 4 // kind + revision + n

// leafPage is the decoded form of a leaf page-image payload.
type leafPage struct {
	revision uint64
	keys     [][]byte
	values   []valueSlot
}

// valueSlot is the tagged value-slot variant spec.md §9 calls for:
// Value = Inline(bytes) | SubTree(offset).
type valueSlot struct {
	subTree       bool
	inline        []byte
	subTreeOffset uint64
}

func inlineValue(b []byte) valueSlot { return valueSlot{inline: b} }
func subTreeValue(offset uint64) valueSlot {
	return valueSlot{subTree: true, subTreeOffset: offset}
}

// nodePage is the decoded form of an internal-node page-image payload:
// n separator keys and n+1 child offsets.
type nodePage struct {
	revision uint64
	keys     [][]byte
	children []uint64
}

func peekKind(buf []byte) (kind, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("empty page payload")
	}
	switch kind(buf[0]) {
	case kindLeaf, kindNode:
		return kind(buf[0]), nil
	default:
		return 0, fmt.Errorf("unknown page kind %#x", buf[0])
	}
}

func encodeLeaf(l leafPage) []byte {
	buf := make([]byte, 0, 64*len(l.keys)+headerFixedLen)
	buf = append(buf, byte(kindLeaf))
	buf = appendU64(buf, l.revision)
	buf = appendU32(buf, uint32(len(l.keys)))
	for _, k := range l.keys {
		buf = appendU32(buf, uint32(len(k)))
		buf = append(buf, k...)
	}
	for _, v := range l.values {
		if v.subTree {
			buf = appendU32(buf, subTreeValueLen)
			buf = appendU64(buf, v.subTreeOffset)
		} else {
			buf = appendU32(buf, uint32(len(v.inline)))
			buf = append(buf, v.inline...)
		}
	}
	return buf
}

func decodeLeaf(buf []byte) (leafPage, error) {
	k, err := peekKind(buf)
	if err != nil {
		return leafPage{}, err
	}
	if k != kindLeaf {
		return leafPage{}, fmt.Errorf("expected leaf page, got kind %#x", buf[0])
	}
	pos := 1
	revision := binary.BigEndian.Uint64(buf[pos:])
	pos += 8
	n := binary.BigEndian.Uint32(buf[pos:])
	pos += 4

	keys := make([][]byte, n)
	for i := range keys {
		klen := binary.BigEndian.Uint32(buf[pos:])
		pos += 4
		keys[i] = buf[pos : pos+int(klen)]
		pos += int(klen)
	}
	values := make([]valueSlot, n)
	for i := range values {
		vlen := binary.BigEndian.Uint32(buf[pos:])
		pos += 4
		if vlen == subTreeValueLen {
			offset := binary.BigEndian.Uint64(buf[pos:])
			pos += 8
			values[i] = subTreeValue(offset)
		} else {
			values[i] = inlineValue(buf[pos : pos+int(vlen)])
			pos += int(vlen)
		}
	}
	return leafPage{revision: revision, keys: keys, values: values}, nil
}

func encodeNode(n nodePage) []byte {
	buf := make([]byte, 0, 32*len(n.keys)+headerFixedLen)
	buf = append(buf, byte(kindNode))
	buf = appendU64(buf, n.revision)
	buf = appendU32(buf, uint32(len(n.keys)))
	for _, k := range n.keys {
		buf = appendU32(buf, uint32(len(k)))
		buf = append(buf, k...)
	}
	for _, c := range n.children {
		buf = appendU64(buf, c)
	}
	return buf
}

func decodeNode(buf []byte) (nodePage, error) {
	k, err := peekKind(buf)
	if err != nil {
		return nodePage{}, err
	}
	if k != kindNode {
		return nodePage{}, fmt.Errorf("expected internal node page, got kind %#x", buf[0])
	}
	pos := 1
	revision := binary.BigEndian.Uint64(buf[pos:])
	pos += 8
	n := binary.BigEndian.Uint32(buf[pos:])
	pos += 4

	keys := make([][]byte, n)
	for i := range keys {
		klen := binary.BigEndian.Uint32(buf[pos:])
		pos += 4
		keys[i] = buf[pos : pos+int(klen)]
		pos += int(klen)
	}
	children := make([]uint64, n+1)
	for i := range children {
		children[i] = binary.BigEndian.Uint64(buf[pos:])
		pos += 8
	}
	return nodePage{revision: revision, keys: keys, children: children}, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

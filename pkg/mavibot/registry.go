package mavibot

import (
	"encoding/binary"
	"io"
)

// treeEntry is the tree-of-trees' value type (C9): everything the engine
// needs to reopen a named tree without the caller re-supplying its shape,
// short of the K/V serializers themselves (those remain an external
// collaborator, supplied fresh by the caller on every GetTree call).
type treeEntry struct {
	Root            uint64
	Order           uint32
	AllowDuplicates bool
	DupThreshold    uint32
}

const treeEntrySize = 8 + 4 + 1 + 4

type treeEntrySerializer struct{}

func (treeEntrySerializer) Serialize(e treeEntry) []byte {
	buf := make([]byte, treeEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], e.Root)
	binary.BigEndian.PutUint32(buf[8:12], e.Order)
	if e.AllowDuplicates {
		buf[12] = 1
	}
	binary.BigEndian.PutUint32(buf[13:17], e.DupThreshold)
	return buf
}

func (treeEntrySerializer) Deserialize(r io.Reader) (treeEntry, error) {
	buf := make([]byte, treeEntrySize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return treeEntry{}, err
	}
	return treeEntry{
		Root:            binary.BigEndian.Uint64(buf[0:8]),
		Order:           binary.BigEndian.Uint32(buf[8:12]),
		AllowDuplicates: buf[12] == 1,
		DupThreshold:    binary.BigEndian.Uint32(buf[13:17]),
	}, nil
}

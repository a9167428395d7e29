// Package header implements C4: the record-manager header, persisted in two
// alternating slots so that a torn write of one slot is always recoverable
// from the other (spec.md §4.4/§6).
package header

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Magic identifies a Mavibot file, per spec.md §6.
const Magic = "MVBT"

// Size is the encoded length of a header slot. It must fit within the
// smallest allowed page size (page.MinPageSize, 64 bytes).
const Size = 4 + 4 + 8 + 4 + 8 + 8 + 8 + 4 // = 48

// NoOffset marks an absent pointer (empty free list, or a freshly created
// tree-of-trees with no root page yet).
const NoOffset = ^uint64(0)

// Header is the decoded record-manager header: page size; a monotonic
// commit sequence; the tree-of-trees root; the free-page-list head; and the
// current published revision.
type Header struct {
	Version          uint32
	Seq              uint64
	PageSize         uint32
	TreeOfTreesRoot  uint64
	FreePageListHead uint64
	CurrentRevision  uint64
}

// ErrCorrupt means a slot's magic or checksum did not validate.
type ErrCorrupt struct{ Reason string }

func (e *ErrCorrupt) Error() string { return "corrupt header: " + e.Reason }

// Encode serializes h into a Size-byte slot, computing the trailing crc32
// over every preceding field per spec.md's normative layout.
func Encode(h Header) []byte {
	buf := make([]byte, Size)
	copy(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint64(buf[8:16], h.Seq)
	binary.BigEndian.PutUint32(buf[16:20], h.PageSize)
	binary.BigEndian.PutUint64(buf[20:28], h.TreeOfTreesRoot)
	binary.BigEndian.PutUint64(buf[28:36], h.FreePageListHead)
	binary.BigEndian.PutUint64(buf[36:44], h.CurrentRevision)
	sum := crc32.ChecksumIEEE(buf[0:44])
	binary.BigEndian.PutUint32(buf[44:48], sum)
	return buf
}

// Decode validates and parses a Size-byte slot.
func Decode(buf []byte) (Header, error) {
	if len(buf) < Size {
		return Header{}, &ErrCorrupt{Reason: "short slot"}
	}
	if string(buf[0:4]) != Magic {
		return Header{}, &ErrCorrupt{Reason: "bad magic"}
	}
	want := crc32.ChecksumIEEE(buf[0:44])
	got := binary.BigEndian.Uint32(buf[44:48])
	if want != got {
		return Header{}, &ErrCorrupt{Reason: fmt.Sprintf("checksum mismatch: want %x got %x", want, got)}
	}
	return Header{
		Version:          binary.BigEndian.Uint32(buf[4:8]),
		Seq:              binary.BigEndian.Uint64(buf[8:16]),
		PageSize:         binary.BigEndian.Uint32(buf[16:20]),
		TreeOfTreesRoot:  binary.BigEndian.Uint64(buf[20:28]),
		FreePageListHead: binary.BigEndian.Uint64(buf[28:36]),
		CurrentRevision:  binary.BigEndian.Uint64(buf[36:44]),
	}, nil
}

// ProbePageSize decodes only the page size field from a candidate slot A
// (file offset 0), without knowing the real page size in advance — needed
// to bootstrap opening an existing file, since slot B's location (offset =
// page_size) isn't known until slot A has been read. Spec.md's header
// layout is the same regardless of page size, so this is safe: the decode
// above already validates magic and checksum before any field is trusted.
func ProbePageSize(slotA []byte) (uint32, error) {
	h, err := Decode(slotA)
	if err != nil {
		return 0, err
	}
	return h.PageSize, nil
}

// Choose picks the authoritative slot: whichever decodes validly and has
// the higher sequence number. If exactly one decodes, that one wins. If
// neither decodes, returns ErrCorrupt (spec.md §4.8: "log if both fail, and
// fail the open with CorruptFile").
func Choose(slotA, slotB []byte) (Header, error) {
	ha, errA := Decode(slotA)
	hb, errB := Decode(slotB)
	switch {
	case errA == nil && errB == nil:
		if hb.Seq > ha.Seq {
			return hb, nil
		}
		return ha, nil
	case errA == nil:
		return ha, nil
	case errB == nil:
		return hb, nil
	default:
		return Header{}, &ErrCorrupt{Reason: fmt.Sprintf("both slots invalid: %v / %v", errA, errB)}
	}
}

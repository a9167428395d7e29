// Package chain implements C2: encoding an arbitrarily-sized logical record
// as a linked chain of fixed-size page-images, and decoding it back.
package chain

import (
	"encoding/binary"
	"fmt"
)

// NoNext is the sentinel next_page_offset value marking the last page of a
// chain (and the empty free list), per spec's file format: 0xFFFFFFFFFFFFFFFF.
const NoNext = ^uint64(0)

const nextPtrSize = 8
const logicalSizeFieldSize = 4

// ErrCorrupt signals a chain whose declared length does not match its
// decoded payload, or whose next_page_offset escapes the file.
type ErrCorrupt struct {
	Reason string
}

func (e *ErrCorrupt) Error() string { return "corrupt page chain: " + e.Reason }

// PageIO is the narrow page-level surface the chain codec needs; satisfied
// by *pkg/page.Store.
type PageIO interface {
	PageSize() uint32
	ReadPage(offset uint64) ([]byte, error)
	WritePage(offset uint64, data []byte) error
}

// Allocator supplies the offset for a new page-image, whether from the free
// list or by extending the file; satisfied by the engine's free-page
// manager (C3).
type Allocator interface {
	Allocate() (uint64, error)
}

// Write encodes data as a chain of page-images via alloc and io, and returns
// the offset of the chain's first page (the record's identity).
func Write(io PageIO, alloc Allocator, data []byte) (uint64, error) {
	pageSize := int(io.PageSize())
	payloadCap := pageSize - nextPtrSize
	firstCap := payloadCap - logicalSizeFieldSize
	if firstCap <= 0 {
		return 0, fmt.Errorf("page size %d too small to hold a chain header", pageSize)
	}

	offsets := make([]uint64, 0, 1)
	first := true
	remaining := data
	for first || len(remaining) > 0 {
		offset, err := alloc.Allocate()
		if err != nil {
			return 0, err
		}
		offsets = append(offsets, offset)

		cap := payloadCap
		if first {
			cap = firstCap
		}
		n := cap
		if n > len(remaining) {
			n = len(remaining)
		}

		buf := make([]byte, pageSize)
		// next_page_offset is patched in a second pass once all offsets are known.
		pos := nextPtrSize
		if first {
			binary.BigEndian.PutUint32(buf[pos:], uint32(len(data)))
			pos += logicalSizeFieldSize
		}
		copy(buf[pos:], remaining[:n])
		remaining = remaining[n:]

		if err := io.WritePage(offset, buf); err != nil {
			return 0, err
		}
		first = false
	}

	// Second pass: chain next_page_offset forward now that every page's
	// offset is known, then NoNext-terminate the last one.
	for i, offset := range offsets {
		page, err := io.ReadPage(offset)
		if err != nil {
			return 0, err
		}
		next := NoNext
		if i+1 < len(offsets) {
			next = offsets[i+1]
		}
		binary.BigEndian.PutUint64(page[:nextPtrSize], next)
		if err := io.WritePage(offset, page); err != nil {
			return 0, err
		}
	}

	return offsets[0], nil
}

// Offsets walks the chain beginning at offset and returns every page-image
// offset in it, in chain order. Used by callers (the reclaimer, C8) that
// need to release an entire superseded record's pages to the free list.
func Offsets(io PageIO, offset uint64) ([]uint64, error) {
	var out []uint64
	cur := offset
	for cur != NoNext {
		out = append(out, cur)
		page, err := io.ReadPage(cur)
		if err != nil {
			return nil, err
		}
		cur = binary.BigEndian.Uint64(page[:nextPtrSize])
	}
	return out, nil
}

// Read decodes the logical record whose chain begins at offset.
func Read(io PageIO, offset uint64) ([]byte, error) {
	first, err := io.ReadPage(offset)
	if err != nil {
		return nil, err
	}
	next := binary.BigEndian.Uint64(first[:nextPtrSize])
	logicalSize := binary.BigEndian.Uint32(first[nextPtrSize : nextPtrSize+logicalSizeFieldSize])

	out := make([]byte, 0, logicalSize)
	firstPayload := first[nextPtrSize+logicalSizeFieldSize:]
	n := len(firstPayload)
	if uint32(n) > logicalSize {
		n = int(logicalSize)
	}
	out = append(out, firstPayload[:n]...)

	for next != NoNext && uint32(len(out)) < logicalSize {
		page, err := io.ReadPage(next)
		if err != nil {
			return nil, &ErrCorrupt{Reason: fmt.Sprintf("next_page_offset %d: %v", next, err)}
		}
		payload := page[nextPtrSize:]
		remain := int(logicalSize) - len(out)
		if remain < len(payload) {
			payload = payload[:remain]
		}
		out = append(out, payload...)
		next = binary.BigEndian.Uint64(page[:nextPtrSize])
	}

	if uint32(len(out)) != logicalSize {
		return nil, &ErrCorrupt{Reason: fmt.Sprintf("declared length %d but decoded %d bytes", logicalSize, len(out))}
	}
	return out, nil
}

package page

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

func digest(offset uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], offset)
	return xxhash.Sum64(buf[:])
}

// Package page implements C1: reading and writing fixed-size page-images to
// a single backing file, plus an optional small LRU cache with observable
// hit/miss counters. It is the lowest layer of the engine; every higher
// component (chain, freelist, header, btree) addresses the file only in
// units of whole pages.
package page

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MinPageSize is the smallest page size the format allows (spec: page_size >= 64).
const MinPageSize = 64

// ErrOutOfRange is returned when an offset falls outside the current file.
type ErrOutOfRange struct {
	Offset uint64
	Size   uint64
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("page offset %d out of range (file size %d)", e.Offset, e.Size)
}

// Store owns the backing file and the mmap used to serve reads. Writes go
// through pwrite directly, following tree_db/pkg/storage/kv.go's split
// between an mmap'd read path and a pwrite write path; x/sys/unix replaces
// the teacher's direct use of the deprecated syscall package.
type Store struct {
	path     string
	pageSize uint32
	fd       int

	mmapTotal  int
	mmapChunks [][]byte
	fileSize   int64

	cache *lruCache

	hits, misses uint64
}

// Open creates the file (fsyncing its parent directory so the directory
// entry itself survives a crash, per tree_db's createFileSync) if it does
// not exist, or opens it and maps it in if it does. cacheCapacity is the
// number of pages the optional LRU may hold; 0 disables caching.
func Open(path string, pageSize uint32, cacheCapacity int) (*Store, error) {
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d", pageSize, MinPageSize)
	}

	fd, created, err := openFileSync(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, pageSize: pageSize, fd: fd}
	if cacheCapacity > 0 {
		s.cache = newLRUCache(cacheCapacity)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fstat: %w", err)
	}
	s.fileSize = st.Size

	if !created && s.fileSize > 0 {
		if err := s.mapRegion(0, int(s.fileSize)); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	return s, nil
}

func openFileSync(path string) (fd int, created bool, err error) {
	_, statErr := os.Stat(path)
	created = os.IsNotExist(statErr)

	fd, err = unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return -1, false, fmt.Errorf("open %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	dirfd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		unix.Close(fd)
		return -1, false, fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer unix.Close(dirfd)
	if err := unix.Fsync(dirfd); err != nil {
		unix.Close(fd)
		return -1, false, fmt.Errorf("fsync dir %s: %w", dir, err)
	}
	return fd, created, nil
}

func (s *Store) mapRegion(offset int64, size int) error {
	chunk, err := unix.Mmap(s.fd, offset, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	s.mmapChunks = append(s.mmapChunks, chunk)
	s.mmapTotal += size
	return nil
}

// PageSize returns the configured fixed page size.
func (s *Store) PageSize() uint32 { return s.pageSize }

// PageCount returns the number of whole pages currently in the file.
func (s *Store) PageCount() uint64 {
	return uint64(s.fileSize) / uint64(s.pageSize)
}

// ReadPage returns a copy of the page at the given byte offset. offset must
// be page-aligned. Returns ErrOutOfRange if the page lies beyond the file.
func (s *Store) ReadPage(offset uint64) ([]byte, error) {
	if offset%uint64(s.pageSize) != 0 {
		return nil, fmt.Errorf("page offset %d is not page-aligned (page size %d)", offset, s.pageSize)
	}
	if offset+uint64(s.pageSize) > uint64(s.fileSize) {
		return nil, &ErrOutOfRange{Offset: offset, Size: uint64(s.fileSize)}
	}

	if s.cache != nil {
		if buf, ok := s.cache.get(offset); ok {
			s.hits++
			return buf, nil
		}
		s.misses++
	}

	buf := make([]byte, s.pageSize)
	start := uint64(0)
	for _, chunk := range s.mmapChunks {
		end := start + uint64(len(chunk))
		if offset >= start && offset < end {
			rel := offset - start
			copy(buf, chunk[rel:rel+uint64(s.pageSize)])
			if s.cache != nil {
				s.cache.put(offset, buf)
			}
			return buf, nil
		}
		start = end
	}
	// Pages written since the last Sync lie past the mapping; read them
	// straight from the file.
	if _, err := unix.Pread(s.fd, buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("pread: %w", err)
	}
	if s.cache != nil {
		s.cache.put(offset, buf)
	}
	return buf, nil
}

// WritePage writes a page-sized buffer at the given offset, extending the
// file if the offset lies at or beyond the current end of file. The read
// mmap is not extended here; ReadPage serves pages past it with pread. The
// write is not durable until Sync is called.
func (s *Store) WritePage(offset uint64, data []byte) error {
	if uint32(len(data)) != s.pageSize {
		return fmt.Errorf("page size mismatch: got %d want %d", len(data), s.pageSize)
	}
	if offset%uint64(s.pageSize) != 0 {
		return fmt.Errorf("page offset %d is not page-aligned", offset)
	}

	need := int64(offset) + int64(s.pageSize)
	if need > s.fileSize {
		s.fileSize = need
	}

	if _, err := unix.Pwrite(s.fd, data, int64(offset)); err != nil {
		return fmt.Errorf("pwrite: %w", err)
	}

	if s.cache != nil {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.cache.put(offset, cp)
	}
	return nil
}

// Append writes data as a new page at the current end of file and returns
// its offset.
func (s *Store) Append(data []byte) (uint64, error) {
	offset := uint64(s.fileSize)
	if err := s.WritePage(offset, data); err != nil {
		return 0, err
	}
	return offset, nil
}

// Sync flushes outstanding writes and, if the file grew and the current
// mapping ends on an OS page boundary, maps the new extent so subsequent
// ReadPage calls read it from memory. Pages outside the mapping are read
// with pread.
func (s *Store) Sync() error {
	if err := unix.Fsync(s.fd); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if s.fileSize > int64(s.mmapTotal) && s.mmapTotal%os.Getpagesize() == 0 {
		if err := s.mapRegion(int64(s.mmapTotal), int(s.fileSize)-s.mmapTotal); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps and closes the backing file.
func (s *Store) Close() error {
	for _, chunk := range s.mmapChunks {
		if err := unix.Munmap(chunk); err != nil {
			return err
		}
	}
	return unix.Close(s.fd)
}

// CacheStats returns cumulative hit/miss counts for the optional page cache;
// the engine exposes them through DB.PageCacheStats.
func (s *Store) CacheStats() (hits, misses uint64) {
	return s.hits, s.misses
}

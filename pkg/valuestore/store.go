// pkg/valuestore/store.go
// Package valuestore implements the Value Store: durable blob storage for
// user values, addressable by an opaque Locator. Layout is segmented
// append-only data files memory-mapped via mmap.go/mmap_unix.go, each
// holding length-prefixed, CRC32-protected records.
package valuestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"omendb/pkg/locator"
	"omendb/pkg/omenerr"
)

// MaxValueSize is the largest value this store accepts.
const MaxValueSize = 8 << 20 // 8 MiB

// DefaultSegmentRolloverSize is the byte size at which the active segment
// is sealed and a new one is created.
const DefaultSegmentRolloverSize = 64 << 20 // 64 MiB

const segmentFilePrefix = "segment-"
const segmentFileSuffix = ".data"

// Store manages a directory of value segments.
type Store struct {
	mu       sync.RWMutex
	dir      string
	segments map[uint32]*segment
	active   *segment
	nextID   uint32
	rollover int64
}

// Open opens (creating if necessary) a Value Store rooted at dir.
func Open(dir string, rolloverSize int64) (*Store, error) {
	if rolloverSize <= 0 {
		rolloverSize = DefaultSegmentRolloverSize
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, omenerr.New(omenerr.KindIo, "valuestore.open", err)
	}

	s := &Store{dir: dir, segments: make(map[uint32]*segment), rollover: rolloverSize}

	ids, err := existingSegmentIDs(dir)
	if err != nil {
		return nil, omenerr.New(omenerr.KindIo, "valuestore.open", err)
	}

	for _, id := range ids {
		seg, err := openSegment(id, segmentPath(dir, id))
		if err != nil {
			return nil, omenerr.New(omenerr.KindCorruption, "valuestore.open", err)
		}
		s.segments[id] = seg
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}

	if len(ids) == 0 {
		if err := s.rollSegment(); err != nil {
			return nil, err
		}
	} else {
		s.active = s.segments[ids[len(ids)-1]]
	}

	return s, nil
}

func segmentPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%s%010d%s", segmentFilePrefix, id, segmentFileSuffix))
}

func existingSegmentIDs(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, segmentFilePrefix) || !strings.HasSuffix(name, segmentFileSuffix) {
			continue
		}
		numPart := strings.TrimSuffix(strings.TrimPrefix(name, segmentFilePrefix), segmentFileSuffix)
		id, err := strconv.ParseUint(numPart, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) rollSegment() error {
	id := s.nextID
	s.nextID++
	seg, err := createSegment(id, segmentPath(s.dir, id))
	if err != nil {
		return omenerr.New(omenerr.KindIo, "valuestore.roll_segment", err)
	}
	s.segments[id] = seg
	s.active = seg
	return nil
}

// Put appends value and returns its Locator. Put returns only
// after the bytes are written to the mapped segment; durability beyond
// that (fsync) follows the caller's configured mode, driven by Sync().
func (s *Store) Put(value []byte) (locator.Locator, error) {
	if len(value) > MaxValueSize {
		return locator.Locator{}, omenerr.New(omenerr.KindInvalidArgument, "valuestore.put",
			fmt.Errorf("value of %d bytes exceeds max %d", len(value), MaxValueSize))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.tail+recordHeaderSize+int64(len(value)) > s.rollover && s.active.tail > segmentHeaderSize {
		if err := s.rollSegment(); err != nil {
			return locator.Locator{}, err
		}
	}

	offset, err := s.active.append(value, false)
	if err != nil {
		return locator.Locator{}, omenerr.New(omenerr.KindIo, "valuestore.put", err)
	}

	return locator.Locator{SegmentID: s.active.id, Offset: offset, Len: uint32(len(value))}, nil
}

// Get resolves loc to its bytes, decompressing transparently if the
// record was written compressed by Compact.
func (s *Store) Get(loc locator.Locator) ([]byte, error) {
	s.mu.RLock()
	seg, ok := s.segments[loc.SegmentID]
	s.mu.RUnlock()
	if !ok {
		return nil, omenerr.New(omenerr.KindNotFound, "valuestore.get", fmt.Errorf("unknown segment %d", loc.SegmentID))
	}

	data, compressed, err := seg.read(loc.Offset, loc.Len)
	if err != nil {
		if err == ErrChecksumMismatch {
			return nil, omenerr.New(omenerr.KindCorruption, "valuestore.get", err)
		}
		return nil, omenerr.New(omenerr.KindIo, "valuestore.get", err)
	}
	if compressed {
		return decompress(data)
	}
	return data, nil
}

// Tombstone marks loc's record as dead; its space is reclaimed by a later
// Compact.
func (s *Store) Tombstone(loc locator.Locator) error {
	s.mu.RLock()
	seg, ok := s.segments[loc.SegmentID]
	s.mu.RUnlock()
	if !ok {
		return omenerr.New(omenerr.KindNotFound, "valuestore.tombstone", fmt.Errorf("unknown segment %d", loc.SegmentID))
	}
	if err := seg.tombstone(loc.Offset); err != nil {
		return omenerr.New(omenerr.KindIo, "valuestore.tombstone", err)
	}
	return nil
}

// Sync flushes every segment's mapped writes to disk.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seg := range s.segments {
		if err := seg.sync(); err != nil {
			return omenerr.New(omenerr.KindIo, "valuestore.sync", err)
		}
	}
	return nil
}

// Close unmaps and closes every segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, seg := range s.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

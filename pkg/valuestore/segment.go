// pkg/valuestore/segment.go
package valuestore

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	segmentMagic   = 0x4f4d454e // "OMEN"
	segmentVersion = 1

	segmentHeaderSize = 8 // magic(4) | version(4)
	recordHeaderSize  = 9 // flags(1) | len(4) | crc32(4)

	flagTombstone = 1 << 0
	flagCompressed = 1 << 1

	defaultInitialSize = 1 << 20 // 1 MiB
	growthFactor       = 2
)

var (
	// ErrCorruptSegment is returned when a segment header fails validation.
	ErrCorruptSegment = errors.New("valuestore: corrupt segment header")
	// ErrChecksumMismatch is returned when a record's CRC32 does not match
	// its payload.
	ErrChecksumMismatch = errors.New("valuestore: checksum mismatch")
	// ErrRecordOutOfRange is returned when a locator addresses bytes
	// outside the mapped segment.
	ErrRecordOutOfRange = errors.New("valuestore: record out of range")
)

// segment is one append-only data file: a small header (magic, version)
// followed by repeated length-prefixed, CRC-protected value records.
type segment struct {
	id      uint32
	path    string
	mmap    *mmapFile
	tail    int64 // byte offset where the next record will be appended
}

func createSegment(id uint32, path string) (*segment, error) {
	mf, err := openMmapFile(path, defaultInitialSize)
	if err != nil {
		return nil, err
	}
	s := &segment{id: id, path: path, mmap: mf, tail: segmentHeaderSize}
	binary.LittleEndian.PutUint32(mf.data[0:4], segmentMagic)
	binary.LittleEndian.PutUint32(mf.data[4:8], segmentVersion)
	return s, nil
}

func openSegment(id uint32, path string) (*segment, error) {
	mf, err := openMmapFile(path, 0)
	if err != nil {
		return nil, err
	}
	if mf.Size() < segmentHeaderSize {
		mf.Close()
		return nil, ErrCorruptSegment
	}
	magic := binary.LittleEndian.Uint32(mf.data[0:4])
	if magic != segmentMagic {
		mf.Close()
		return nil, ErrCorruptSegment
	}

	s := &segment{id: id, path: path, mmap: mf}
	s.tail = s.scanTail()
	return s, nil
}

// scanTail walks the segment's records to find the first torn or invalid
// record, which becomes the new tail — the same crash-recovery
// discipline the WAL uses, applied here to the value file itself so a
// half-written append left by a crash doesn't corrupt future appends.
func (s *segment) scanTail() int64 {
	off := int64(segmentHeaderSize)
	for {
		rec, ok := s.tryReadRecordHeader(off)
		if !ok {
			return off
		}
		next := off + recordHeaderSize + int64(rec.length)
		if next > s.mmap.Size() {
			return off
		}
		payload := s.mmap.Slice(int(off+recordHeaderSize), int(rec.length))
		if payload == nil || crc32.ChecksumIEEE(payload) != rec.crc {
			return off
		}
		off = next
	}
}

type recordHeader struct {
	flags  byte
	length uint32
	crc    uint32
}

func (s *segment) tryReadRecordHeader(off int64) (recordHeader, bool) {
	hdr := s.mmap.Slice(int(off), recordHeaderSize)
	if hdr == nil {
		return recordHeader{}, false
	}
	return recordHeader{
		flags:  hdr[0],
		length: binary.LittleEndian.Uint32(hdr[1:5]),
		crc:    binary.LittleEndian.Uint32(hdr[5:9]),
	}, true
}

// liveRecord describes one record found while iterating a segment.
type liveRecord struct {
	offset     int64
	length     uint32
	tombstoned bool
	compressed bool
	data       []byte
}

// iterate walks every well-formed record up to the segment's tail,
// calling fn with a copy of its payload. Used by Compact to rewrite live
// records into a fresh segment.
func (s *segment) iterate(fn func(liveRecord)) {
	off := int64(segmentHeaderSize)
	for off < s.tail {
		hdr, ok := s.tryReadRecordHeader(off)
		if !ok {
			return
		}
		payload := s.mmap.Slice(int(off+recordHeaderSize), int(hdr.length))
		if payload == nil {
			return
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		fn(liveRecord{
			offset:     off,
			length:     hdr.length,
			tombstoned: hdr.flags&flagTombstone != 0,
			compressed: hdr.flags&flagCompressed != 0,
			data:       data,
		})
		off += recordHeaderSize + int64(hdr.length)
	}
}

// append writes a new record at the segment's tail, growing the mapping
// if needed, and returns its byte offset.
func (s *segment) append(value []byte, compressed bool) (offset int64, err error) {
	need := s.tail + recordHeaderSize + int64(len(value))
	if need > s.mmap.Size() {
		newSize := s.mmap.Size() * growthFactor
		for newSize < need {
			newSize *= growthFactor
		}
		if err := s.mmap.Grow(newSize); err != nil {
			return 0, err
		}
	}

	off := s.tail
	hdr := s.mmap.Slice(int(off), recordHeaderSize)
	var flags byte
	if compressed {
		flags |= flagCompressed
	}
	hdr[0] = flags
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(value)))
	binary.LittleEndian.PutUint32(hdr[5:9], crc32.ChecksumIEEE(value))

	payload := s.mmap.Slice(int(off+recordHeaderSize), len(value))
	copy(payload, value)

	s.tail = off + recordHeaderSize + int64(len(value))
	return off, nil
}

// read returns the raw (possibly compressed) payload at offset with
// length length, verifying its CRC32. The compressed flag is reported so
// the store layer can decompress.
func (s *segment) read(offset int64, length uint32) (data []byte, compressed bool, err error) {
	hdr := s.mmap.Slice(int(offset), recordHeaderSize)
	if hdr == nil {
		return nil, false, ErrRecordOutOfRange
	}
	storedLen := binary.LittleEndian.Uint32(hdr[1:5])
	storedCRC := binary.LittleEndian.Uint32(hdr[5:9])
	if storedLen != length {
		return nil, false, ErrRecordOutOfRange
	}

	payload := s.mmap.Slice(int(offset+recordHeaderSize), int(length))
	if payload == nil {
		return nil, false, ErrRecordOutOfRange
	}
	if crc32.ChecksumIEEE(payload) != storedCRC {
		return nil, false, ErrChecksumMismatch
	}

	out := make([]byte, length)
	copy(out, payload)
	return out, hdr[0]&flagCompressed != 0, nil
}

// tombstone flips the tombstone flag on the record at offset in place.
func (s *segment) tombstone(offset int64) error {
	hdr := s.mmap.Slice(int(offset), recordHeaderSize)
	if hdr == nil {
		return ErrRecordOutOfRange
	}
	hdr[0] |= flagTombstone
	return nil
}

func (s *segment) sync() error {
	return s.mmap.Sync()
}

func (s *segment) close() error {
	return s.mmap.Close()
}

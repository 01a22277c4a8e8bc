// pkg/valuestore/compact.go
package valuestore

import (
	"os"

	"omendb/pkg/locator"
	"omendb/pkg/omenerr"
)

// Compact rewrites every live (non-tombstoned) record across all segments
// into a fresh set of segments, optionally compressing payloads that
// shrink meaningfully, and deletes the old segment files, reclaiming
// space held by tombstoned and superseded records. It returns a remap
// from each live record's old Locator to its new one so the caller (the
// engine façade) can update the Sorted Spine's locators; by the time it
// returns, the old segments are already closed and their files removed.
func (s *Store) Compact() (map[locator.Locator]locator.Locator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldSegments := make([]*segment, 0, len(s.segments))
	for _, seg := range s.segments {
		oldSegments = append(oldSegments, seg)
	}

	remap := make(map[locator.Locator]locator.Locator)
	newSegments := make(map[uint32]*segment)
	nextID := uint32(0)

	var cur *segment
	rollCompactionSegment := func() error {
		id := nextID
		nextID++
		seg, err := createSegment(id, segmentPath(s.dir, id)+".compact")
		if err != nil {
			return err
		}
		newSegments[id] = seg
		cur = seg
		return nil
	}
	if err := rollCompactionSegment(); err != nil {
		return nil, omenerr.New(omenerr.KindIo, "valuestore.compact", err)
	}

	for _, seg := range oldSegments {
		seg.iterate(func(rec liveRecord) {
			if rec.tombstoned {
				return
			}
			payload := rec.data
			if rec.compressed {
				if decoded, err := decompress(rec.data); err == nil {
					payload = decoded
				}
			}
			encoded, compressed := compressIfSmaller(payload)

			if cur.tail+recordHeaderSize+int64(len(encoded)) > s.rollover {
				_ = rollCompactionSegment()
			}
			offset, err := cur.append(encoded, compressed)
			if err != nil {
				return
			}
			oldLoc := locator.Locator{SegmentID: seg.id, Offset: rec.offset, Len: rec.length}
			newLoc := locator.Locator{SegmentID: cur.id, Offset: offset, Len: uint32(len(encoded))}
			remap[oldLoc] = newLoc
		})
	}

	for _, seg := range newSegments {
		if err := seg.sync(); err != nil {
			return nil, omenerr.New(omenerr.KindIo, "valuestore.compact", err)
		}
	}

	// swap file names: close and remove old segment files, rename the
	// ".compact" files into place under fresh segment IDs continuing from
	// the old numbering space so an interrupted compaction never collides
	// with a partially-written old segment on retry.
	for _, seg := range oldSegments {
		path := seg.path
		if err := seg.close(); err != nil {
			return nil, omenerr.New(omenerr.KindIo, "valuestore.compact", err)
		}
		_ = os.Remove(path)
	}

	finalSegments := make(map[uint32]*segment, len(newSegments))
	finalRemap := make(map[locator.Locator]locator.Locator, len(remap))
	base := s.nextID
	for id, seg := range newSegments {
		finalID := base + id
		finalPath := segmentPath(s.dir, finalID)
		if err := os.Rename(seg.path, finalPath); err != nil {
			return nil, omenerr.New(omenerr.KindIo, "valuestore.compact", err)
		}
		seg.id = finalID
		seg.path = finalPath
		finalSegments[finalID] = seg
	}
	for old, tmp := range remap {
		finalRemap[old] = locator.Locator{SegmentID: base + tmp.SegmentID, Offset: tmp.Offset, Len: tmp.Len}
	}

	s.segments = finalSegments
	s.nextID = base + nextID
	if len(finalSegments) > 0 {
		if err := s.rollSegment(); err != nil {
			return nil, err
		}
	}

	return finalRemap, nil
}

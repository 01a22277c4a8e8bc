// pkg/wal/replay.go
package wal

import (
	"io"
	"os"

	"omendb/pkg/omenerr"
)

// scanValidPrefix reads f from the start, decoding records until it hits a
// torn or checksum-failing tail, and returns the byte length of the valid
// prefix plus the LSN the next Append should assign. startLSN seeds nextLSN
// for an otherwise-empty segment.
func scanValidPrefix(f *os.File, startLSN uint64) (validLen int64, nextLSN uint64, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, 0, err
	}

	nextLSN = startLSN
	off := 0
	for off < len(data) {
		rec, n, decErr := Decode(data[off:])
		if decErr != nil {
			break
		}
		off += n
		nextLSN = rec.LSN + 1
	}
	return int64(off), nextLSN, nil
}

// Replay reads every record across every segment file in dir, in ascending
// LSN order, calling apply for each. It stops at (and silently discards) the
// first torn or checksum-failing record in the newest segment, matching
// Open's own tail-truncation so a crash mid-append never surfaces a partial
// record to the caller.
func Replay(dir string, apply func(Record) error) error {
	segments, err := listSegments(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return omenerr.New(omenerr.KindIo, "wal.replay", err)
	}

	for _, startLSN := range segments {
		f, err := os.Open(segmentPath(dir, startLSN))
		if err != nil {
			return omenerr.New(omenerr.KindIo, "wal.replay", err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return omenerr.New(omenerr.KindIo, "wal.replay", err)
		}

		off := 0
		for off < len(data) {
			rec, n, decErr := Decode(data[off:])
			if decErr != nil {
				break
			}
			off += n
			if err := apply(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

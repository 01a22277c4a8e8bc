// pkg/wal/wal.go
// Package wal implements the Write-Ahead Log: an append-only record of
// mutations used for crash recovery of both the Sorted Spine and the
// Value Store. The record-batching and buffered-flush discipline is
// generalized from page-frame WAL designs to the Put/Delete/Checkpoint/Batch
// record kinds defined in record.go.
package wal

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"omendb/pkg/omenerr"
)

// Durability controls when Append/Flush return relative to the record
// reaching disk.
type Durability int

const (
	// SyncEveryWrite fsyncs after every appended record.
	SyncEveryWrite Durability = iota
	// GroupCommit batches appends and fsyncs once BufferBytes is
	// exceeded, on an explicit Flush, or never otherwise.
	GroupCommit
	// Async never fsyncs on its own; only an explicit Flush (or process
	// exit through Close) forces durability.
	Async
)

// Options configures the WAL.
type Options struct {
	Durability Durability
	// BufferBytes is the batching threshold for GroupCommit: records
	// accumulate in the pending buffer until it exceeds this many bytes,
	// then an fsync is triggered.
	BufferBytes int
}

const defaultBufferBytes = 1 << 20

const (
	segmentFilePrefix = "wal-"
	segmentFileSuffix = ".log"
)

// WAL owns the active append-only segment file and the write-side
// batching buffer. It is owned by the single writer; no reader touches
// it on the hot path.
type WAL struct {
	mu sync.Mutex

	dir     string
	opts    Options
	file    *os.File
	startLSN uint64
	nextLSN  uint64

	pending []byte // unflushed bytes, batched per Durability
}

// Open opens (or creates) the WAL directory, truncating any torn tail
// left by a crash off the most recent segment, and returns a WAL ready
// to Append.
func Open(dir string, opts Options) (*WAL, error) {
	if opts.BufferBytes <= 0 {
		opts.BufferBytes = defaultBufferBytes
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, omenerr.New(omenerr.KindIo, "wal.open", err)
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, omenerr.New(omenerr.KindIo, "wal.open", err)
	}

	w := &WAL{dir: dir, opts: opts}

	if len(segments) == 0 {
		if err := w.createSegment(1); err != nil {
			return nil, err
		}
		return w, nil
	}

	last := segments[len(segments)-1]
	f, err := os.OpenFile(segmentPath(dir, last), os.O_RDWR, 0644)
	if err != nil {
		return nil, omenerr.New(omenerr.KindIo, "wal.open", err)
	}
	w.file = f
	w.startLSN = last

	validLen, nextLSN, err := scanValidPrefix(f, last)
	if err != nil {
		f.Close()
		return nil, omenerr.New(omenerr.KindCorruption, "wal.open", err)
	}
	if err := f.Truncate(validLen); err != nil {
		f.Close()
		return nil, omenerr.New(omenerr.KindIo, "wal.open", err)
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, omenerr.New(omenerr.KindIo, "wal.open", err)
	}
	w.nextLSN = nextLSN

	return w, nil
}

func segmentPath(dir string, startLSN uint64) string {
	return filepath.Join(dir, segmentFilePrefix+pad(startLSN)+segmentFileSuffix)
}

func pad(n uint64) string {
	s := strconv.FormatUint(n, 10)
	for len(s) < 20 {
		s = "0" + s
	}
	return s
}

func listSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, segmentFilePrefix) || !strings.HasSuffix(name, segmentFileSuffix) {
			continue
		}
		numPart := strings.TrimSuffix(strings.TrimPrefix(name, segmentFilePrefix), segmentFileSuffix)
		n, err := strconv.ParseUint(numPart, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (w *WAL) createSegment(startLSN uint64) error {
	f, err := os.OpenFile(segmentPath(w.dir, startLSN), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return omenerr.New(omenerr.KindIo, "wal.create_segment", err)
	}
	w.file = f
	w.startLSN = startLSN
	w.nextLSN = startLSN
	return nil
}

// NextLSN previews the LSN the next Append will assign.
func (w *WAL) NextLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// Append assigns the next LSN to rec, encodes it, and stages it in the
// write buffer, flushing per the configured Durability. Returns the
// assigned LSN.
func (w *WAL) Append(rec Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.LSN = w.nextLSN
	w.nextLSN++

	encoded := Encode(rec)
	w.pending = append(w.pending, encoded...)

	switch w.opts.Durability {
	case SyncEveryWrite:
		if err := w.flushLocked(true); err != nil {
			return 0, err
		}
	case GroupCommit:
		if len(w.pending) >= w.opts.BufferBytes {
			if err := w.flushLocked(true); err != nil {
				return 0, err
			}
		}
	case Async:
		// left buffered until Flush or Close
	}

	return rec.LSN, nil
}

// Flush drives any buffered records to durability regardless of mode.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(true)
}

func (w *WAL) flushLocked(sync bool) error {
	if len(w.pending) > 0 {
		if _, err := w.file.Write(w.pending); err != nil {
			return omenerr.New(omenerr.KindIo, "wal.flush", err)
		}
		w.pending = w.pending[:0]
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return omenerr.New(omenerr.KindIo, "wal.flush", err)
		}
	}
	return nil
}

// Checkpoint writes a Checkpoint record carrying generation/lsn/metadata
// pointer, flushes it durably, then rolls over to a fresh segment that
// begins with the same Checkpoint record (same LSN) and deletes every prior
// segment file, so only the log from the checkpoint onward remains.
func (w *WAL) Checkpoint(generation uint64, metadataPath string) (uint64, error) {
	w.mu.Lock()
	lsn, err := func() (uint64, error) {
		rec := Record{Kind: KindCheckpoint, CheckpointGeneration: generation, MetadataPath: metadataPath}
		rec.LSN = w.nextLSN
		w.nextLSN++
		rec.CheckpointLSN = rec.LSN
		encoded := Encode(rec)
		w.pending = append(w.pending, encoded...)
		if err := w.flushLocked(true); err != nil {
			return 0, err
		}
		return rec.LSN, nil
	}()
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	oldSegments, err := listSegments(w.dir)
	if err != nil {
		return 0, omenerr.New(omenerr.KindIo, "wal.checkpoint", err)
	}
	if err := w.file.Close(); err != nil {
		return 0, omenerr.New(omenerr.KindIo, "wal.checkpoint", err)
	}
	if err := w.createSegment(lsn); err != nil {
		return 0, err
	}
	w.nextLSN = lsn + 1
	w.pending = append(w.pending, Encode(Record{LSN: lsn, Kind: KindCheckpoint, CheckpointGeneration: generation, CheckpointLSN: lsn, MetadataPath: metadataPath})...)
	if err := w.flushLocked(true); err != nil {
		return 0, err
	}
	for _, seg := range oldSegments {
		p := segmentPath(w.dir, seg)
		if seg == w.startLSN {
			continue
		}
		_ = os.Remove(p)
	}

	return lsn, nil
}

// Close flushes pending records and closes the active segment file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(true); err != nil {
		return err
	}
	return w.file.Close()
}

// pkg/wal/record.go
package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Kind discriminates a WAL record: Put, Delete, Checkpoint, or Batch.
type Kind uint8

const (
	KindPut Kind = iota + 1
	KindDelete
	KindCheckpoint
	// KindBatch carries an entire atomic batch insert as a single record.
	// Its CRC32 covers every entry at once, so the whole batch is either
	// fully present after a crash or fully absent (discarded as a torn
	// tail) — there is no partial-batch state to recover from.
	KindBatch
)

// recordHeaderSize is the fixed prefix before the kind-specific payload:
// lsn(8) | kind(1) | payload_len(4).
const recordHeaderSize = 8 + 1 + 4
const crcSize = 4

var (
	// ErrTornRecord is returned when a record's declared length runs past
	// the available bytes — the tail of an interrupted append.
	ErrTornRecord = errors.New("wal: torn record")
	// ErrChecksumMismatch is returned when a record's CRC32 does not
	// match its payload.
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	// ErrUnknownKind is returned for a record byte that isn't Put, Delete,
	// Checkpoint or Batch.
	ErrUnknownKind = errors.New("wal: unknown record kind")
)

// BatchEntry is one key/value pair within a Batch record.
type BatchEntry struct {
	Key   int64
	Value []byte
}

// Record is one decoded WAL entry:
//
//	u64 lsn | u8 kind | u32 payload_len | payload | u32 crc32
//
// Payload by kind: Put -> i64 key | u32 value_len | value_bytes;
// Delete -> i64 key; Checkpoint -> u64 generation | u64 checkpoint_lsn |
// metadata file name bytes;
// Batch -> u32 entry_count | (i64 key | u32 value_len | value_bytes){count}.
type Record struct {
	LSN   uint64
	Kind  Kind
	Key   int64
	Value []byte // Put only

	Entries []BatchEntry // Batch only

	CheckpointGeneration uint64 // Checkpoint only
	CheckpointLSN        uint64 // Checkpoint only: LSN this checkpoint covers
	MetadataPath         string // Checkpoint only: sidecar metadata file name
}

// encodePayload returns the kind-specific payload bytes for r.
func (r Record) encodePayload() []byte {
	switch r.Kind {
	case KindPut:
		buf := make([]byte, 8+4+len(r.Value))
		binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Key))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(len(r.Value)))
		copy(buf[12:], r.Value)
		return buf
	case KindDelete:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Key))
		return buf
	case KindCheckpoint:
		pathBytes := []byte(r.MetadataPath)
		buf := make([]byte, 8+8+len(pathBytes))
		binary.LittleEndian.PutUint64(buf[0:8], r.CheckpointGeneration)
		binary.LittleEndian.PutUint64(buf[8:16], r.CheckpointLSN)
		copy(buf[16:], pathBytes)
		return buf
	case KindBatch:
		size := 4
		for _, e := range r.Entries {
			size += 8 + 4 + len(e.Value)
		}
		buf := make([]byte, size)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(r.Entries)))
		off := 4
		for _, e := range r.Entries {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(e.Key))
			binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(len(e.Value)))
			copy(buf[off+12:], e.Value)
			off += 12 + len(e.Value)
		}
		return buf
	default:
		return nil
	}
}

// Encode serializes r as a full WAL record: header, payload, CRC32 over
// the payload (the payload only — the header carries its own position
// via LSN monotonicity, so corrupting the header without corrupting the
// payload still fails length/kind sanity checks during replay).
func Encode(r Record) []byte {
	payload := r.encodePayload()
	out := make([]byte, recordHeaderSize+len(payload)+crcSize)

	binary.LittleEndian.PutUint64(out[0:8], r.LSN)
	out[8] = byte(r.Kind)
	binary.LittleEndian.PutUint32(out[9:13], uint32(len(payload)))
	copy(out[recordHeaderSize:], payload)
	crc := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(out[recordHeaderSize+len(payload):], crc)

	return out
}

// Decode parses one record starting at buf[0]. It returns the record, the
// number of bytes consumed, and an error if the record is torn or fails
// its checksum — both of which mean "stop replaying here," discarding
// the tail.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < recordHeaderSize {
		return Record{}, 0, ErrTornRecord
	}

	lsn := binary.LittleEndian.Uint64(buf[0:8])
	kind := Kind(buf[8])
	payloadLen := binary.LittleEndian.Uint32(buf[9:13])

	total := recordHeaderSize + int(payloadLen) + crcSize
	if len(buf) < total {
		return Record{}, 0, ErrTornRecord
	}

	payload := buf[recordHeaderSize : recordHeaderSize+int(payloadLen)]
	storedCRC := binary.LittleEndian.Uint32(buf[recordHeaderSize+int(payloadLen):])
	if crc32.ChecksumIEEE(payload) != storedCRC {
		return Record{}, 0, ErrChecksumMismatch
	}

	r := Record{LSN: lsn, Kind: kind}
	switch kind {
	case KindPut:
		if len(payload) < 12 {
			return Record{}, 0, ErrTornRecord
		}
		r.Key = int64(binary.LittleEndian.Uint64(payload[0:8]))
		valLen := binary.LittleEndian.Uint32(payload[8:12])
		if len(payload) < 12+int(valLen) {
			return Record{}, 0, ErrTornRecord
		}
		r.Value = append([]byte(nil), payload[12:12+valLen]...)
	case KindDelete:
		if len(payload) < 8 {
			return Record{}, 0, ErrTornRecord
		}
		r.Key = int64(binary.LittleEndian.Uint64(payload[0:8]))
	case KindCheckpoint:
		if len(payload) < 16 {
			return Record{}, 0, ErrTornRecord
		}
		r.CheckpointGeneration = binary.LittleEndian.Uint64(payload[0:8])
		r.CheckpointLSN = binary.LittleEndian.Uint64(payload[8:16])
		r.MetadataPath = string(payload[16:])
	case KindBatch:
		if len(payload) < 4 {
			return Record{}, 0, ErrTornRecord
		}
		count := binary.LittleEndian.Uint32(payload[0:4])
		entries := make([]BatchEntry, 0, count)
		off := 4
		for i := uint32(0); i < count; i++ {
			if len(payload) < off+12 {
				return Record{}, 0, ErrTornRecord
			}
			key := int64(binary.LittleEndian.Uint64(payload[off : off+8]))
			valLen := binary.LittleEndian.Uint32(payload[off+8 : off+12])
			off += 12
			if len(payload) < off+int(valLen) {
				return Record{}, 0, ErrTornRecord
			}
			entries = append(entries, BatchEntry{
				Key:   key,
				Value: append([]byte(nil), payload[off:off+int(valLen)]...),
			})
			off += int(valLen)
		}
		r.Entries = entries
	default:
		return Record{}, 0, ErrUnknownKind
	}

	return r, total, nil
}

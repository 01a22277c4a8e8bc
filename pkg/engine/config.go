// pkg/engine/config.go
package engine

import (
	"go.uber.org/zap"

	"omendb/pkg/model"
	"omendb/pkg/rebuild"
	"omendb/pkg/wal"
)

// Config bundles every tunable the Storage Engine façade exposes.
type Config struct {
	// Durability selects the WAL's fsync discipline.
	Durability wal.Durability
	// WALBufferBytes is the batching threshold for wal.GroupCommit.
	WALBufferBytes int

	// LeafTargetSize is the target entry count per Leaf Model.
	LeafTargetSize int
	// InnerMaxFanout is the maximum children per Inner Model.
	InnerMaxFanout int
	// MaxErrorBound is passed through to model.Config.MaxErrorBound;
	// neither training nor rebuild scheduling reads it, so a leaf is
	// never retrained or split because of its error bound.
	MaxErrorBound int

	// DeltaBufferCapacity is the Sorted Spine's insert-buffer capacity,
	// reported by spine.NeedsCompact once reached. The engine does not act
	// on it: the buffer keeps growing and is merged into the main array
	// only by the Compact that Checkpoint and Open perform.
	DeltaBufferCapacity int

	// CacheCapacityEntries bounds the recency cache's total entry count.
	CacheCapacityEntries int
	// CacheMemoryLimitBytes, if non-zero, tracks the recency cache's
	// cached-byte footprint against a memory budget and logs a warning
	// when usage crosses CacheMemoryPressureThreshold of the limit.
	CacheMemoryLimitBytes int64
	// CacheMemoryPressureThreshold is the fraction of CacheMemoryLimitBytes
	// at which memory pressure is signaled. Defaults to 0.8 if zero and
	// CacheMemoryLimitBytes is set.
	CacheMemoryPressureThreshold float64

	// RebuildMode selects Synchronous or Background rebuild scheduling.
	RebuildMode rebuild.Mode
	// RebuildDirtyFraction is the fraction of mutated entries that
	// triggers a rebuild.
	RebuildDirtyFraction float64

	// SegmentRolloverSize is the Value Store's per-segment size ceiling.
	SegmentRolloverSize int64

	// RejectDuplicates, when true, makes Insert of an already-present key
	// return an AlreadyExists error wrapping ErrKeyExists instead of
	// silently overwriting it.
	RejectDuplicates bool
	// BatchAtomic, when true, makes BatchInsert all-or-nothing: if any
	// key in the batch fails validation (e.g. a duplicate under
	// RejectDuplicates), none of the batch is applied, and the batch that
	// is applied commits as a single WAL record rather than one per entry.
	BatchAtomic bool

	// Logger receives structured diagnostics (rebuilds, cache memory
	// pressure). Defaults to a no-op logger when nil.
	Logger *zap.Logger
}

// DefaultConfig returns the engine's out-of-the-box configuration.
func DefaultConfig() Config {
	return Config{
		Durability:            wal.GroupCommit,
		WALBufferBytes:        1 << 20,
		LeafTargetSize:        64,
		InnerMaxFanout:        256,
		MaxErrorBound:         64,
		DeltaBufferCapacity:   1024,
		CacheCapacityEntries:  1024,
		RebuildMode:           rebuild.Background,
		RebuildDirtyFraction:  0.20,
		SegmentRolloverSize:   64 << 20,
		RejectDuplicates:      false,
		BatchAtomic:           false,
	}
}

func (c Config) modelConfig() model.Config {
	return model.Config{
		LeafTargetSize: c.LeafTargetSize,
		LeafMinSize:    8,
		InnerMaxFanout: c.InnerMaxFanout,
		MaxErrorBound:  c.MaxErrorBound,
	}
}

func (c Config) rebuildConfig() rebuild.Config {
	return rebuild.Config{Mode: c.RebuildMode, DirtyFraction: c.RebuildDirtyFraction}
}

func (c Config) walOptions() wal.Options {
	return wal.Options{Durability: c.Durability, BufferBytes: c.WALBufferBytes}
}

// pkg/engine/stats.go
package engine

import "omendb/pkg/cache"

// Stats is a point-in-time snapshot of engine internals, for diagnostics
// and tests — not persisted, not part of any durability guarantee.
type Stats struct {
	Entries        int
	MainLen        int
	PendingInserts int
	Generation     uint64

	IndexGeneration   uint64
	IndexHeight       int
	IndexLeafCount    int
	ActiveReaders     int
	DirtyMutations    int
	RebuildCount      uint64
	AvgLeafErrorBound float64

	Cache cache.Stats
}

// Stats reports the engine's current internal state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	root := e.index.CurrentRoot()
	return Stats{
		Entries:           e.spine.Len(),
		MainLen:           e.spine.MainLen(),
		PendingInserts:    e.spine.PendingInserts(),
		Generation:        e.generation,
		IndexGeneration:   root.Generation,
		IndexHeight:       root.Height,
		IndexLeafCount:    root.LeafCount,
		ActiveReaders:     e.index.ActiveReaders(),
		DirtyMutations:    e.rebuildCtl.PendingDirty(),
		RebuildCount:      e.rebuildCtl.RebuildCount(),
		AvgLeafErrorBound: root.AvgLeafErrorBound,
		Cache:             e.cacheStore.Stats(),
	}
}

// pkg/model/index.go
package model

import (
	"sync/atomic"
	"unsafe"
)

// Root bundles a tree root node with tree-global metadata: height, leaf
// count, total entries, the mean leaf error bound from the training pass
// that produced it, and a generation counter. A Root is immutable once
// published; structural mutation only happens by building a brand new
// Root and swapping it in.
type Root struct {
	Node              *Node
	Height            int
	LeafCount         int
	TotalEntries      int
	AvgLeafErrorBound float64
	Generation        uint64
}

// Index is the Learned Index façade: an atomically-swappable Root plus
// the epoch bookkeeping that lets background rebuilds publish a new
// generation without blocking readers.
type Index struct {
	root unsafe.Pointer // *Root
	gen  uint64
	cfg  Config

	epoch *epochManager
}

// New creates an empty Learned Index (no entries trained yet).
func New(cfg Config) *Index {
	idx := &Index{cfg: cfg, epoch: newEpochManager()}
	empty := &Root{Generation: 0}
	atomic.StorePointer(&idx.root, unsafe.Pointer(empty))
	return idx
}

// Config returns the training configuration this index was built with.
func (idx *Index) Config() Config { return idx.cfg }

// CurrentRoot returns the currently published root (a stable snapshot for
// the duration the caller holds the reference).
func (idx *Index) CurrentRoot() *Root {
	return (*Root)(atomic.LoadPointer(&idx.root))
}

// EnterRead pins the calling reader to the current epoch; callers must
// call Leave on the returned guard when done. This lets the index track
// how long a reader may be holding a stale-but-not-yet-reclaimed root.
func (idx *Index) EnterRead() *ReadGuard {
	return &ReadGuard{g: idx.epoch.enter(), root: idx.CurrentRoot()}
}

// ReadGuard is a pinned read session over a captured Root.
type ReadGuard struct {
	g    *readerGuard
	root *Root
}

// Root returns the Root this guard captured at Enter time.
func (rg *ReadGuard) Root() *Root { return rg.root }

// Leave releases the read pin.
func (rg *ReadGuard) Leave() { rg.g.leave() }

// Publish atomically swaps in a freshly trained root, retires the
// previous one for epoch-based bookkeeping, and advances the epoch so
// future readers see the new generation. In-flight readers that already
// captured the old root via EnterRead continue to see it until they
// Leave.
func (idx *Index) Publish(node *Node, height, leafCount, totalEntries int, avgLeafErrorBound float64) *Root {
	gen := atomic.AddUint64(&idx.gen, 1)
	newRoot := &Root{
		Node:              node,
		Height:            height,
		LeafCount:         leafCount,
		TotalEntries:      totalEntries,
		AvgLeafErrorBound: avgLeafErrorBound,
		Generation:        gen,
	}
	old := (*Root)(atomic.SwapPointer(&idx.root, unsafe.Pointer(newRoot)))
	idx.epoch.retire(old)
	idx.epoch.advance()
	return newRoot
}

// Reclaim drops bookkeeping for superseded roots no longer reachable by
// any active reader. Safe to call periodically from the Rebuild
// Controller; it is not required for memory safety (Go's GC owns that)
// but keeps the retired-root ledger from growing unbounded under a busy
// background-rebuild workload.
func (idx *Index) Reclaim() int {
	return idx.epoch.reclaimable()
}

// ActiveReaders reports how many readers currently hold a pinned epoch,
// for Stats().
func (idx *Index) ActiveReaders() int {
	return idx.epoch.activeReaders()
}

// Locate descends from root to a leaf, at each inner level picking a
// child via predict_child, then predicts a leaf position for k and
// returns the correction window [pos-errorBound, pos+errorBound]. ok is
// false only when the index has no trained nodes yet (empty engine).
func Locate(root *Root, k int64) (pos, errorBound int, ok bool) {
	if root == nil || root.Node == nil {
		return 0, 0, false
	}
	n := root.Node
	for n.Kind == KindInner {
		n = n.resolveChild(k)
	}
	return n.PredictPosition(k), n.ErrorBound, true
}

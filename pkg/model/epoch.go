// pkg/model/epoch.go
// Epoch-based reclamation for the Learned Index's lock-free root swap.
// The index publishes a new *Root by a single atomic pointer exchange;
// readers that entered before a swap must keep observing their captured
// root until they leave. Go's GC makes manual freeing unnecessary, but
// the epoch bookkeeping still answers the question the Rebuild
// Controller and Stats() need: how many readers are pinned on a
// superseded root, and when is it safe to drop the engine's own
// retained-version bookkeeping.
package model

import (
	"sync"
	"sync/atomic"
)

// epochManager tracks reader epochs so the engine can tell when every
// reader that might have observed a given *Root generation has left.
type epochManager struct {
	globalEpoch uint64

	readers sync.Map // readerID -> *readerState

	retiredMu sync.Mutex
	retired   map[uint64][]*Root

	nextReaderID uint64
}

type readerState struct {
	epoch  uint64
	active int32
}

func newEpochManager() *epochManager {
	return &epochManager{
		globalEpoch: 1,
		retired:     make(map[uint64][]*Root),
	}
}

// readerGuard represents an active reader session pinned to the epoch it
// entered at.
type readerGuard struct {
	mgr      *epochManager
	state    *readerState
	readerID uint64
}

// enter begins a read operation, recording the current epoch.
func (e *epochManager) enter() *readerGuard {
	readerID := atomic.AddUint64(&e.nextReaderID, 1)
	state := &readerState{epoch: atomic.LoadUint64(&e.globalEpoch), active: 1}
	e.readers.Store(readerID, state)
	return &readerGuard{mgr: e, state: state, readerID: readerID}
}

// leave ends a read operation, allowing epoch advancement to reclaim
// anything retired at or after this reader's entry epoch.
func (g *readerGuard) leave() {
	if g == nil || g.state == nil {
		return
	}
	atomic.StoreInt32(&g.state.active, 0)
	g.mgr.readers.Delete(g.readerID)
}

// advance increments the global epoch; called by the writer after a root
// swap becomes visible.
func (e *epochManager) advance() uint64 {
	return atomic.AddUint64(&e.globalEpoch, 1)
}

// retire records that oldRoot was superseded at the current epoch.
func (e *epochManager) retire(oldRoot *Root) {
	if oldRoot == nil {
		return
	}
	epoch := atomic.LoadUint64(&e.globalEpoch)
	e.retiredMu.Lock()
	e.retired[epoch] = append(e.retired[epoch], oldRoot)
	e.retiredMu.Unlock()
}

// reclaimable returns how many superseded roots are no longer reachable
// by any active reader and drops the engine's bookkeeping for them (Go's
// GC frees the memory once nothing else refers to them).
func (e *epochManager) reclaimable() int {
	minEpoch := e.minActiveEpoch()

	e.retiredMu.Lock()
	defer e.retiredMu.Unlock()

	n := 0
	for epoch, roots := range e.retired {
		if epoch < minEpoch {
			n += len(roots)
			delete(e.retired, epoch)
		}
	}
	return n
}

func (e *epochManager) minActiveEpoch() uint64 {
	min := atomic.LoadUint64(&e.globalEpoch)
	e.readers.Range(func(_, v any) bool {
		st := v.(*readerState)
		if atomic.LoadInt32(&st.active) == 1 && st.epoch < min {
			min = st.epoch
		}
		return true
	})
	return min
}

// activeReaders returns the number of readers currently pinned to some
// epoch, for Stats().
func (e *epochManager) activeReaders() int {
	n := 0
	e.readers.Range(func(_, v any) bool {
		if atomic.LoadInt32(&v.(*readerState).active) == 1 {
			n++
		}
		return true
	})
	return n
}

// pkg/rebuild/controller.go
// Package rebuild implements the Rebuild Controller: the policy deciding
// when accumulated mutations have made the Learned Index stale enough to
// warrant retraining, and the scheduling of that retrain either inline
// with the write that crossed the threshold (Synchronous) or on a
// dedicated background goroutine that never blocks the writer
// (Background, the default). The background path is a single-owner
// goroutine draining a bounded signal channel, publishing a new
// immutable root each time it wakes.
package rebuild

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"omendb/pkg/model"
)

// dirtyFingerprintBits sizes the bloom-style bit set used to tell whether a
// key has already been counted dirty since the last rebuild, so a key
// written many times in one rebuild window only contributes once to the
// dirty fraction. Sized generously relative to a typical rebuild window;
// hash collisions only ever cause undercounting (a dirty key mistaken for
// already-seen), which delays a rebuild rather than corrupting one — the
// Sorted Spine's FullScan fallback keeps lookups correct regardless of how
// stale the published index is.
const dirtyFingerprintBits = 1 << 16
const dirtyFingerprintWords = dirtyFingerprintBits / 64

// Mode selects how a crossed rebuild threshold is serviced.
type Mode int

const (
	// Background queues the rebuild on a dedicated goroutine; the
	// triggering write returns immediately. Readers may observe a stale
	// (but never incorrect — see spine.Spine.FullScan) index until it
	// completes.
	Background Mode = iota
	// Synchronous retrains inline with the write that crossed the
	// threshold, so the write's return confirms the index is current.
	Synchronous
)

// Config bounds when a rebuild is triggered.
type Config struct {
	Mode Mode
	// DirtyFraction is the fraction of the spine's main-array length that
	// must have mutated since the last rebuild before one is triggered
	// (default 0.20, per the engine's rebuild_dirty_fraction).
	DirtyFraction float64
}

// DefaultConfig returns Background scheduling at a 20% dirty fraction.
func DefaultConfig() Config {
	return Config{Mode: Background, DirtyFraction: 0.20}
}

// Source is the Sorted Spine view the controller retrains from.
type Source interface {
	model.Source
}

// Controller owns the dirty-mutation counter and the background worker (if
// any) that retrains and republishes the Learned Index.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	modelCfg model.Config
	index    *model.Index
	source   Source
	log      *zap.Logger

	dirty       int
	fingerprint [dirtyFingerprintWords]uint64
	rebuilds    uint64

	queue  chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New creates a Controller over index, retraining from source whenever the
// dirty fraction threshold is crossed. In Background mode it starts the
// worker goroutine immediately; Close must be called to stop it.
func New(index *model.Index, source Source, cfg Config, modelCfg model.Config, log *zap.Logger) *Controller {
	c := &Controller{
		cfg:      cfg,
		modelCfg: modelCfg,
		index:    index,
		source:   source,
		log:      log,
		queue:    make(chan struct{}, 1),
	}
	if cfg.Mode == Background {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// RecordMutation accounts for one insert or delete of key against the
// spine. A key already marked dirty since the last rebuild (tracked via an
// xxh3-hashed bloom-style fingerprint) doesn't inflate the dirty count
// again, so a hot key rewritten repeatedly in one rebuild window is counted
// once, not once per write. When the dirty fraction threshold is crossed it
// triggers a rebuild: inline in Synchronous mode, or by waking the
// (already-running) background worker in Background mode. A rebuild already
// queued absorbs further triggers until it runs, so a burst of writes
// schedules at most one pending rebuild.
func (c *Controller) RecordMutation(key int64) {
	c.mu.Lock()
	if c.markDirtyLocked(key) {
		c.dirty++
	}
	trigger := c.shouldRebuildLocked()
	c.mu.Unlock()

	if !trigger {
		return
	}
	if c.cfg.Mode == Synchronous {
		c.Rebuild()
		return
	}
	select {
	case c.queue <- struct{}{}:
	default:
	}
}

// markDirtyLocked sets key's fingerprint bit and reports whether it was
// previously unset (i.e. whether this mutation is new since the last
// rebuild). Caller must hold c.mu.
func (c *Controller) markDirtyLocked(key int64) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	h := xxh3.Hash(buf[:]) % dirtyFingerprintBits
	word, bit := h/64, h%64
	mask := uint64(1) << bit
	if c.fingerprint[word]&mask != 0 {
		return false
	}
	c.fingerprint[word] |= mask
	return true
}

func (c *Controller) shouldRebuildLocked() bool {
	total := c.source.MainLen()
	if total == 0 {
		return false
	}
	return float64(c.dirty)/float64(total) >= c.cfg.DirtyFraction
}

// Rebuild retrains the Learned Index over the current spine and publishes
// the result, resetting the dirty counter. Safe to call directly (e.g. on
// Checkpoint, or to force a rebuild after a bulk load) as well as from the
// internal worker.
func (c *Controller) Rebuild() *model.Root {
	root, height, leafCount, avgErrorBound := model.Train(c.source, c.modelCfg)
	total := c.source.MainLen()
	published := c.index.Publish(root, height, leafCount, total, avgErrorBound)

	c.mu.Lock()
	c.dirty = 0
	for i := range c.fingerprint {
		c.fingerprint[i] = 0
	}
	c.rebuilds++
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debug("learned index rebuilt",
			zap.Uint64("generation", published.Generation),
			zap.Int("height", height),
			zap.Int("leaf_count", leafCount),
			zap.Int("total_entries", total),
		)
	}
	return published
}

// PendingDirty reports the current dirty-mutation count, for Stats().
func (c *Controller) PendingDirty() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// RebuildCount reports the cumulative number of completed rebuilds, for
// Stats().
func (c *Controller) RebuildCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuilds
}

func (c *Controller) worker() {
	defer c.wg.Done()
	for range c.queue {
		c.Rebuild()
	}
}

// Close stops the background worker, if any, waiting for any in-flight
// rebuild to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed || c.cfg.Mode != Background {
		c.closed = true
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.queue)
	c.wg.Wait()
}

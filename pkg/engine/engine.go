// pkg/engine/engine.go
// Package engine implements the Storage Engine façade: the single entry
// point wiring the Sorted Spine, Learned Index, Value Store, Write-Ahead
// Log, Rebuild Controller and recency Cache into the insert/get/range/
// delete/flush/checkpoint/close operation set. Lifecycle and single-writer
// locking follow the usual embedded-database handle shape: one
// flock-guarded directory, one serialized writer, many concurrent
// lock-free readers.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"omendb/pkg/cache"
	"omendb/pkg/locator"
	"omendb/pkg/model"
	"omendb/pkg/omenerr"
	"omendb/pkg/rebuild"
	"omendb/pkg/spine"
	"omendb/pkg/valuestore"
	"omendb/pkg/wal"
)

// KV is one key/value pair, used by BatchInsert.
type KV struct {
	Key   int64
	Value []byte
}

// Engine is an open OmenDB storage instance. All exported methods are
// safe for concurrent use; writes (Insert/BatchInsert/Delete/Checkpoint)
// serialize on an internal mutex while Get/Range proceed lock-free against
// the Learned Index's epoch-guarded root.
type Engine struct {
	mu  sync.Mutex
	dir string
	cfg Config
	log *zap.Logger

	lockFile *os.File

	values      *valuestore.Store
	wal         *wal.WAL
	spine       *spine.Spine
	index       *model.Index
	cacheStore  *cache.ValueCache
	cacheBudget *cache.MemoryBudget
	rebuildCtl  *rebuild.Controller

	generation uint64
	closed     bool

	// degraded stores the first Fatal-kind error (Corruption or Internal)
	// any operation returns, poisoning every subsequent operation with it.
	// Held in an atomic.Value rather than under mu so the lock-free Get/
	// Range path can observe it without contending on the writer's mutex.
	degraded atomic.Value // error
}

// Open opens (creating if necessary) an OmenDB engine rooted at dir,
// performing crash recovery: loading the most recent checkpoint snapshot,
// then replaying every Write-Ahead Log record written since.
func Open(dir string, cfg Config) (*Engine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, omenerr.New(omenerr.KindIo, "engine.open", err)
	}

	lockPath := filepath.Join(dir, "LOCK")
	lf, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, omenerr.New(omenerr.KindIo, "engine.open", err)
	}
	if err := lockFile(lf); err != nil {
		lf.Close()
		if err == ErrLocked {
			return nil, omenerr.New(omenerr.KindUnavailable, "engine.open", err)
		}
		return nil, omenerr.New(omenerr.KindIo, "engine.open", err)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	values, err := valuestore.Open(filepath.Join(dir, "values"), cfg.SegmentRolloverSize)
	if err != nil {
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	sp := spine.New(cfg.DeltaBufferCapacity)

	generation, _, err := loadCurrentSnapshot(dir, sp)
	if err != nil {
		values.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	w, err := wal.Open(filepath.Join(dir, "wal"), cfg.walOptions())
	if err != nil {
		values.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	if err := wal.Replay(filepath.Join(dir, "wal"), func(rec wal.Record) error {
		switch rec.Kind {
		case wal.KindPut:
			loc, err := values.Put(rec.Value)
			if err != nil {
				return err
			}
			sp.Insert(rec.Key, loc)
		case wal.KindDelete:
			sp.Delete(rec.Key)
		case wal.KindCheckpoint:
			generation = rec.CheckpointGeneration
		case wal.KindBatch:
			for _, be := range rec.Entries {
				loc, err := values.Put(be.Value)
				if err != nil {
					return err
				}
				sp.Insert(be.Key, loc)
			}
		}
		return nil
	}); err != nil {
		w.Close()
		values.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	idx := model.New(cfg.modelConfig())
	ctl := rebuild.New(idx, sp, cfg.rebuildConfig(), cfg.modelConfig(), log)
	ctl.Rebuild() // initial bulk train over whatever recovery produced

	var budget *cache.MemoryBudget
	var cacheStore *cache.ValueCache
	if cfg.CacheMemoryLimitBytes > 0 {
		budget = cache.NewMemoryBudget(cfg.CacheMemoryLimitBytes)
		threshold := cfg.CacheMemoryPressureThreshold
		if threshold <= 0 {
			threshold = cache.DefaultPressureThreshold
		}
		budget.SetPressureThreshold(threshold)
		budget.OnPressure(func(usage, limit int64) {
			log.Warn("cache memory pressure",
				zap.Int64("usage_bytes", usage),
				zap.Int64("limit_bytes", limit))
		})
		cacheStore = cache.NewWithBudget(cfg.CacheCapacityEntries, budget)
	} else {
		cacheStore = cache.New(cfg.CacheCapacityEntries)
	}

	e := &Engine{
		dir:         dir,
		cfg:         cfg,
		log:         log,
		lockFile:    lf,
		values:      values,
		wal:         w,
		spine:       sp,
		index:       idx,
		cacheStore:  cacheStore,
		cacheBudget: budget,
		rebuildCtl:  ctl,
		generation:  generation,
	}
	return e, nil
}

// degradedErr returns the engine's poisoned-state error, if any, without
// taking e.mu — safe to call from the lock-free read path.
func (e *Engine) degradedErr() error {
	v := e.degraded.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

// healthyLocked returns ErrClosed or the poisoning error if the engine
// cannot currently serve a write operation, or nil if it can. Caller must
// hold e.mu.
func (e *Engine) healthyLocked() error {
	if e.closed {
		return ErrClosed
	}
	return e.degradedErr()
}

// poison records err as the engine's fatal state if its Kind is Fatal
// (Corruption or Internal), so every subsequent operation — including
// lock-free reads — surfaces it instead of continuing against storage
// that may already be inconsistent. Non-fatal errors (NotFound,
// AlreadyExists, InvalidArgument, Io, Unavailable) pass through unchanged.
func (e *Engine) poison(err error) error {
	if err != nil && omenerr.KindOf(err).Fatal() {
		if _, already := e.degraded.Load().(error); !already {
			e.degraded.Store(err)
		}
	}
	return err
}

// Insert upserts key -> value.
func (e *Engine) Insert(key int64, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.healthyLocked(); err != nil {
		return err
	}
	return e.poison(e.insertLocked(key, value))
}

func (e *Engine) insertLocked(key int64, value []byte) error {
	existing, exists := e.lookupLocator(key)
	if exists && e.cfg.RejectDuplicates {
		return omenerr.New(omenerr.KindAlreadyExists, "engine.insert", fmt.Errorf("key %d: %w", key, ErrKeyExists))
	}

	if _, err := e.wal.Append(wal.Record{Kind: wal.KindPut, Key: key, Value: value}); err != nil {
		return err
	}
	return e.applyPutLocked(key, value, existing, exists)
}

// applyPutLocked resolves value's storage slot and updates the Sorted
// Spine, tombstoning existing's prior slot if this is an overwrite. The
// caller is responsible for having already made the write durable (a WAL
// Put record for a single insert, or a WAL Batch record for a batch).
func (e *Engine) applyPutLocked(key int64, value []byte, existing locator.Locator, existed bool) error {
	loc, err := e.values.Put(value)
	if err != nil {
		return err
	}
	if existed {
		_ = e.values.Tombstone(existing)
	}
	e.spine.Insert(key, loc)
	e.cacheStore.Invalidate(key)
	e.rebuildCtl.RecordMutation(key)
	return nil
}

// BatchInsert upserts every entry in entries. If cfg.RejectDuplicates is
// also set, cfg.BatchAtomic first validates the whole batch for duplicate
// keys up front, rejecting it wholesale if any key already exists.
//
// With cfg.BatchAtomic set, the batch's durability is genuinely
// all-or-nothing: every entry is staged in a single WAL Batch record whose
// CRC32 covers the entire payload, so a crash either loses the whole
// record (torn tail, discarded on reopen) or replays every entry together
// — there is no WAL state corresponding to a partial batch. Without
// BatchAtomic, entries apply independently via their own WAL Put records,
// and a failure partway through leaves prior entries in the batch applied.
func (e *Engine) BatchInsert(entries []KV) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.healthyLocked(); err != nil {
		return err
	}

	if e.cfg.BatchAtomic && e.cfg.RejectDuplicates {
		for _, kv := range entries {
			if _, ok := e.lookupLocator(kv.Key); ok {
				return omenerr.New(omenerr.KindAlreadyExists, "engine.batch_insert", fmt.Errorf("key %d: %w", kv.Key, ErrKeyExists))
			}
		}
	}

	if e.cfg.BatchAtomic {
		return e.poison(e.batchInsertAtomicLocked(entries))
	}

	for _, kv := range entries {
		if err := e.poison(e.insertLocked(kv.Key, kv.Value)); err != nil {
			return err
		}
	}
	return nil
}

// batchInsertAtomicLocked stages entries as one WAL Batch record, then
// applies each to the Value Store and Sorted Spine. A failure applying an
// already-committed batch entry means the Value Store disagrees with a
// WAL record that has already been made durable — an inconsistency
// between two supposedly-agreeing storage layers, which is an Internal
// error rather than an ordinary one and is reported as such so the caller
// poisons the engine.
func (e *Engine) batchInsertAtomicLocked(entries []KV) error {
	walEntries := make([]wal.BatchEntry, len(entries))
	for i, kv := range entries {
		walEntries[i] = wal.BatchEntry{Key: kv.Key, Value: kv.Value}
	}
	if _, err := e.wal.Append(wal.Record{Kind: wal.KindBatch, Entries: walEntries}); err != nil {
		return err
	}

	for _, kv := range entries {
		existing, exists := e.lookupLocator(kv.Key)
		if err := e.applyPutLocked(kv.Key, kv.Value, existing, exists); err != nil {
			return omenerr.New(omenerr.KindInternal, "engine.batch_insert",
				fmt.Errorf("value store inconsistent with committed WAL batch: %w", err))
		}
	}
	return nil
}

// Get resolves key to its current value, consulting the recency cache
// first.
func (e *Engine) Get(key int64) ([]byte, error) {
	if err := e.degradedErr(); err != nil {
		return nil, err
	}

	if v, ok := e.cacheStore.Get(key); ok {
		return v, nil
	}

	loc, ok := e.lookupLocator(key)
	if !ok {
		return nil, omenerr.New(omenerr.KindNotFound, "engine.get", ErrKeyNotFound)
	}

	value, err := e.values.Get(loc)
	if err != nil {
		return nil, e.poison(err)
	}
	e.cacheStore.Put(key, value)
	return value, nil
}

// lookupLocator resolves key via the Learned Index's predicted window
// first, then widens to a full spine scan if the window misses — a stale
// (not-yet-rebuilt) model can predict a window that misses the key, and
// the fallback keeps that from becoming a false negative regardless of
// rebuild timing.
func (e *Engine) lookupLocator(key int64) (locator.Locator, bool) {
	guard := e.index.EnterRead()
	root := guard.Root()
	guard.Leave()

	if pos, errorBound, ok := model.Locate(root, key); ok {
		if p, found := e.spine.PositionOf(key, pos-errorBound, pos+errorBound); found {
			if p == -1 {
				return e.spine.BufferLocator(key)
			}
			if entry, err := e.spine.EntryAt(p); err == nil {
				return entry.Locator, true
			}
		}
	}

	if p, found := e.spine.FullScan(key); found {
		if entry, err := e.spine.EntryAt(p); err == nil {
			return entry.Locator, true
		}
	}
	return e.spine.BufferLocator(key)
}

// Delete removes key. Returns an error if key is not present.
func (e *Engine) Delete(key int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.healthyLocked(); err != nil {
		return err
	}
	return e.poison(e.deleteLocked(key))
}

func (e *Engine) deleteLocked(key int64) error {
	loc, ok := e.lookupLocator(key)
	if !ok {
		return omenerr.New(omenerr.KindNotFound, "engine.delete", ErrKeyNotFound)
	}

	if _, err := e.wal.Append(wal.Record{Kind: wal.KindDelete, Key: key}); err != nil {
		return err
	}
	_ = e.values.Tombstone(loc)
	e.spine.Delete(key)
	e.cacheStore.Invalidate(key)
	e.rebuildCtl.RecordMutation(key)
	return nil
}

// RangeCursor iterates (key, value) pairs over a Range call's snapshot,
// resolving each locator against the Value Store as it's consumed. Range
// results bypass the recency cache: a scan's results rarely repeat
// verbatim, so caching them would only evict genuinely hot point-lookup
// entries.
type RangeCursor struct {
	it     *spine.Iterator
	values *valuestore.Store
}

// Next advances the cursor. ok is false once the range is exhausted.
func (c *RangeCursor) Next() (key int64, value []byte, ok bool, err error) {
	e, has := c.it.Next()
	if !has {
		return 0, nil, false, nil
	}
	value, err = c.values.Get(e.Locator)
	return e.Key, value, true, err
}

// Range returns a cursor over every live key in [lo, hi] (closed-closed),
// in increasing key order.
func (e *Engine) Range(lo, hi int64) (*RangeCursor, error) {
	if err := e.degradedErr(); err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, omenerr.New(omenerr.KindInvalidArgument, "engine.range", ErrInvalidRange)
	}
	it, err := e.spine.Range(lo, hi)
	if err != nil {
		return nil, e.poison(err)
	}
	return &RangeCursor{it: it, values: e.values}, nil
}

// Flush drives any buffered WAL records and Value Store writes to disk
// without taking a checkpoint.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.healthyLocked(); err != nil {
		return err
	}
	if err := e.wal.Flush(); err != nil {
		return e.poison(err)
	}
	return e.poison(e.values.Sync())
}

// Checkpoint compacts the Sorted Spine, retrains the Learned Index over
// the compacted layout, durably flushes the Value Store, writes a snapshot
// of the spine, and truncates the WAL up to that point.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.healthyLocked(); err != nil {
		return err
	}

	e.spine.Compact()
	if err := e.values.Sync(); err != nil {
		return e.poison(err)
	}

	e.generation++
	path, err := writeSnapshot(e.dir, e.generation, e.spine)
	if err != nil {
		return e.poison(err)
	}
	if _, err := e.wal.Checkpoint(e.generation, filepath.Base(path)); err != nil {
		return e.poison(err)
	}

	e.rebuildCtl.Rebuild()
	return nil
}

// CompactValues rewrites the Value Store's live records into fresh
// segments, reclaiming space held by tombstoned and superseded records,
// and updates the Sorted Spine's locators to match.
func (e *Engine) CompactValues() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.healthyLocked(); err != nil {
		return err
	}

	remap, err := e.values.Compact()
	if err != nil {
		return e.poison(err)
	}
	e.spine.RemapLocators(remap)
	e.cacheStore.InvalidateAll()
	return nil
}

// Close flushes, stops the background rebuild worker, and releases the
// directory lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.rebuildCtl.Close()

	var firstErr error
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.values.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unlockFile(e.lockFile); err != nil && firstErr == nil {
		firstErr = err
	}
	e.lockFile.Close()
	return firstErr
}

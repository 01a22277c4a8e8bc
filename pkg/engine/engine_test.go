// pkg/engine/engine_test.go
package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"omendb/pkg/omenerr"
	"omendb/pkg/rebuild"
	"omendb/pkg/wal"
)

func openTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_InsertGet(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	if err := e.Insert(1, []byte("hello")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	v, err := e.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(v, []byte("hello")) {
		t.Errorf("expected %q, got %q", "hello", v)
	}
}

func TestEngine_GetMissing(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	_, err := e.Get(42)
	if omenerr.KindOf(err) != omenerr.KindNotFound {
		t.Errorf("expected KindNotFound, got %v", omenerr.KindOf(err))
	}
}

func TestEngine_InsertOverwrite(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	if err := e.Insert(1, []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := e.Insert(1, []byte("v2")); err != nil {
		t.Fatalf("Insert (overwrite) failed: %v", err)
	}
	v, err := e.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(v, []byte("v2")) {
		t.Errorf("expected overwritten value %q, got %q", "v2", v)
	}
}

func TestEngine_RejectDuplicates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectDuplicates = true
	e := openTestEngine(t, cfg)

	if err := e.Insert(1, []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err := e.Insert(1, []byte("v2"))
	if omenerr.KindOf(err) != omenerr.KindAlreadyExists {
		t.Errorf("expected KindAlreadyExists, got %v", omenerr.KindOf(err))
	}
}

func TestEngine_Delete(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	if err := e.Insert(1, []byte("v")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := e.Delete(1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := e.Get(1); omenerr.KindOf(err) != omenerr.KindNotFound {
		t.Errorf("expected KindNotFound after delete, got %v", omenerr.KindOf(err))
	}
}

func TestEngine_DeleteMissing(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	err := e.Delete(99)
	if omenerr.KindOf(err) != omenerr.KindNotFound {
		t.Errorf("expected KindNotFound, got %v", omenerr.KindOf(err))
	}
}

func TestEngine_BatchInsert(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	entries := []KV{{Key: 1, Value: []byte("a")}, {Key: 2, Value: []byte("b")}, {Key: 3, Value: []byte("c")}}
	if err := e.BatchInsert(entries); err != nil {
		t.Fatalf("BatchInsert failed: %v", err)
	}
	for _, kv := range entries {
		v, err := e.Get(kv.Key)
		if err != nil {
			t.Fatalf("Get(%d) failed: %v", kv.Key, err)
		}
		if !bytes.Equal(v, kv.Value) {
			t.Errorf("key %d: expected %q, got %q", kv.Key, kv.Value, v)
		}
	}
}

func TestEngine_BatchInsert_AtomicRejectsOnDuplicate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectDuplicates = true
	cfg.BatchAtomic = true
	e := openTestEngine(t, cfg)

	if err := e.Insert(2, []byte("existing")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	entries := []KV{{Key: 1, Value: []byte("a")}, {Key: 2, Value: []byte("b")}}
	err := e.BatchInsert(entries)
	if omenerr.KindOf(err) != omenerr.KindAlreadyExists {
		t.Fatalf("expected KindAlreadyExists, got %v", omenerr.KindOf(err))
	}

	// Atomic batch should not have applied key 1 either.
	if _, err := e.Get(1); omenerr.KindOf(err) != omenerr.KindNotFound {
		t.Error("expected atomic batch to apply nothing when validation fails up front")
	}
}

// walSegmentPath returns the (sole) WAL segment file under dir/wal, for
// tests that simulate a crash by truncating it directly.
func walSegmentPath(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "wal"))
	if err != nil {
		t.Fatalf("ReadDir(wal) failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one WAL segment, got %d", len(entries))
	}
	return filepath.Join(dir, "wal", entries[0].Name())
}

func TestEngine_BatchInsert_AtomicSurvivesFullReplay(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.BatchAtomic = true
	cfg.Durability = wal.SyncEveryWrite
	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	entries := []KV{{Key: 1, Value: []byte("a")}, {Key: 2, Value: []byte("b")}, {Key: 3, Value: []byte("c")}}
	if err := e.BatchInsert(entries); err != nil {
		t.Fatalf("BatchInsert failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e2, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()
	for _, kv := range entries {
		v, err := e2.Get(kv.Key)
		if err != nil {
			t.Fatalf("Get(%d) after replay failed: %v", kv.Key, err)
		}
		if !bytes.Equal(v, kv.Value) {
			t.Errorf("key %d: expected %q, got %q", kv.Key, kv.Value, v)
		}
	}
}

func TestEngine_BatchInsert_AtomicCrashMidBatchLeavesNoneDurable(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.BatchAtomic = true
	cfg.Durability = wal.SyncEveryWrite
	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	// A durable entry written before the batch, to confirm recovery keeps
	// everything preceding the torn record.
	if err := e.Insert(100, []byte("before")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	entries := []KV{{Key: 1, Value: []byte("a")}, {Key: 2, Value: []byte("b")}, {Key: 3, Value: []byte("c")}}
	if err := e.BatchInsert(entries); err != nil {
		t.Fatalf("BatchInsert failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a crash partway through writing the batch record by
	// truncating its tail off the WAL segment.
	segPath := walSegmentPath(t, dir)
	info, err := os.Stat(segPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if err := os.Truncate(segPath, info.Size()-4); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	e2, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("reopen after simulated crash failed: %v", err)
	}
	defer e2.Close()

	if v, err := e2.Get(100); err != nil || !bytes.Equal(v, []byte("before")) {
		t.Errorf("expected the pre-batch entry to survive the crash, got %q, err=%v", v, err)
	}
	for _, kv := range entries {
		if _, err := e2.Get(kv.Key); omenerr.KindOf(err) != omenerr.KindNotFound {
			t.Errorf("expected no entries from the torn batch to be durable, but key %d is present", kv.Key)
		}
	}
}

func TestEngine_DegradedState_PoisonsSubsequentOperations(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	if err := e.Insert(1, []byte("v")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	fatal := omenerr.New(omenerr.KindCorruption, "test.inject", errors.New("simulated corruption"))
	e.poison(fatal)

	if _, err := e.Get(1); !errors.Is(err, fatal) {
		t.Errorf("expected Get to surface the poisoning error, got %v", err)
	}
	if err := e.Insert(2, []byte("v")); !errors.Is(err, fatal) {
		t.Errorf("expected Insert to surface the poisoning error, got %v", err)
	}
	if err := e.Delete(1); !errors.Is(err, fatal) {
		t.Errorf("expected Delete to surface the poisoning error, got %v", err)
	}
	if _, err := e.Range(1, 10); !errors.Is(err, fatal) {
		t.Errorf("expected Range to surface the poisoning error, got %v", err)
	}
	if err := e.Flush(); !errors.Is(err, fatal) {
		t.Errorf("expected Flush to surface the poisoning error, got %v", err)
	}
	if err := e.Checkpoint(); !errors.Is(err, fatal) {
		t.Errorf("expected Checkpoint to surface the poisoning error, got %v", err)
	}
}

func TestEngine_DegradedState_NonFatalErrorsDoNotPoison(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	// A NotFound miss must not latch the engine into a degraded state.
	if _, err := e.Get(42); omenerr.KindOf(err) != omenerr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
	if err := e.Insert(1, []byte("v")); err != nil {
		t.Errorf("expected Insert to still succeed after a non-fatal miss, got %v", err)
	}
}

func TestEngine_Range(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	for i := int64(1); i <= 10; i++ {
		if err := e.Insert(i, []byte{byte(i)}); err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
	}

	cur, err := e.Range(3, 6)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	var got []int64
	for {
		k, _, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("cursor Next failed: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, k)
	}
	want := []int64{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestEngine_Range_InvalidRange(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	_, err := e.Range(10, 1)
	if omenerr.KindOf(err) != omenerr.KindInvalidArgument {
		t.Errorf("expected KindInvalidArgument, got %v", omenerr.KindOf(err))
	}
}

func TestEngine_FlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e.Insert(1, []byte("durable")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e2, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	v, err := e2.Get(1)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if !bytes.Equal(v, []byte("durable")) {
		t.Errorf("expected %q, got %q", "durable", v)
	}
}

func TestEngine_CheckpointAndRecover(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	e, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := int64(1); i <= 20; i++ {
		if err := e.Insert(i, []byte{byte(i)}); err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
	}
	if err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	// Writes after the checkpoint must still be recovered via WAL replay.
	if err := e.Insert(21, []byte{21}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e2, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("reopen after checkpoint failed: %v", err)
	}
	defer e2.Close()

	for i := int64(1); i <= 21; i++ {
		v, err := e2.Get(i)
		if err != nil {
			t.Fatalf("Get(%d) after recovery failed: %v", i, err)
		}
		if len(v) != 1 || v[0] != byte(i) {
			t.Errorf("key %d: expected %v, got %v", i, []byte{byte(i)}, v)
		}
	}
}

func TestEngine_CompactValues(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	for i := int64(1); i <= 5; i++ {
		if err := e.Insert(i, []byte("value")); err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
	}
	if err := e.Delete(3); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := e.CompactValues(); err != nil {
		t.Fatalf("CompactValues failed: %v", err)
	}

	for _, i := range []int64{1, 2, 4, 5} {
		v, err := e.Get(i)
		if err != nil {
			t.Fatalf("Get(%d) after compact failed: %v", i, err)
		}
		if !bytes.Equal(v, []byte("value")) {
			t.Errorf("key %d: expected %q, got %q", i, "value", v)
		}
	}
	if _, err := e.Get(3); omenerr.KindOf(err) != omenerr.KindNotFound {
		t.Error("expected deleted key to stay absent after CompactValues")
	}
}

func TestEngine_OperationsAfterClose(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := e.Insert(1, []byte("v")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := e.Delete(1); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := e.Flush(); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := e.Checkpoint(); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestEngine_DoubleCloseIsSafe(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestEngine_SecondOpenFailsOnLock(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer e.Close()

	_, err = Open(dir, DefaultConfig())
	if omenerr.KindOf(err) != omenerr.KindUnavailable {
		t.Errorf("expected KindUnavailable for a locked directory, got %v", omenerr.KindOf(err))
	}
}

func TestEngine_Stats(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	for i := int64(1); i <= 5; i++ {
		if err := e.Insert(i, []byte("v")); err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
	}
	stats := e.Stats()
	if stats.Entries != 5 {
		t.Errorf("expected 5 entries, got %d", stats.Entries)
	}
}

func TestEngine_SynchronousRebuildMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RebuildMode = rebuild.Synchronous
	cfg.RebuildDirtyFraction = 0.01
	e := openTestEngine(t, cfg)

	for i := int64(1); i <= 200; i++ {
		if err := e.Insert(i, []byte{byte(i)}); err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
	}

	v, err := e.Get(100)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(v) != 1 || v[0] != 100 {
		t.Errorf("expected [100], got %v", v)
	}
}

func TestEngine_CacheServesRepeatedGet(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	if err := e.Insert(1, []byte("cached")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := e.Get(1); err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	if _, err := e.Get(1); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	stats := e.Stats()
	if stats.Cache.Hits < 1 {
		t.Errorf("expected at least 1 cache hit, got %d", stats.Cache.Hits)
	}
}

func TestEngine_CacheInvalidatedOnWrite(t *testing.T) {
	e := openTestEngine(t, DefaultConfig())
	if err := e.Insert(1, []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := e.Get(1); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := e.Insert(1, []byte("v2")); err != nil {
		t.Fatalf("overwrite Insert failed: %v", err)
	}
	v, err := e.Get(1)
	if err != nil {
		t.Fatalf("Get after overwrite failed: %v", err)
	}
	if !bytes.Equal(v, []byte("v2")) {
		t.Errorf("expected cache to not serve the stale value, got %q", v)
	}
}

func TestEngine_CacheMemoryBudgetWired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheMemoryLimitBytes = 1 << 20
	e := openTestEngine(t, cfg)

	if err := e.Insert(1, []byte("v")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := e.Get(1); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.cacheBudget == nil {
		t.Fatal("expected a memory budget to be constructed when CacheMemoryLimitBytes is set")
	}
}

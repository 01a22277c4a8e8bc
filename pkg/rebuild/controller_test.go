// pkg/rebuild/controller_test.go
package rebuild

import (
	"testing"

	"go.uber.org/zap"

	"omendb/pkg/model"
)

type fakeSource struct {
	keys []int64
}

func (s *fakeSource) MainLen() int        { return len(s.keys) }
func (s *fakeSource) KeyAt(pos int) int64 { return s.keys[pos] }

func newFakeSource(n int) *fakeSource {
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i)
	}
	return &fakeSource{keys: keys}
}

func TestController_Rebuild_PublishesAndResetsDirty(t *testing.T) {
	src := newFakeSource(100)
	idx := model.New(model.DefaultConfig())
	ctl := New(idx, src, Config{Mode: Synchronous, DirtyFraction: 0.20}, model.DefaultConfig(), zap.NewNop())
	defer ctl.Close()

	ctl.RecordMutation(1)
	root := ctl.Rebuild()
	if root.TotalEntries != 100 {
		t.Errorf("expected TotalEntries=100, got %d", root.TotalEntries)
	}
	if ctl.PendingDirty() != 0 {
		t.Errorf("expected dirty counter reset after Rebuild, got %d", ctl.PendingDirty())
	}
	if idx.CurrentRoot().Generation != root.Generation {
		t.Error("expected CurrentRoot to reflect the published root")
	}
}

func TestController_Synchronous_TriggersInline(t *testing.T) {
	src := newFakeSource(10)
	idx := model.New(model.DefaultConfig())
	ctl := New(idx, src, Config{Mode: Synchronous, DirtyFraction: 0.20}, model.DefaultConfig(), zap.NewNop())
	defer ctl.Close()

	genBefore := idx.CurrentRoot().Generation
	for i := 0; i < 3; i++ { // 3 distinct keys, 3/10 = 30% >= 20% threshold
		ctl.RecordMutation(int64(i))
	}
	if idx.CurrentRoot().Generation == genBefore {
		t.Error("expected Synchronous mode to have rebuilt inline once the threshold crossed")
	}
}

func TestController_Background_SchedulesAndCompletes(t *testing.T) {
	src := newFakeSource(10)
	idx := model.New(model.DefaultConfig())
	ctl := New(idx, src, Config{Mode: Background, DirtyFraction: 0.20}, model.DefaultConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		ctl.RecordMutation(int64(i))
	}
	ctl.Close() // waits for any in-flight rebuild to finish

	if idx.CurrentRoot().Generation == 0 {
		t.Error("expected a background rebuild to have published at least one generation")
	}
}

func TestController_BelowThreshold_DoesNotRebuild(t *testing.T) {
	src := newFakeSource(1000)
	idx := model.New(model.DefaultConfig())
	ctl := New(idx, src, Config{Mode: Synchronous, DirtyFraction: 0.20}, model.DefaultConfig(), zap.NewNop())
	defer ctl.Close()

	ctl.RecordMutation(1) // 1/1000, far below 20%
	if idx.CurrentRoot().Generation != 0 {
		t.Error("expected no rebuild below the dirty fraction threshold")
	}
	if ctl.PendingDirty() != 1 {
		t.Errorf("expected dirty counter to reflect the recorded mutation, got %d", ctl.PendingDirty())
	}
}

func TestController_EmptySource_NeverRebuilds(t *testing.T) {
	src := newFakeSource(0)
	idx := model.New(model.DefaultConfig())
	ctl := New(idx, src, Config{Mode: Synchronous, DirtyFraction: 0.20}, model.DefaultConfig(), zap.NewNop())
	defer ctl.Close()

	ctl.RecordMutation(1)
	if idx.CurrentRoot().Generation != 0 {
		t.Error("expected an empty source to never trigger a rebuild")
	}
}

func TestController_RecordMutation_DedupsRepeatedKey(t *testing.T) {
	src := newFakeSource(10)
	idx := model.New(model.DefaultConfig())
	ctl := New(idx, src, Config{Mode: Synchronous, DirtyFraction: 0.20}, model.DefaultConfig(), zap.NewNop())
	defer ctl.Close()

	for i := 0; i < 3; i++ { // same key 3 times: still 1/10, below threshold
		ctl.RecordMutation(7)
	}
	if ctl.PendingDirty() != 1 {
		t.Errorf("expected repeated writes to the same key to count once, got %d", ctl.PendingDirty())
	}
	if idx.CurrentRoot().Generation != 0 {
		t.Error("expected no rebuild: a deduped single dirty key is below the 20%% threshold")
	}
}

func TestController_RebuildCount_Accumulates(t *testing.T) {
	src := newFakeSource(10)
	idx := model.New(model.DefaultConfig())
	ctl := New(idx, src, Config{Mode: Synchronous, DirtyFraction: 0.20}, model.DefaultConfig(), zap.NewNop())
	defer ctl.Close()

	if ctl.RebuildCount() != 0 {
		t.Fatalf("expected 0 rebuilds initially, got %d", ctl.RebuildCount())
	}
	ctl.Rebuild()
	ctl.Rebuild()
	if ctl.RebuildCount() != 2 {
		t.Errorf("expected 2 accumulated rebuilds, got %d", ctl.RebuildCount())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Mode != Background {
		t.Errorf("expected default mode Background, got %v", cfg.Mode)
	}
	if cfg.DirtyFraction != 0.20 {
		t.Errorf("expected default dirty fraction 0.20, got %v", cfg.DirtyFraction)
	}
}

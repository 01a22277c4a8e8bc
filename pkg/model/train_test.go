// pkg/model/train_test.go
package model

import "testing"

type sliceSource []int64

func (s sliceSource) MainLen() int          { return len(s) }
func (s sliceSource) KeyAt(pos int) int64   { return s[pos] }

func sequential(n int) sliceSource {
	out := make(sliceSource, n)
	for i := range out {
		out[i] = int64(i * 2)
	}
	return out
}

func TestBuildLeaves_Empty(t *testing.T) {
	leaves := BuildLeaves(sliceSource{}, DefaultConfig())
	if leaves != nil {
		t.Errorf("expected nil leaves for empty source, got %v", leaves)
	}
}

func TestBuildLeaves_PartitionsIntoTargetSizedRuns(t *testing.T) {
	src := sequential(150)
	cfg := Config{LeafTargetSize: 64, LeafMinSize: 8, InnerMaxFanout: 256, MaxErrorBound: 64}
	leaves := BuildLeaves(src, cfg)

	// 150 entries at target 64 -> 3 leaves (64, 64, 22)
	if len(leaves) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(leaves))
	}
	total := 0
	for _, l := range leaves {
		total += l.Count
	}
	if total != 150 {
		t.Errorf("expected leaf counts to sum to 150, got %d", total)
	}
	if leaves[0].PositionBase != 0 || leaves[1].PositionBase != 64 || leaves[2].PositionBase != 128 {
		t.Errorf("unexpected position bases: %d, %d, %d", leaves[0].PositionBase, leaves[1].PositionBase, leaves[2].PositionBase)
	}
}

func TestTrainLeaf_LinearKeysHaveZeroError(t *testing.T) {
	src := sequential(64) // keys 0, 2, 4, ... perfectly linear in position
	leaf := trainLeaf(src, 0, 64)
	if leaf.ErrorBound != 0 {
		t.Errorf("expected 0 error bound for perfectly linear keys, got %d", leaf.ErrorBound)
	}
	if leaf.KeyMin != 0 || leaf.KeyMax != 126 {
		t.Errorf("expected KeyMin=0 KeyMax=126, got %d %d", leaf.KeyMin, leaf.KeyMax)
	}
}

func TestBuildTree_SingleLeafIsRoot(t *testing.T) {
	src := sequential(10)
	leaves := BuildLeaves(src, Config{LeafTargetSize: 64, LeafMinSize: 8, InnerMaxFanout: 256})
	root, height, leafCount := BuildTree(leaves, DefaultConfig())
	if height != 1 || leafCount != 1 {
		t.Errorf("expected height=1 leafCount=1, got %d %d", height, leafCount)
	}
	if root.Kind != KindLeaf {
		t.Errorf("expected single-leaf root to remain a leaf, got kind %v", root.Kind)
	}
}

func TestBuildTree_MultipleLeavesGetInnerRoot(t *testing.T) {
	src := sequential(300)
	cfg := Config{LeafTargetSize: 32, LeafMinSize: 8, InnerMaxFanout: 4, MaxErrorBound: 64}
	leaves := BuildLeaves(src, cfg)
	if len(leaves) < 5 {
		t.Fatalf("expected several leaves for this test to be meaningful, got %d", len(leaves))
	}

	root, height, leafCount := BuildTree(leaves, cfg)
	if root.Kind != KindInner {
		t.Error("expected multi-leaf tree to have an inner root")
	}
	if height < 2 {
		t.Errorf("expected height >= 2, got %d", height)
	}
	if leafCount != len(leaves) {
		t.Errorf("expected leafCount=%d, got %d", len(leaves), leafCount)
	}
}

func TestBuildTree_Empty(t *testing.T) {
	root, height, leafCount := BuildTree(nil, DefaultConfig())
	if root != nil || height != 0 || leafCount != 0 {
		t.Errorf("expected zero values for empty leaves, got root=%v height=%d leafCount=%d", root, height, leafCount)
	}
}

func TestTrain_AvgLeafErrorBound_ZeroForLinearKeys(t *testing.T) {
	src := sequential(256)
	cfg := Config{LeafTargetSize: 32, LeafMinSize: 8, InnerMaxFanout: 8, MaxErrorBound: 64}
	_, _, _, avg := Train(src, cfg)
	if avg != 0 {
		t.Errorf("expected 0 average error bound for perfectly linear keys, got %v", avg)
	}
}

func TestTrain_Descent_FindsEveryKey(t *testing.T) {
	src := sequential(500)
	cfg := Config{LeafTargetSize: 32, LeafMinSize: 8, InnerMaxFanout: 8, MaxErrorBound: 64}
	root, _, _, _ := Train(src, cfg)

	for i := 0; i < 500; i += 37 {
		k := src[i]
		pos, errBound, ok := Locate(&Root{Node: root}, k)
		if !ok {
			t.Fatalf("expected Locate to succeed for key %d", k)
		}
		lo, hi := pos-errBound, pos+errBound
		if lo < 0 {
			lo = 0
		}
		if hi >= len(src) {
			hi = len(src) - 1
		}
		found := false
		for p := lo; p <= hi; p++ {
			if src[p] == k {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("key %d (true position %d): predicted window [%d,%d] did not contain it", k, i, lo, hi)
		}
	}
}

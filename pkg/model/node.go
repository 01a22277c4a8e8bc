// pkg/model/node.go
// Package model implements the Learned Index: a root-rooted tree of Inner
// and Leaf Models trained from the Sorted Spine, replacing B-tree
// traversal with model-plus-local-search lookup.
//
// Leaf and Inner Models share one Node struct with a Kind tag rather than
// an interface per variant, so traversal is a type-tag dispatch instead
// of a method set — the same shape used for B-tree pages and CoW tree
// nodes elsewhere in this codebase, generalized here from byte-page
// storage to an in-memory linear-model node.
package model

// Kind distinguishes a Leaf Model node from an Inner Model node.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindInner
)

// Node is a single Leaf or Inner Model. Leaf-only fields (PositionBase,
// Count) and Inner-only fields (Children) are zero on the kind that
// doesn't use them.
type Node struct {
	Kind Kind

	KeyMin, KeyMax int64
	Slope          float64
	Intercept      float64
	ErrorBound     int

	// Leaf Model fields.
	PositionBase int // position in the spine of the first entry covered
	Count        int // number of entries covered by this leaf

	// Inner Model fields.
	Children []*Node // bounded-length, ordered by child KeyMin
}

// PredictPosition predicts this leaf's in-range position for k:
// clamp(round(slope*k + intercept), 0, count-1), expressed as a
// spine-relative position (PositionBase + in-leaf offset).
func (n *Node) PredictPosition(k int64) int {
	offset := clamp(predictIndex(n.Slope, n.Intercept, float64(k)), 0, n.Count-1)
	return n.PositionBase + offset
}

// PredictChild predicts which child covers k: clamp(round(slope*k +
// intercept), 0, fanout-1).
func (n *Node) PredictChild(k int64) int {
	return clamp(predictIndex(n.Slope, n.Intercept, float64(k)), 0, len(n.Children)-1)
}

// Covers reports whether k falls within this node's trained key range.
// Descent still corrects via ErrorBound even when a key falls slightly
// outside the trained range (extrapolation beyond the root's own
// key_min/key_max is the caller's responsibility to reject).
func (n *Node) Covers(k int64) bool {
	return k >= n.KeyMin && k <= n.KeyMax
}

// resolveChild returns the child actually covering k, scanning the
// children within ErrorBound+1 of the model's predicted child index.
func (n *Node) resolveChild(k int64) *Node {
	predicted := n.PredictChild(k)
	lo := predicted - n.ErrorBound - 1
	hi := predicted + n.ErrorBound + 1
	if lo < 0 {
		lo = 0
	}
	if hi >= len(n.Children) {
		hi = len(n.Children) - 1
	}

	// exact containment first
	for i := lo; i <= hi; i++ {
		c := n.Children[i]
		if k >= c.KeyMin && k <= c.KeyMax {
			return c
		}
	}
	// k falls in a gap between trained ranges (e.g. a deleted key's
	// former slot); route to the predicted child, clamped to the search
	// window.
	best := clamp(predicted, lo, hi)
	return n.Children[best]
}

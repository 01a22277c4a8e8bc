// pkg/model/train.go
package model

// Source is the minimal view of the Sorted Spine that bulk training needs:
// a dense, positionally ordered key sequence. Decoupling training from the
// concrete spine.Spine type keeps this package importable by tests that
// want to train over a plain []int64.
type Source interface {
	MainLen() int
	KeyAt(pos int) int64
}

// Config bounds leaf and inner node shape during training, mirroring
// engine.Config's leaf_target_size / inner_max_fanout / max_error_bound.
type Config struct {
	LeafTargetSize int // target entries per leaf
	LeafMinSize    int // minimum before a leaf must merge with a neighbor
	InnerMaxFanout int // maximum children per inner node
	MaxErrorBound  int // carried for configuration; training does not read it and never splits or retrains a leaf on its error bound
}

// DefaultConfig returns the out-of-the-box training defaults.
func DefaultConfig() Config {
	return Config{
		LeafTargetSize: 64,
		LeafMinSize:    8,
		InnerMaxFanout: 256,
		MaxErrorBound:  64,
	}
}

// BuildLeaves partitions the full spine into leaf-sized runs and trains
// each leaf model: one O(n) pass over contiguous, cache-friendly slices.
func BuildLeaves(src Source, cfg Config) []*Node {
	n := src.MainLen()
	if n == 0 {
		return nil
	}

	target := cfg.LeafTargetSize
	if target < cfg.LeafMinSize {
		target = cfg.LeafMinSize
	}

	leaves := make([]*Node, 0, n/target+1)
	for start := 0; start < n; {
		end := start + target
		// a final run shorter than LeafMinSize merges into this leaf
		if end > n || n-end < cfg.LeafMinSize {
			end = n
		}
		leaves = append(leaves, trainLeaf(src, start, end))
		start = end
	}
	return leaves
}

// trainLeaf fits position(k) ≈ slope·k + intercept by OLS over spine
// positions [start, end), then computes error_bound as the exact maximum
// absolute residual over that same slice.
func trainLeaf(src Source, start, end int) *Node {
	count := end - start
	xs := make([]float64, count)
	ys := make([]float64, count)
	for i := 0; i < count; i++ {
		xs[i] = float64(src.KeyAt(start + i))
		ys[i] = float64(i)
	}

	slope, intercept := fitLinear(xs, ys)

	predicted := make([]int, count)
	actual := make([]int, count)
	for i := 0; i < count; i++ {
		predicted[i] = clamp(predictIndex(slope, intercept, xs[i]), 0, count-1)
		actual[i] = i
	}

	return &Node{
		Kind:         KindLeaf,
		KeyMin:       src.KeyAt(start),
		KeyMax:       src.KeyAt(end - 1),
		Slope:        slope,
		Intercept:    intercept,
		ErrorBound:   maxAbsResidual(predicted, actual),
		PositionBase: start,
		Count:        count,
	}
}

// BuildTree groups an ordered sequence of leaves under Inner Models by
// repeated linear regression over child key_min sequences, recursing
// until a single root remains. Returns the root node, tree height, and
// leaf count.
func BuildTree(leaves []*Node, cfg Config) (root *Node, height int, leafCount int) {
	leafCount = len(leaves)
	if leafCount == 0 {
		return nil, 0, 0
	}
	if leafCount == 1 {
		return leaves[0], 1, 1
	}

	level := leaves
	height = 1
	for len(level) > 1 {
		level = buildInnerLevel(level, cfg.InnerMaxFanout)
		height++
	}
	return level[0], height, leafCount
}

// buildInnerLevel groups children into inner nodes of at most maxFanout
// each, training a predict_child model per group. When the resulting
// inner node would itself need more parents than maxFanout allows, the
// next call to buildInnerLevel groups those inner nodes in turn — the
// tree grows upward one level at a time.
func buildInnerLevel(children []*Node, maxFanout int) []*Node {
	if maxFanout < 2 {
		maxFanout = 2
	}

	var level []*Node
	for start := 0; start < len(children); start += maxFanout {
		end := start + maxFanout
		if end > len(children) {
			end = len(children)
		}
		level = append(level, trainInner(children[start:end]))
	}
	return level
}

// trainInner fits a linear model mapping key -> child index over a group
// of child summaries, with error_bound set to the maximum child-index
// residual.
func trainInner(children []*Node) *Node {
	count := len(children)
	xs := make([]float64, count)
	ys := make([]float64, count)
	for i, c := range children {
		xs[i] = float64(c.KeyMin)
		ys[i] = float64(i)
	}

	slope, intercept := fitLinear(xs, ys)

	predicted := make([]int, count)
	actual := make([]int, count)
	for i := range children {
		predicted[i] = clamp(predictIndex(slope, intercept, xs[i]), 0, count-1)
		actual[i] = i
	}

	kids := make([]*Node, count)
	copy(kids, children)

	return &Node{
		Kind:       KindInner,
		KeyMin:     children[0].KeyMin,
		KeyMax:     children[count-1].KeyMax,
		Slope:      slope,
		Intercept:  intercept,
		ErrorBound: maxAbsResidual(predicted, actual),
		Children:   kids,
	}
}

// Train performs a full bulk build of the Learned Index over src: leaves
// first, then the inner hierarchy. Bulk rebuild is preferred over
// fine-grained incremental model updates, which drift in accuracy faster
// than they save work. avgLeafErrorBound is the mean ErrorBound across all
// trained leaves, surfaced so callers can report it as a rebuild-quality
// metric without walking the tree themselves.
func Train(src Source, cfg Config) (root *Node, height int, leafCount int, avgLeafErrorBound float64) {
	leaves := BuildLeaves(src, cfg)
	avgLeafErrorBound = averageErrorBound(leaves)
	root, height, leafCount = BuildTree(leaves, cfg)
	return root, height, leafCount, avgLeafErrorBound
}

// averageErrorBound returns the mean ErrorBound across leaves, or 0 for an
// empty slice.
func averageErrorBound(leaves []*Node) float64 {
	if len(leaves) == 0 {
		return 0
	}
	var sum int
	for _, l := range leaves {
		sum += l.ErrorBound
	}
	return float64(sum) / float64(len(leaves))
}

package tree

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/pkg/errors"
)

// DepthPolicy yields the maximum depth for one iteration. Randomizing
// depth across iterations varies the length of the extracted rules,
// which is what gives the final ensemble rules of mixed complexity.
type DepthPolicy func(iteration int, rng *rand.Rand) int

// FixedDepth grows every tree to at most d levels.
func FixedDepth(d int) DepthPolicy {
	return func(int, *rand.Rand) int { return d }
}

// DepthVector cycles through a per-iteration depth vector.
func DepthVector(depths []int) DepthPolicy {
	return func(iteration int, _ *rand.Rand) int {
		return depths[iteration%len(depths)]
	}
}

// ExponentialDepth draws depths so that the expected number of terminal
// nodes is meanLeaves, following a truncated exponential: the depth is
// 1 + floor(log2(L)) with L drawn around meanLeaves.
func ExponentialDepth(meanLeaves float64) DepthPolicy {
	return func(_ int, rng *rand.Rand) int {
		leaves := 2 + rng.ExpFloat64()*(meanLeaves-2)
		if leaves < 2 {
			leaves = 2
		}
		return 1 + int(math.Floor(math.Log2(leaves)))
	}
}

// Inductor grows one tree per iteration using a pluggable split
// strategy.
type Inductor struct {
	Strategy    SplitStrategy
	MinLeaf     int
	Categorical map[int]bool
}

// NewInductor validates and builds an Inductor. categoricalFeatures
// lists the column indices holding integer category codes.
func NewInductor(strategy SplitStrategy, minLeaf int, categoricalFeatures []int) (*Inductor, error) {
	if strategy == nil {
		return nil, errors.NewConfigError("tree.strategy", "split strategy is required", nil)
	}
	if minLeaf < 1 {
		minLeaf = 1
	}
	cat := make(map[int]bool, len(categoricalFeatures))
	for _, j := range categoricalFeatures {
		cat[j] = true
	}
	return &Inductor{Strategy: strategy, MinLeaf: minLeaf, Categorical: cat}, nil
}

// Grow fits a tree on the given rows of x against target. A degenerate
// sample (constant target, or too few rows) yields a single-leaf tree,
// never an error, so the ensemble loop can continue.
func (ind *Inductor) Grow(x mat.Matrix, target, weights []float64, rows []int, maxDepth int, rng *rand.Rand) *Tree {
	t := &Tree{}
	ind.growNode(t, x, target, weights, rows, -1, 0, maxDepth, rng)
	return t
}

func (ind *Inductor) growNode(t *Tree, x mat.Matrix, target, weights []float64,
	rows []int, parentID, depth, maxDepth int, rng *rand.Rand) int {

	nodeID := len(t.Nodes)
	leaf := Node{
		NodeID:      nodeID,
		ParentID:    parentID,
		LeftChild:   -1,
		RightChild:  -1,
		NodeType:    LeafNode,
		Depth:       depth,
		LeafValue:   weightedMean(target, weights, rows),
		SampleCount: len(rows),
	}

	if depth >= maxDepth || len(rows) < 2*ind.MinLeaf || constantTarget(target, rows) {
		t.Nodes = append(t.Nodes, leaf)
		return nodeID
	}

	cand, ok := ind.Strategy.BestSplit(x, target, weights, rows, ind.Categorical, ind.MinLeaf, rng)
	if !ok {
		t.Nodes = append(t.Nodes, leaf)
		return nodeID
	}

	node := leaf
	node.NodeType = cand.Kind
	node.SplitFeature = cand.Feature
	node.Threshold = cand.Threshold
	node.Categories = cand.Categories
	t.Nodes = append(t.Nodes, node)

	left, right := partition(x, rows, cand)
	if len(left) == 0 || len(right) == 0 {
		// Split did not separate the rows; fall back to a leaf.
		t.Nodes[nodeID] = leaf
		return nodeID
	}

	leftID := ind.growNode(t, x, target, weights, left, nodeID, depth+1, maxDepth, rng)
	rightID := ind.growNode(t, x, target, weights, right, nodeID, depth+1, maxDepth, rng)
	t.Nodes[nodeID].LeftChild = leftID
	t.Nodes[nodeID].RightChild = rightID
	return nodeID
}

func partition(x mat.Matrix, rows []int, cand Candidate) (left, right []int) {
	if cand.Kind == CategoricalNode {
		inLeft := make(map[int]bool, len(cand.Categories))
		for _, c := range cand.Categories {
			inLeft[c] = true
		}
		for _, r := range rows {
			if inLeft[int(x.At(r, cand.Feature))] {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}
		return left, right
	}
	for _, r := range rows {
		if x.At(r, cand.Feature) <= cand.Threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

func weightedMean(target, weights []float64, rows []int) float64 {
	var sum, wsum float64
	for _, r := range rows {
		sum += weights[r] * target[r]
		wsum += weights[r]
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

func constantTarget(target []float64, rows []int) bool {
	if len(rows) == 0 {
		return true
	}
	first := target[rows[0]]
	for _, r := range rows[1:] {
		if target[r] != first {
			return false
		}
	}
	return true
}

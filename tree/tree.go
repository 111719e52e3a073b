// Package tree implements the randomized decision trees whose paths are
// harvested as candidate rules. Nodes live in a flat arena indexed by
// integer ids with parent back-references, so path-to-root traversal
// during rule extraction is a plain index walk.
package tree

// NodeType discriminates leaves from the two split kinds.
type NodeType int

const (
	// LeafNode is a terminal node carrying a fitted value.
	LeafNode NodeType = iota
	// NumericalNode splits on value <= threshold.
	NumericalNode
	// CategoricalNode splits on membership in a category set.
	CategoricalNode
)

// Node is a single node in the arena. Children and parent are arena
// indices; -1 means absent.
type Node struct {
	NodeID     int
	ParentID   int
	LeftChild  int
	RightChild int
	NodeType   NodeType
	Depth      int

	// Split information, set for internal nodes.
	SplitFeature int
	Threshold    float64
	Categories   []int // left-going category codes for categorical splits

	// Leaf information.
	LeafValue   float64
	SampleCount int
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.LeftChild == -1 && n.RightChild == -1
}

// Tree is an arena of nodes. The root is Nodes[0]. Trees are transient:
// they are grown, their paths extracted, and then discarded.
type Tree struct {
	Nodes []Node
}

// IsStump reports whether the tree consists of a single leaf and thus
// contributes no rules.
func (t *Tree) IsStump() bool {
	return len(t.Nodes) <= 1
}

// Predict routes one observation to its leaf value.
func (t *Tree) Predict(row []float64) float64 {
	nodeID := 0
	for nodeID >= 0 && nodeID < len(t.Nodes) {
		node := &t.Nodes[nodeID]
		if node.IsLeaf() {
			return node.LeafValue
		}

		v := row[node.SplitFeature]
		switch node.NodeType {
		case NumericalNode:
			if v <= node.Threshold {
				nodeID = node.LeftChild
			} else {
				nodeID = node.RightChild
			}
		case CategoricalNode:
			goesLeft := false
			code := int(v)
			for _, cat := range node.Categories {
				if code == cat {
					goesLeft = true
					break
				}
			}
			if goesLeft {
				nodeID = node.LeftChild
			} else {
				nodeID = node.RightChild
			}
		default:
			return node.LeafValue
		}
	}
	return 0
}

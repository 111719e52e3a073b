package rule

import (
	"testing"

	"github.com/prego-ml/prego/tree"
)

// twoLevelTree builds the arena
//
//	          x1 <= 5
//	         /       \
//	   x2 <= 1       leaf
//	   /     \
//	 leaf   leaf
func twoLevelTree() *tree.Tree {
	return &tree.Tree{Nodes: []tree.Node{
		{NodeID: 0, ParentID: -1, LeftChild: 1, RightChild: 2, NodeType: tree.NumericalNode, SplitFeature: 0, Threshold: 5},
		{NodeID: 1, ParentID: 0, LeftChild: 3, RightChild: 4, NodeType: tree.NumericalNode, SplitFeature: 1, Threshold: 1},
		{NodeID: 2, ParentID: 0, LeftChild: -1, RightChild: -1, NodeType: tree.LeafNode},
		{NodeID: 3, ParentID: 1, LeftChild: -1, RightChild: -1, NodeType: tree.LeafNode},
		{NodeID: 4, ParentID: 1, LeftChild: -1, RightChild: -1, NodeType: tree.LeafNode},
	}}
}

func TestExtract(t *testing.T) {
	rules := Extract(twoLevelTree(), nil, false)

	want := []string{
		"x1 <= 5",
		"x1 > 5",
		"x1 <= 5 & x2 <= 1",
		"x1 <= 5 & x2 > 1",
	}
	if len(rules) != len(want) {
		t.Fatalf("Extract returned %d rules, want %d", len(rules), len(want))
	}
	for i, r := range rules {
		if r.Description() != want[i] {
			t.Errorf("rule %d = %q, want %q", i, r.Description(), want[i])
		}
	}
}

func TestExtractComplements(t *testing.T) {
	rules := Extract(twoLevelTree(), nil, true)

	// One rule per non-root node, each followed by its complement.
	if len(rules) != 8 {
		t.Fatalf("Extract returned %d rules, want 8", len(rules))
	}
	row := []float64{3, 0}
	for i := 0; i < len(rules); i += 2 {
		sum := rules[i].Evaluate(row) + rules[i+1].Evaluate(row)
		if sum != 1 {
			t.Errorf("rule %d + complement = %v, want 1", i, sum)
		}
	}
}

func TestExtractStump(t *testing.T) {
	stump := &tree.Tree{Nodes: []tree.Node{
		{NodeID: 0, ParentID: -1, LeftChild: -1, RightChild: -1, NodeType: tree.LeafNode},
	}}
	if rules := Extract(stump, nil, true); rules != nil {
		t.Errorf("Extract on a stump = %d rules, want none", len(rules))
	}
	if rules := Extract(nil, nil, true); rules != nil {
		t.Errorf("Extract on nil tree = %d rules, want none", len(rules))
	}
}

func TestExtractCategorical(t *testing.T) {
	tr := &tree.Tree{Nodes: []tree.Node{
		{NodeID: 0, ParentID: -1, LeftChild: 1, RightChild: 2, NodeType: tree.CategoricalNode, SplitFeature: 0, Categories: []int{0, 2}},
		{NodeID: 1, ParentID: 0, LeftChild: -1, RightChild: -1, NodeType: tree.LeafNode},
		{NodeID: 2, ParentID: 0, LeftChild: -1, RightChild: -1, NodeType: tree.LeafNode},
	}}
	rules := Extract(tr, []string{"color"}, false)
	if len(rules) != 2 {
		t.Fatalf("Extract returned %d rules, want 2", len(rules))
	}
	if got, want := rules[0].Description(), "color in {0, 2}"; got != want {
		t.Errorf("left rule = %q, want %q", got, want)
	}
	if got, want := rules[1].Description(), "color not in {0, 2}"; got != want {
		t.Errorf("right rule = %q, want %q", got, want)
	}

	// Membership evaluates on the category code.
	if got := rules[0].Evaluate([]float64{2}); got != 1 {
		t.Errorf("membership rule on code 2 = %v, want 1", got)
	}
	if got := rules[0].Evaluate([]float64{1}); got != 0 {
		t.Errorf("membership rule on code 1 = %v, want 0", got)
	}
}

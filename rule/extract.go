package rule

import (
	"github.com/prego-ml/prego/tree"
)

// Extract walks a fitted tree and emits one rule per non-root node, in
// ascending node-id order so the candidate set is reproducible run to
// run. The rule for a node is the conjunction of the ancestor split
// conditions satisfied on the path from the root. When complements is
// set, each rule is followed by its logical complement. Single-leaf
// trees yield no rules.
func Extract(t *tree.Tree, names []string, complements bool) []*Rule {
	if t == nil || t.IsStump() {
		return nil
	}

	var out []*Rule
	for id := 1; id < len(t.Nodes); id++ {
		splits := pathConditions(t, id)
		if len(splits) == 0 {
			continue
		}
		r := NewRule(splits, false, names)
		out = append(out, r)
		if complements {
			out = append(out, r.Complement(names))
		}
	}
	return out
}

// pathConditions collects the conditions from the root to node id, in
// root-first order. The walk follows parent indices up the arena and is
// reversed at the end.
func pathConditions(t *tree.Tree, id int) []Split {
	var reversed []Split
	for t.Nodes[id].ParentID >= 0 {
		parent := &t.Nodes[t.Nodes[id].ParentID]
		cond := splitCondition(parent)
		if parent.RightChild == id {
			cond = cond.Negate()
		}
		reversed = append(reversed, cond)
		id = parent.NodeID
	}

	out := make([]Split, len(reversed))
	for i, s := range reversed {
		out[len(reversed)-1-i] = s
	}
	return out
}

// splitCondition is the condition satisfied by the left child.
func splitCondition(n *tree.Node) Split {
	if n.NodeType == tree.CategoricalNode {
		return Split{
			Feature:    n.SplitFeature,
			Op:         OpIn,
			Categories: append([]int(nil), n.Categories...),
		}
	}
	return Split{
		Feature:   n.SplitFeature,
		Op:        OpLE,
		Threshold: n.Threshold,
	}
}

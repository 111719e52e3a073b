// Package rule defines the base learners of a prediction rule
// ensemble: logical rules harvested from tree paths, winsorized linear
// terms, and hinge functions. Learners are immutable once created and
// survive the trees that produced them.
package rule

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind tags the variant of a base learner.
type Kind string

const (
	// KindRule is a conjunction of split conditions, evaluating to {0,1}.
	KindRule Kind = "rule"
	// KindLinear is a winsorized linear term on one numeric predictor.
	KindLinear Kind = "linear"
	// KindHinge is a one-sided spline basis on one numeric predictor.
	KindHinge Kind = "hinge"
)

// BaseLearner is one column of the ensemble design matrix. Evaluate
// returns NaN when a predictor value the learner depends on is missing.
type BaseLearner interface {
	Kind() Kind
	Evaluate(row []float64) float64
	Description() string
}

// Op is a split comparison operator.
type Op int

const (
	// OpLE matches value <= threshold.
	OpLE Op = iota
	// OpGT matches value > threshold.
	OpGT
	// OpIn matches category codes in the set.
	OpIn
	// OpNotIn matches category codes outside the set.
	OpNotIn
)

// Split is one immutable condition on a single predictor.
type Split struct {
	Feature    int
	Op         Op
	Threshold  float64
	Categories []int
}

// Matches evaluates the condition for one value. The second return is
// false when the value is missing (NaN).
func (s Split) Matches(v float64) (bool, bool) {
	if math.IsNaN(v) {
		return false, false
	}
	switch s.Op {
	case OpLE:
		return v <= s.Threshold, true
	case OpGT:
		return v > s.Threshold, true
	case OpIn, OpNotIn:
		code := int(v)
		in := false
		for _, c := range s.Categories {
			if code == c {
				in = true
				break
			}
		}
		if s.Op == OpIn {
			return in, true
		}
		return !in, true
	}
	return false, true
}

// Negate returns the complementary condition.
func (s Split) Negate() Split {
	out := s
	switch s.Op {
	case OpLE:
		out.Op = OpGT
	case OpGT:
		out.Op = OpLE
	case OpIn:
		out.Op = OpNotIn
	case OpNotIn:
		out.Op = OpIn
	}
	return out
}

// Describe renders the condition using the given variable names. A nil
// or short name slice falls back to positional names.
func (s Split) Describe(names []string) string {
	name := variableName(names, s.Feature)
	switch s.Op {
	case OpLE:
		return fmt.Sprintf("%s <= %g", name, s.Threshold)
	case OpGT:
		return fmt.Sprintf("%s > %g", name, s.Threshold)
	case OpIn:
		return fmt.Sprintf("%s in %s", name, categorySet(s.Categories))
	case OpNotIn:
		return fmt.Sprintf("%s not in %s", name, categorySet(s.Categories))
	}
	return name
}

// Rule is an ordered conjunction of splits derived from one tree path.
// A negated rule is the logical complement of its conjunction, so a
// rule and its complement always sum to one on complete rows.
type Rule struct {
	Splits  []Split
	Negated bool

	desc string
}

// NewRule builds a rule and freezes its description. names provide the
// human-readable variable names referenced by the description; the rule
// keeps only the rendered string, not the slice.
func NewRule(splits []Split, negated bool, names []string) *Rule {
	r := &Rule{Splits: splits, Negated: negated}
	r.desc = r.render(names)
	return r
}

// Kind implements BaseLearner.
func (r *Rule) Kind() Kind { return KindRule }

// Description implements BaseLearner.
func (r *Rule) Description() string { return r.desc }

// Evaluate returns 1 when the row satisfies the conjunction (or fails
// it, for a negated rule), 0 otherwise, and NaN when any involved
// predictor is missing.
func (r *Rule) Evaluate(row []float64) float64 {
	matched := 1.0
	for _, s := range r.Splits {
		ok, present := s.Matches(row[s.Feature])
		if !present {
			return math.NaN()
		}
		if !ok {
			matched = 0
			break
		}
	}
	if r.Negated {
		return 1 - matched
	}
	return matched
}

// Complement returns the logical complement with its own description.
func (r *Rule) Complement(names []string) *Rule {
	return NewRule(r.Splits, !r.Negated, names)
}

func (r *Rule) render(names []string) string {
	parts := make([]string, len(r.Splits))
	for i, s := range r.Splits {
		parts[i] = s.Describe(names)
	}
	conj := strings.Join(parts, " & ")
	if r.Negated {
		return "!(" + conj + ")"
	}
	return conj
}

func variableName(names []string, feature int) string {
	if feature < len(names) && names[feature] != "" {
		return names[feature]
	}
	return fmt.Sprintf("x%d", feature+1)
}

func categorySet(cats []int) string {
	sorted := append([]int(nil), cats...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, c := range sorted {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

package rule

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LinearTerm is a winsorized linear base learner on one numeric
// predictor: it evaluates to the predictor value clipped to the
// [Lower, Upper] bounds computed from the training distribution.
// The bounds are part of the fitted ensemble and are reapplied
// unchanged at predict time.
type LinearTerm struct {
	Feature int
	Lower   float64
	Upper   float64

	desc string
}

// NewLinearTerm builds a linear term with frozen description.
func NewLinearTerm(feature int, lower, upper float64, names []string) *LinearTerm {
	lt := &LinearTerm{Feature: feature, Lower: lower, Upper: upper}
	lt.desc = fmt.Sprintf("%s[%g, %g]", variableName(names, feature), lower, upper)
	return lt
}

// Kind implements BaseLearner.
func (lt *LinearTerm) Kind() Kind { return KindLinear }

// Description implements BaseLearner.
func (lt *LinearTerm) Description() string { return lt.desc }

// Evaluate clips the predictor to the winsorizing bounds; missing
// values propagate as NaN.
func (lt *LinearTerm) Evaluate(row []float64) float64 {
	v := row[lt.Feature]
	if math.IsNaN(v) {
		return math.NaN()
	}
	if v < lt.Lower {
		return lt.Lower
	}
	if v > lt.Upper {
		return lt.Upper
	}
	return v
}

// Hinge is a one-sided spline basis: max(0, x - Knot), or
// max(0, Knot - x) when Negative is set.
type Hinge struct {
	Feature  int
	Knot     float64
	Negative bool

	desc string
}

// NewHinge builds a hinge learner with frozen description.
func NewHinge(feature int, knot float64, negative bool, names []string) *Hinge {
	h := &Hinge{Feature: feature, Knot: knot, Negative: negative}
	if negative {
		h.desc = fmt.Sprintf("max(0, %g - %s)", knot, variableName(names, feature))
	} else {
		h.desc = fmt.Sprintf("max(0, %s - %g)", variableName(names, feature), knot)
	}
	return h
}

// Kind implements BaseLearner.
func (h *Hinge) Kind() Kind { return KindHinge }

// Description implements BaseLearner.
func (h *Hinge) Description() string { return h.desc }

// Evaluate computes the hinge basis; missing values propagate as NaN.
func (h *Hinge) Evaluate(row []float64) float64 {
	v := row[h.Feature]
	if math.IsNaN(v) {
		return math.NaN()
	}
	if h.Negative {
		return math.Max(0, h.Knot-v)
	}
	return math.Max(0, v-h.Knot)
}

// WinsorBounds computes the lower/upper winsorizing bounds for one
// column as the (q, 1-q) empirical quantile pair.
func WinsorBounds(col []float64, q float64) (lower, upper float64) {
	sorted := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.Inf(-1), math.Inf(1)
	}
	sort.Float64s(sorted)
	lower = stat.Quantile(q, stat.Empirical, sorted, nil)
	upper = stat.Quantile(1-q, stat.Empirical, sorted, nil)
	return lower, upper
}

// LinearTerms emits one winsorized linear term per numeric predictor.
// Categorical predictors enter the ensemble only through rules and are
// excluded here.
func LinearTerms(x mat.Matrix, names []string, categorical map[int]bool, winsorFraction float64) []BaseLearner {
	rows, cols := x.Dims()
	var out []BaseLearner
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		if categorical[j] {
			continue
		}
		for i := 0; i < rows; i++ {
			col[i] = x.At(i, j)
		}
		lower, upper := WinsorBounds(col, winsorFraction)
		out = append(out, NewLinearTerm(j, lower, upper, names))
	}
	return out
}

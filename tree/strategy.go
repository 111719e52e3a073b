package tree

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Candidate describes the best split a strategy found for one node.
type Candidate struct {
	Feature    int
	Kind       NodeType
	Threshold  float64
	Categories []int // left-going category codes when Kind is CategoricalNode
	Score      float64
}

// SplitStrategy selects a split for a node's rows, or reports that no
// acceptable split exists. Implementations must be deterministic given
// the rng stream.
type SplitStrategy interface {
	Name() string
	BestSplit(x mat.Matrix, target, weights []float64, rows []int,
		categorical map[int]bool, minLeaf int, rng *rand.Rand) (Candidate, bool)
}

// CARTStrategy selects splits by weighted variance reduction, the
// classic impurity criterion for regression trees.
type CARTStrategy struct{}

func (CARTStrategy) Name() string { return "cart" }

func (s CARTStrategy) BestSplit(x mat.Matrix, target, weights []float64, rows []int,
	categorical map[int]bool, minLeaf int, _ *rand.Rand) (Candidate, bool) {

	_, cols := x.Dims()
	best := Candidate{Score: -math.MaxFloat64}
	found := false
	for j := 0; j < cols; j++ {
		var cand Candidate
		var ok bool
		if categorical[j] {
			cand, ok = bestCategoricalSplit(x, target, weights, rows, j, minLeaf)
		} else {
			cand, ok = bestNumericSplit(x, target, weights, rows, j, minLeaf)
		}
		if ok && cand.Score > best.Score {
			best = cand
			found = true
		}
	}
	return best, found
}

// CTreeStrategy approximates unbiased conditional-inference trees:
// the split variable is chosen first, by the smallest Bonferroni-
// adjusted p-value of a standardized linear association statistic, and
// only then is the cutpoint searched on that one variable. Decoupling
// variable selection from cutpoint search removes the selection bias
// toward high-cardinality predictors that impurity criteria exhibit.
type CTreeStrategy struct {
	// Alpha is the significance level a variable must pass before the
	// node is split. Zero means the conventional 0.05.
	Alpha float64
}

func (CTreeStrategy) Name() string { return "ctree" }

func (s CTreeStrategy) BestSplit(x mat.Matrix, target, weights []float64, rows []int,
	categorical map[int]bool, minLeaf int, _ *rand.Rand) (Candidate, bool) {

	alpha := s.Alpha
	if alpha == 0 {
		alpha = 0.05
	}

	_, cols := x.Dims()
	bestVar := -1
	bestP := math.Inf(1)
	for j := 0; j < cols; j++ {
		p := associationPValue(x, target, weights, rows, j, categorical[j])
		if p < bestP {
			bestP = p
			bestVar = j
		}
	}
	if bestVar < 0 {
		return Candidate{}, false
	}

	// Bonferroni adjustment over the candidate variables.
	adjusted := 1 - math.Pow(1-bestP, float64(cols))
	if adjusted > alpha {
		return Candidate{}, false
	}

	if categorical[bestVar] {
		return bestCategoricalSplit(x, target, weights, rows, bestVar, minLeaf)
	}
	return bestNumericSplit(x, target, weights, rows, bestVar, minLeaf)
}

// MOBStrategy selects the split variable by a parameter-instability
// (CUSUM score) test on the node model's residuals, in the spirit of
// model-based recursive partitioning. The node model here is the
// weighted mean; the cutpoint is the point of maximal cumulative score
// shift along the selected variable.
type MOBStrategy struct {
	// Trim excludes the outer fraction of orderings from the sup
	// statistic. Zero means 0.1.
	Trim float64
}

func (MOBStrategy) Name() string { return "mob" }

func (s MOBStrategy) BestSplit(x mat.Matrix, target, weights []float64, rows []int,
	categorical map[int]bool, minLeaf int, _ *rand.Rand) (Candidate, bool) {

	trim := s.Trim
	if trim == 0 {
		trim = 0.1
	}
	n := len(rows)
	if n < 2*minLeaf {
		return Candidate{}, false
	}

	// Score contributions of the node model (weighted mean): the
	// weighted residuals.
	var wsum, mean float64
	for _, r := range rows {
		wsum += weights[r]
		mean += weights[r] * target[r]
	}
	if wsum == 0 {
		return Candidate{}, false
	}
	mean /= wsum

	var ssq float64
	scores := make([]float64, n)
	for i, r := range rows {
		scores[i] = weights[r] * (target[r] - mean)
		ssq += scores[i] * scores[i]
	}
	if ssq == 0 {
		return Candidate{}, false
	}

	_, cols := x.Dims()
	bestVar := -1
	bestStat := 0.0
	for j := 0; j < cols; j++ {
		stat := supCUSUM(x, rows, scores, ssq, j, trim)
		if stat > bestStat {
			bestStat = stat
			bestVar = j
		}
	}
	if bestVar < 0 {
		return Candidate{}, false
	}

	if categorical[bestVar] {
		return bestCategoricalSplit(x, target, weights, rows, bestVar, minLeaf)
	}
	return bestNumericSplit(x, target, weights, rows, bestVar, minLeaf)
}

// supCUSUM computes the sup of the squared standardized cumulative
// score process along the ordering induced by feature j.
func supCUSUM(x mat.Matrix, rows []int, scores []float64, ssq float64, j int, trim float64) float64 {
	n := len(rows)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x.At(rows[order[a]], j) < x.At(rows[order[b]], j)
	})

	lo := int(trim * float64(n))
	hi := n - lo
	if lo < 1 {
		lo = 1
	}

	var cum, sup float64
	for k := 0; k < n-1; k++ {
		cum += scores[order[k]]
		if k+1 < lo || k+1 > hi {
			continue
		}
		t := float64(k+1) / float64(n)
		denom := ssq * t * (1 - t)
		if denom <= 0 {
			continue
		}
		stat := cum * cum / denom
		if stat > sup {
			sup = stat
		}
	}
	return sup
}

// associationPValue tests the linear association between feature j and
// the target under the permutation null: the centered cross-product is
// standardized by its conditional variance and referred to the normal
// distribution. Categorical features are coded by their per-category
// target mean first, which keeps the statistic univariate.
func associationPValue(x mat.Matrix, target, weights []float64, rows []int, j int, isCat bool) float64 {
	n := len(rows)
	if n < 3 {
		return 1
	}

	vals := make([]float64, n)
	if isCat {
		means := categoryMeans(x, target, weights, rows, j)
		for i, r := range rows {
			vals[i] = means[int(x.At(r, j))]
		}
	} else {
		for i, r := range rows {
			vals[i] = x.At(r, j)
		}
	}

	var wsum, xbar, ybar float64
	for i, r := range rows {
		wsum += weights[r]
		xbar += weights[r] * vals[i]
		ybar += weights[r] * target[r]
	}
	if wsum == 0 {
		return 1
	}
	xbar /= wsum
	ybar /= wsum

	var cross, sxx, syy float64
	for i, r := range rows {
		dx := vals[i] - xbar
		dy := target[r] - ybar
		w := weights[r]
		cross += w * dx * dy
		sxx += w * dx * dx
		syy += w * dy * dy
	}
	variance := sxx * syy / float64(n-1)
	if variance <= 0 {
		return 1
	}
	z := cross / math.Sqrt(variance)
	// Two-sided normal p-value.
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}

// bestNumericSplit scans thresholds between consecutive distinct values
// of feature j, maximizing weighted variance reduction subject to the
// minimum-leaf constraint.
func bestNumericSplit(x mat.Matrix, target, weights []float64, rows []int, j, minLeaf int) (Candidate, bool) {
	n := len(rows)
	order := make([]int, n)
	copy(order, rows)
	sort.SliceStable(order, func(a, b int) bool {
		return x.At(order[a], j) < x.At(order[b], j)
	})

	var totW, totWY, totWYY float64
	for _, r := range order {
		w := weights[r]
		totW += w
		totWY += w * target[r]
		totWYY += w * target[r] * target[r]
	}
	if totW == 0 {
		return Candidate{}, false
	}
	totalSS := totWYY - totWY*totWY/totW

	best := Candidate{Feature: j, Kind: NumericalNode, Score: -math.MaxFloat64}
	found := false
	var lw, lwy, lwyy float64
	for k := 0; k < n-1; k++ {
		r := order[k]
		w := weights[r]
		lw += w
		lwy += w * target[r]
		lwyy += w * target[r] * target[r]

		if x.At(r, j) == x.At(order[k+1], j) {
			continue
		}
		if k+1 < minLeaf || n-k-1 < minLeaf {
			continue
		}
		rw := totW - lw
		if lw <= 0 || rw <= 0 {
			continue
		}
		leftSS := lwyy - lwy*lwy/lw
		rwy := totWY - lwy
		rwyy := totWYY - lwyy
		rightSS := rwyy - rwy*rwy/rw
		gain := totalSS - leftSS - rightSS
		if gain > best.Score {
			best.Score = gain
			best.Threshold = (x.At(r, j) + x.At(order[k+1], j)) / 2
			found = true
		}
	}
	return best, found
}

// bestCategoricalSplit orders categories by their target mean and scans
// prefix sets, the standard reduction of the 2^k subset search for a
// single numeric response.
func bestCategoricalSplit(x mat.Matrix, target, weights []float64, rows []int, j, minLeaf int) (Candidate, bool) {
	means := categoryMeans(x, target, weights, rows, j)
	if len(means) < 2 {
		return Candidate{}, false
	}

	cats := make([]int, 0, len(means))
	for c := range means {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(a, b int) bool { return means[cats[a]] < means[cats[b]] })

	var totW, totWY, totWYY float64
	catW := make(map[int]float64, len(cats))
	catWY := make(map[int]float64, len(cats))
	catWYY := make(map[int]float64, len(cats))
	catN := make(map[int]int, len(cats))
	for _, r := range rows {
		c := int(x.At(r, j))
		w := weights[r]
		totW += w
		totWY += w * target[r]
		totWYY += w * target[r] * target[r]
		catW[c] += w
		catWY[c] += w * target[r]
		catWYY[c] += w * target[r] * target[r]
		catN[c]++
	}
	if totW == 0 {
		return Candidate{}, false
	}
	totalSS := totWYY - totWY*totWY/totW

	best := Candidate{Feature: j, Kind: CategoricalNode, Score: -math.MaxFloat64}
	found := false
	var lw, lwy, lwyy float64
	leftN := 0
	for k := 0; k < len(cats)-1; k++ {
		c := cats[k]
		lw += catW[c]
		lwy += catWY[c]
		lwyy += catWYY[c]
		leftN += catN[c]

		if leftN < minLeaf || len(rows)-leftN < minLeaf {
			continue
		}
		rw := totW - lw
		if lw <= 0 || rw <= 0 {
			continue
		}
		leftSS := lwyy - lwy*lwy/lw
		rwy := totWY - lwy
		rwyy := totWYY - lwyy
		rightSS := rwyy - rwy*rwy/rw
		gain := totalSS - leftSS - rightSS
		if gain > best.Score {
			best.Score = gain
			best.Categories = append([]int(nil), cats[:k+1]...)
			sort.Ints(best.Categories)
			found = true
		}
	}
	return best, found
}

func categoryMeans(x mat.Matrix, target, weights []float64, rows []int, j int) map[int]float64 {
	sums := make(map[int]float64)
	ws := make(map[int]float64)
	for _, r := range rows {
		c := int(x.At(r, j))
		sums[c] += weights[r] * target[r]
		ws[c] += weights[r]
	}
	means := make(map[int]float64, len(sums))
	for c, s := range sums {
		if ws[c] > 0 {
			means[c] = s / ws[c]
		}
	}
	return means
}

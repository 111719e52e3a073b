package penalized

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Design is the read-only view of the candidate design matrix the
// solver consumes. ColIter must visit every structurally nonzero entry
// of a column exactly once; the visiting order is unspecified but must
// be deterministic.
type Design interface {
	Dims() (rows, cols int)
	ColIter(j int, fn func(row int, value float64))
}

// subsetDesign restricts a Design to a subset of its rows, re-indexed
// from zero. Used for cross-validation fold training sets.
type subsetDesign struct {
	parent Design
	cols   int
	rows   []int // local -> global
	lookup []int // global -> local, -1 when excluded
}

func newSubsetDesign(parent Design, rows []int) *subsetDesign {
	n, p := parent.Dims()
	lookup := make([]int, n)
	for i := range lookup {
		lookup[i] = -1
	}
	for local, global := range rows {
		lookup[global] = local
	}
	return &subsetDesign{parent: parent, cols: p, rows: rows, lookup: lookup}
}

func (s *subsetDesign) Dims() (int, int) {
	return len(s.rows), s.cols
}

func (s *subsetDesign) ColIter(j int, fn func(row int, value float64)) {
	s.parent.ColIter(j, func(global int, v float64) {
		if local := s.lookup[global]; local >= 0 {
			fn(local, v)
		}
	})
}

// rowSubsetMatrix restricts a response matrix to a subset of rows.
type rowSubsetMatrix struct {
	parent mat.Matrix
	rows   []int
}

func (m *rowSubsetMatrix) Dims() (int, int) {
	_, c := m.parent.Dims()
	return len(m.rows), c
}

func (m *rowSubsetMatrix) At(i, j int) float64 {
	return m.parent.At(m.rows[i], j)
}

func (m *rowSubsetMatrix) T() mat.Matrix {
	return mat.Transpose{Matrix: m}
}

// colStats computes the weighted mean and standard deviation of every
// design column. Weights must sum to one. Constant columns get sd 0
// and are excluded from the fit.
func colStats(d Design, w []float64) (mean, sd []float64) {
	_, p := d.Dims()
	mean = make([]float64, p)
	sd = make([]float64, p)
	for j := 0; j < p; j++ {
		var swx, swxx float64
		d.ColIter(j, func(i int, v float64) {
			swx += w[i] * v
			swxx += w[i] * v * v
		})
		mean[j] = swx
		variance := swxx - swx*swx
		if variance > 0 {
			sd[j] = math.Sqrt(variance)
		}
	}
	return mean, sd
}

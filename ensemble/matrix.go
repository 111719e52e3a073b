package ensemble

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/core/parallel"
	"github.com/prego-ml/prego/rule"
)

// parallelBuildThreshold is the column count below which the feature
// matrix is evaluated sequentially.
const parallelBuildThreshold = 16

// FeatureMatrix is the design matrix over a frozen candidate set:
// rows are observations, columns are base learners in candidate order.
// It is stored densely, or as compressed sparse columns when the
// fraction of nonzero rule indicators is small. Both representations
// are numerically identical to the fitter.
type FeatureMatrix struct {
	rows int
	cols int

	dense  *mat.Dense
	sparse *cscMatrix
}

type cscMatrix struct {
	colPtr []int
	rowIdx []int
	values []float64
}

// Build evaluates every learner against every row of x. The sparse
// representation is chosen when the overall nonzero density falls below
// sparseThreshold; a threshold of 0 forces dense storage.
func Build(learners []rule.BaseLearner, x mat.Matrix, sparseThreshold float64) *FeatureMatrix {
	rows, _ := x.Dims()
	cols := len(learners)
	fm := &FeatureMatrix{rows: rows, cols: cols}
	if cols == 0 {
		return fm
	}

	dense := mat.NewDense(rows, cols, nil)
	rowBuf := make([][]float64, rows)
	_, p := x.Dims()
	for i := 0; i < rows; i++ {
		rowBuf[i] = make([]float64, p)
		for j := 0; j < p; j++ {
			rowBuf[i][j] = x.At(i, j)
		}
	}

	parallel.ParallelizeWithThreshold(cols, parallelBuildThreshold, func(start, end int) {
		for j := start; j < end; j++ {
			learner := learners[j]
			for i := 0; i < rows; i++ {
				dense.Set(i, j, learner.Evaluate(rowBuf[i]))
			}
		}
	})

	nnz := 0
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			if dense.At(i, j) != 0 {
				nnz++
			}
		}
	}
	density := float64(nnz) / float64(rows*cols)

	if sparseThreshold > 0 && density < sparseThreshold {
		fm.sparse = toCSC(dense, rows, cols, nnz)
	} else {
		fm.dense = dense
	}
	return fm
}

func toCSC(dense *mat.Dense, rows, cols, nnz int) *cscMatrix {
	c := &cscMatrix{
		colPtr: make([]int, cols+1),
		rowIdx: make([]int, 0, nnz),
		values: make([]float64, 0, nnz),
	}
	for j := 0; j < cols; j++ {
		c.colPtr[j] = len(c.values)
		for i := 0; i < rows; i++ {
			if v := dense.At(i, j); v != 0 {
				c.rowIdx = append(c.rowIdx, i)
				c.values = append(c.values, v)
			}
		}
	}
	c.colPtr[cols] = len(c.values)
	return c
}

// Dims returns (observations, learners).
func (fm *FeatureMatrix) Dims() (int, int) {
	return fm.rows, fm.cols
}

// IsSparse reports which representation backs the matrix.
func (fm *FeatureMatrix) IsSparse() bool {
	return fm.sparse != nil
}

// At returns one entry. NaN marks a missing evaluation.
func (fm *FeatureMatrix) At(i, j int) float64 {
	if fm.dense != nil {
		return fm.dense.At(i, j)
	}
	for k := fm.sparse.colPtr[j]; k < fm.sparse.colPtr[j+1]; k++ {
		if fm.sparse.rowIdx[k] == i {
			return fm.sparse.values[k]
		}
	}
	return 0
}

// ColIter invokes fn for every structurally nonzero entry of column j.
// Dense storage iterates all entries, skipping exact zeros, so both
// representations expose the same sequence of (row, value) pairs.
func (fm *FeatureMatrix) ColIter(j int, fn func(row int, value float64)) {
	if fm.dense != nil {
		for i := 0; i < fm.rows; i++ {
			if v := fm.dense.At(i, j); v != 0 || math.IsNaN(v) {
				fn(i, v)
			}
		}
		return
	}
	for k := fm.sparse.colPtr[j]; k < fm.sparse.colPtr[j+1]; k++ {
		fn(fm.sparse.rowIdx[k], fm.sparse.values[k])
	}
}

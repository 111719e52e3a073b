package ensemble

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/family"
	"github.com/prego-ml/prego/pkg/errors"
	"github.com/prego-ml/prego/rule"
)

// Ensemble is a fitted prediction rule ensemble: the frozen candidate
// learners, one coefficient per learner per response column, an
// intercept per column, and the metadata needed to reproduce
// predictions without the training data. Learners with a zero
// coefficient were not selected by the penalized fit but remain part of
// the candidate set.
type Ensemble struct {
	FamilyName     string
	Learners       []rule.BaseLearner
	Coef           *mat.Dense // len(Learners) x response columns; nil when there are no learners
	Intercept      []float64  // one per response column; all zero for cox
	FeatureNames   []string
	WinsorFraction float64

	fam *family.Family
}

// New assembles a fitted ensemble. The number of coefficient rows must
// equal the number of learners.
func New(fam *family.Family, learners []rule.BaseLearner, coef *mat.Dense, intercept []float64, featureNames []string, winsorFraction float64) (*Ensemble, error) {
	if coef != nil {
		r, _ := coef.Dims()
		if r != len(learners) {
			return nil, errors.NewDimensionError("ensemble.New", len(learners), r, 0)
		}
	} else if len(learners) != 0 {
		return nil, errors.NewValueError("ensemble.New", "nil coefficients with nonempty learner set")
	}
	return &Ensemble{
		FamilyName:     string(fam.Name),
		Learners:       learners,
		Coef:           coef,
		Intercept:      intercept,
		FeatureNames:   featureNames,
		WinsorFraction: winsorFraction,
		fam:            fam,
	}, nil
}

// Family returns the resolved response family.
func (e *Ensemble) Family() (*family.Family, error) {
	if e.fam == nil {
		fam, err := family.New(e.FamilyName)
		if err != nil {
			return nil, err
		}
		e.fam = fam
	}
	return e.fam, nil
}

// ResponseCols is the number of response columns the ensemble predicts.
func (e *Ensemble) ResponseCols() int {
	return len(e.Intercept)
}

// NonZeroCount returns the number of selected (nonzero) coefficients
// across all response columns.
func (e *Ensemble) NonZeroCount() int {
	if e.Coef == nil {
		return 0
	}
	r, c := e.Coef.Dims()
	count := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if e.Coef.At(i, j) != 0 {
				count++
			}
		}
	}
	return count
}

// LinkPredict evaluates the linear predictor for every row of x.
// Learners with zero coefficients in every column are skipped; the
// numeric result is unchanged by the skip. A missing predictor value
// used by a selected learner makes that row's prediction NaN.
func (e *Ensemble) LinkPredict(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	ncols := e.ResponseCols()
	eta := mat.NewDense(rows, ncols, nil)
	for i := 0; i < rows; i++ {
		for c := 0; c < ncols; c++ {
			eta.Set(i, c, e.Intercept[c])
		}
	}

	active := e.activeLearners()
	rowBuf := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			rowBuf[j] = x.At(i, j)
		}
		for _, j := range active {
			v := e.Learners[j].Evaluate(rowBuf)
			if math.IsNaN(v) {
				for c := 0; c < ncols; c++ {
					eta.Set(i, c, math.NaN())
				}
				break
			}
			for c := 0; c < ncols; c++ {
				if coef := e.Coef.At(j, c); coef != 0 {
					eta.Set(i, c, eta.At(i, c)+coef*v)
				}
			}
		}
	}
	return eta, nil
}

// Predict evaluates the ensemble on new rows and returns predictions on
// the response's natural scale.
func (e *Ensemble) Predict(x mat.Matrix) (*mat.Dense, error) {
	fam, err := e.Family()
	if err != nil {
		return nil, err
	}
	eta, err := e.LinkPredict(x)
	if err != nil {
		return nil, err
	}

	rows, ncols := eta.Dims()
	out := mat.NewDense(rows, ncols, nil)
	etaRow := make([]float64, ncols)
	for i := 0; i < rows; i++ {
		missing := false
		for c := 0; c < ncols; c++ {
			etaRow[c] = eta.At(i, c)
			if math.IsNaN(etaRow[c]) {
				missing = true
			}
		}
		if missing {
			for c := 0; c < ncols; c++ {
				out.Set(i, c, math.NaN())
			}
			continue
		}
		resp := fam.ResponseTransform(etaRow)
		for c := 0; c < ncols; c++ {
			out.Set(i, c, resp[c])
		}
	}
	return out, nil
}

// Contributions returns the per-learner additive contributions in link
// space for response column col: column 0 is the intercept, column j+1
// is coefficient_j * learner_j(row). Rows with missing inputs for a
// selected learner carry NaN in that learner's column.
func (e *Ensemble) Contributions(x mat.Matrix, col int) (*mat.Dense, error) {
	if col < 0 || col >= e.ResponseCols() {
		return nil, errors.NewValueError("Ensemble.Contributions", "response column out of range")
	}
	rows, cols := x.Dims()
	out := mat.NewDense(rows, len(e.Learners)+1, nil)
	rowBuf := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			rowBuf[j] = x.At(i, j)
		}
		out.Set(i, 0, e.Intercept[col])
		for j, learner := range e.Learners {
			coef := e.Coef.At(j, col)
			if coef == 0 {
				continue
			}
			out.Set(i, j+1, coef*learner.Evaluate(rowBuf))
		}
	}
	return out, nil
}

func (e *Ensemble) activeLearners() []int {
	if e.Coef == nil {
		return nil
	}
	r, c := e.Coef.Dims()
	var active []int
	for j := 0; j < r; j++ {
		for k := 0; k < c; k++ {
			if e.Coef.At(j, k) != 0 {
				active = append(active, j)
				break
			}
		}
	}
	return active
}

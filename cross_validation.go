package prego

import (
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/family"
	"github.com/prego-ml/prego/metrics"
	"github.com/prego-ml/prego/pkg/errors"
	"github.com/prego-ml/prego/pkg/log"
)

// CVResult summarizes an outer cross-validation of the full fitting
// procedure.
type CVResult struct {
	// MeanError is the average held-out loss per fold: mean squared
	// error for gaussian responses, log loss for binomial, family
	// deviance per unit weight otherwise. StdError is its standard
	// error across folds.
	MeanError float64
	StdError  float64

	// FoldAssignments maps each row to the fold it was held out in.
	FoldAssignments []int

	// FoldPredictions holds the out-of-fold prediction for every row on
	// the response's natural scale.
	FoldPredictions *mat.Dense
}

// CrossValidate estimates generalization error by refitting the whole
// procedure k times, each time holding out one fold. Every refit uses
// the same options, so the inner penalty selection is repeated per
// fold; the reported error therefore accounts for selection optimism.
func CrossValidate(x, y mat.Matrix, k int, opts ...Option) (*CVResult, error) {
	rows, _ := x.Dims()
	yRows, _ := y.Dims()
	if yRows != rows {
		return nil, errors.NewDimensionError("CrossValidate", rows, yRows, 0)
	}
	if k < 2 || k > rows {
		return nil, errors.NewConfigError("cv.folds", "must be between 2 and the number of rows", k)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	fam, err := family.New(cfg.family)
	if err != nil {
		return nil, err
	}
	ncols := fam.ResponseCols(y)
	logger := log.GetLoggerWithName("prego.cv")

	// Shuffled assignment from a stream disjoint from the fit streams.
	rng := rand.New(rand.NewPCG(cfg.seed, 2))
	perm := rng.Perm(rows)
	folds := make([]int, rows)
	for i, p := range perm {
		folds[p] = i % k
	}

	preds := mat.NewDense(rows, ncols, nil)
	foldErr := make([]float64, k)

	g := new(errgroup.Group)
	for f := 0; f < k; f++ {
		f := f
		g.Go(func() error {
			var trainRows, testRows []int
			for i := 0; i < rows; i++ {
				if folds[i] == f {
					testRows = append(testRows, i)
				} else {
					trainRows = append(trainRows, i)
				}
			}
			if len(testRows) == 0 || len(trainRows) == 0 {
				return errors.NewValueError("CrossValidate", "cross-validation fold is empty")
			}

			est := New(opts...)
			if err := est.Fit(&subsetMatrix{parent: x, rows: trainRows}, &subsetMatrix{parent: y, rows: trainRows}); err != nil {
				return errors.Wrapf(err, "fold %d", f)
			}

			testX := &subsetMatrix{parent: x, rows: testRows}
			testY := &subsetMatrix{parent: y, rows: testRows}
			resp, err := est.Predict(testX)
			if err != nil {
				return errors.Wrapf(err, "fold %d", f)
			}
			eta, err := est.PredictLink(testX)
			if err != nil {
				return errors.Wrapf(err, "fold %d", f)
			}

			for i, global := range testRows {
				for c := 0; c < ncols; c++ {
					preds.Set(global, c, resp.At(i, c))
				}
			}

			loss, err := heldOutLoss(fam, resp, eta, testY)
			if err != nil {
				return errors.Wrapf(err, "fold %d", f)
			}
			foldErr[f] = loss

			logger.Debug("fold finished", log.FoldKey, f, "loss", loss)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sum float64
	for _, e := range foldErr {
		sum += e
	}
	mean := sum / float64(k)
	var ss float64
	for _, e := range foldErr {
		diff := e - mean
		ss += diff * diff
	}
	se := math.Sqrt(ss/float64(k-1)) / math.Sqrt(float64(k))

	logger.Info("cross-validation finished",
		log.OperationKey, "cross_validate",
		"folds", k,
		"mean_error", mean,
		"std_error", se,
	)

	return &CVResult{
		MeanError:       mean,
		StdError:        se,
		FoldAssignments: folds,
		FoldPredictions: preds,
	}, nil
}

// heldOutLoss scores one fold's held-out rows with the family's natural
// reporting metric: mean squared error on the response scale for
// gaussian responses, log loss for binomial, and the deviance at the
// link predictions (per unit weight, so folds of unequal size are
// comparable) for everything else.
func heldOutLoss(fam *family.Family, resp, eta *mat.Dense, y mat.Matrix) (float64, error) {
	n, ncols := resp.Dims()
	column := func(m mat.Matrix, c int) *mat.VecDense {
		v := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			v.SetVec(i, m.At(i, c))
		}
		return v
	}

	switch fam.Name {
	case family.Gaussian, family.MGaussian:
		var total float64
		for c := 0; c < ncols; c++ {
			mse, err := metrics.MSE(column(y, c), column(resp, c))
			if err != nil {
				return 0, err
			}
			total += mse
		}
		return total, nil
	case family.Binomial:
		return metrics.LogLoss(column(y, 0), column(resp, 0))
	default:
		w := make([]float64, n)
		for i := range w {
			w[i] = 1 / float64(n)
		}
		etaCol := make([]float64, n)
		var total float64
		for c := 0; c < ncols; c++ {
			for i := range etaCol {
				etaCol[i] = eta.At(i, c)
			}
			total += fam.Deviance(etaCol, y, c, w)
		}
		return total, nil
	}
}

// subsetMatrix is a read-only row-subset view of a matrix.
type subsetMatrix struct {
	parent mat.Matrix
	rows   []int
}

func (m *subsetMatrix) Dims() (int, int) {
	_, c := m.parent.Dims()
	return len(m.rows), c
}

func (m *subsetMatrix) At(i, j int) float64 {
	return m.parent.At(m.rows[i], j)
}

func (m *subsetMatrix) T() mat.Matrix {
	return mat.Transpose{Matrix: m}
}

package penalized

import (
	"math"
	"math/rand/v2"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/family"
	"github.com/prego-ml/prego/pkg/errors"
	"github.com/prego-ml/prego/pkg/log"
)

// Result holds the selected model of a cross-validated penalized fit
// together with the full path diagnostics.
type Result struct {
	// Coef is the p x ncols coefficient matrix at the selected penalty.
	// Nil when the design has no columns.
	Coef *mat.Dense

	// Intercept has one entry per response column.
	Intercept []float64

	// Lambda is the selected penalty; LambdaMinValue and Lambda1SEValue
	// are the two candidate penalties the selection policy chose from.
	Lambda         float64
	LambdaMinValue float64
	Lambda1SEValue float64

	// Lambdas is the evaluated path, largest first. CVMean and CVSE are
	// the per-penalty cross-validated loss and its standard error.
	Lambdas []float64
	CVMean  []float64
	CVSE    []float64

	// Folds maps each training row to its cross-validation fold.
	Folds []int
}

// Fit runs the cross-validated penalized regression: one shared lambda
// path, k-fold deviance curves, penalty selection, then a final fit on
// all rows at the selected penalty. Weights may be nil for uniform.
func Fit(d Design, y mat.Matrix, fam *family.Family, weights []float64, opts Options) (*Result, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	n, p := d.Dims()
	yRows, _ := y.Dims()
	if yRows != n {
		return nil, errors.NewDimensionError("penalized.Fit", n, yRows, 0)
	}
	if n == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	} else if len(weights) != n {
		return nil, errors.NewDimensionError("penalized.Fit", n, len(weights), 0)
	}
	w := normalize(weights)
	ncols := fam.ResponseCols(y)
	logger := log.GetLoggerWithName("penalized")

	if p == 0 {
		return interceptOnly(y, fam, w, ncols, n)
	}

	// One shared path across response columns, anchored at the largest
	// per-column null gradient.
	var lmax float64
	for c := 0; c < ncols; c++ {
		if lm := lambdaMax(d, y, c, fam, w, opts.Alpha); lm > lmax {
			lmax = lm
		}
	}
	lambdas := lambdaPath(lmax, opts.NLambda, opts.LambdaMinRatio)

	folds := foldAssignments(y, fam, n, opts)

	// Per-fold held-out loss at every penalty, NaN past a fold's
	// converged prefix.
	foldLoss := make([][]float64, opts.NFolds)
	g := new(errgroup.Group)
	for f := 0; f < opts.NFolds; f++ {
		f := f
		g.Go(func() error {
			loss, err := foldCurve(d, y, fam, w, folds, f, lambdas, opts)
			if err != nil {
				return err
			}
			foldLoss[f] = loss
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Final fit on all rows; the usable path is the prefix every fold
	// and the full fit agree on.
	full := make([]pathFit, ncols)
	nOK := len(lambdas)
	for c := 0; c < ncols; c++ {
		full[c] = fitPathColumn(d, y, c, fam, w, lambdas, opts)
		if full[c].nOK < nOK {
			nOK = full[c].nOK
		}
	}
	for f := 0; f < opts.NFolds; f++ {
		for k := 0; k < nOK; k++ {
			if math.IsNaN(foldLoss[f][k]) {
				nOK = k
				break
			}
		}
	}
	if nOK == 0 {
		return nil, errors.NewValueError("penalized.Fit", "no penalty on the path converged")
	}
	if nOK < len(lambdas) {
		errors.Warn(errors.NewSingularDesignWarning(lambdas[len(lambdas)-1], lambdas[nOK-1]))
		logger.Warn("penalty path truncated",
			log.LambdaKey, lambdas[nOK-1],
			"requested", len(lambdas),
			"used", nOK)
	}

	cvMean := make([]float64, nOK)
	cvSE := make([]float64, nOK)
	for k := 0; k < nOK; k++ {
		var sum float64
		for f := 0; f < opts.NFolds; f++ {
			sum += foldLoss[f][k]
		}
		m := sum / float64(opts.NFolds)
		var ss float64
		for f := 0; f < opts.NFolds; f++ {
			diff := foldLoss[f][k] - m
			ss += diff * diff
		}
		cvMean[k] = m
		cvSE[k] = math.Sqrt(ss/float64(opts.NFolds-1)) / math.Sqrt(float64(opts.NFolds))
	}

	kMin := 0
	for k := 1; k < nOK; k++ {
		if cvMean[k] < cvMean[kMin] {
			kMin = k
		}
	}
	// Largest penalty within one standard error of the minimum. The
	// path is decreasing, so that is the smallest index.
	k1se := kMin
	limit := cvMean[kMin] + cvSE[kMin]
	for k := 0; k <= kMin; k++ {
		if cvMean[k] <= limit {
			k1se = k
			break
		}
	}

	selected := kMin
	if opts.Selection == Lambda1SE {
		selected = k1se
	}
	logger.Debug("penalty selected",
		log.LambdaKey, lambdas[selected],
		"selection", string(opts.Selection),
		"lambda_min", lambdas[kMin],
		"lambda_1se", lambdas[k1se])

	coef := mat.NewDense(p, ncols, nil)
	intercept := make([]float64, ncols)
	for c := 0; c < ncols; c++ {
		for j := 0; j < p; j++ {
			coef.Set(j, c, full[c].coefs[selected][j])
		}
		intercept[c] = full[c].icepts[selected]
	}

	return &Result{
		Coef:           coef,
		Intercept:      intercept,
		Lambda:         lambdas[selected],
		LambdaMinValue: lambdas[kMin],
		Lambda1SEValue: lambdas[k1se],
		Lambdas:        lambdas[:nOK],
		CVMean:         cvMean,
		CVSE:           cvSE,
		Folds:          folds,
	}, nil
}

// foldCurve fits the path on all rows outside fold f and scores the
// held-out rows at every penalty. Entries past the converged prefix
// are NaN.
func foldCurve(d Design, y mat.Matrix, fam *family.Family, w []float64, folds []int, f int, lambdas []float64, opts Options) ([]float64, error) {
	n, p := d.Dims()
	var trainRows, valRows []int
	for i := 0; i < n; i++ {
		if folds[i] == f {
			valRows = append(valRows, i)
		} else {
			trainRows = append(trainRows, i)
		}
	}
	if len(valRows) == 0 || len(trainRows) == 0 {
		return nil, errors.NewValueError("penalized.Fit", "cross-validation fold is empty")
	}

	trainD := newSubsetDesign(d, trainRows)
	trainY := &rowSubsetMatrix{parent: y, rows: trainRows}
	trainW := make([]float64, len(trainRows))
	for i, global := range trainRows {
		trainW[i] = w[global]
	}
	trainW = normalize(trainW)

	valD := newSubsetDesign(d, valRows)
	valY := &rowSubsetMatrix{parent: y, rows: valRows}
	valW := make([]float64, len(valRows))
	for i, global := range valRows {
		valW[i] = w[global]
	}
	valW = normalize(valW)

	ncols := fam.ResponseCols(y)
	fits := make([]pathFit, ncols)
	nOK := len(lambdas)
	for c := 0; c < ncols; c++ {
		fits[c] = fitPathColumn(trainD, trainY, c, fam, trainW, lambdas, opts)
		if fits[c].nOK < nOK {
			nOK = fits[c].nOK
		}
	}

	loss := make([]float64, len(lambdas))
	eta := make([]float64, len(valRows))
	for k := range lambdas {
		if k >= nOK {
			loss[k] = math.NaN()
			continue
		}
		var total float64
		for c := 0; c < ncols; c++ {
			for i := range eta {
				eta[i] = fits[c].icepts[k]
			}
			for j := 0; j < p; j++ {
				b := fits[c].coefs[k][j]
				if b == 0 {
					continue
				}
				valD.ColIter(j, func(i int, v float64) {
					eta[i] += b * v
				})
			}
			total += fam.Deviance(eta, valY, c, valW)
		}
		loss[k] = total
	}
	return loss, nil
}

// foldAssignments deterministically assigns rows to folds. Binomial
// and multinomial stratify by class, poisson by outcome quartile and
// cox by event status, so every fold sees each stratum. Gaussian
// responses get a plain shuffled split.
func foldAssignments(y mat.Matrix, fam *family.Family, n int, opts Options) []int {
	rng := rand.New(rand.NewPCG(opts.Seed, 1))
	strata := make([]int, n)

	switch fam.Name {
	case family.Binomial:
		for i := 0; i < n; i++ {
			if y.At(i, 0) >= 0.5 {
				strata[i] = 1
			}
		}
	case family.Multinomial:
		_, c := y.Dims()
		for i := 0; i < n; i++ {
			best := 0
			for j := 1; j < c; j++ {
				if y.At(i, j) > y.At(i, best) {
					best = j
				}
			}
			strata[i] = best
		}
	case family.Poisson:
		strata = quartileStrata(y, n)
	case family.Cox:
		for i := 0; i < n; i++ {
			if y.At(i, 1) != 0 {
				strata[i] = 1
			}
		}
	}

	byStratum := map[int][]int{}
	var labels []int
	for i, s := range strata {
		if _, ok := byStratum[s]; !ok {
			labels = append(labels, s)
		}
		byStratum[s] = append(byStratum[s], i)
	}
	sort.Ints(labels)

	folds := make([]int, n)
	next := 0
	for _, s := range labels {
		rows := byStratum[s]
		rng.Shuffle(len(rows), func(a, b int) {
			rows[a], rows[b] = rows[b], rows[a]
		})
		for _, i := range rows {
			folds[i] = next % opts.NFolds
			next++
		}
	}
	return folds
}

func quartileStrata(y mat.Matrix, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return y.At(order[a], 0) < y.At(order[b], 0)
	})
	strata := make([]int, n)
	for rank, i := range order {
		strata[i] = rank * 4 / n
	}
	return strata
}

func interceptOnly(y mat.Matrix, fam *family.Family, w []float64, ncols, n int) (*Result, error) {
	intercept := make([]float64, ncols)
	for c := 0; c < ncols; c++ {
		if fam.HasIntercept {
			intercept[c] = fam.InitScore(y, c, w)
		}
	}
	return &Result{
		Intercept: intercept,
		Folds:     make([]int, n),
	}, nil
}

func normalize(w []float64) []float64 {
	sum := floats.Sum(w)
	out := make([]float64, len(w))
	if sum <= 0 {
		for i := range out {
			out[i] = 1 / float64(len(w))
		}
		return out
	}
	for i, v := range w {
		out[i] = v / sum
	}
	return out
}

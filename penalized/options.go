// Package penalized fits cross-validated, sparsity-inducing linear
// models over a frozen candidate design matrix. The solver follows the
// glmnet recipe: a decreasing lambda path, coordinate descent on a
// weighted least-squares problem, an IRLS outer loop for non-gaussian
// families, and k-fold cross-validation to pick the penalty.
package penalized

import (
	"github.com/prego-ml/prego/pkg/errors"
)

// Selection names the penalty-selection policy applied after
// cross-validation.
type Selection string

const (
	// LambdaMin selects the penalty minimizing cross-validated loss.
	LambdaMin Selection = "lambda.min"
	// Lambda1SE selects the largest penalty whose cross-validated loss
	// is within one standard error of the minimum.
	Lambda1SE Selection = "lambda.1se"
)

// Options configures a penalized fit.
type Options struct {
	// Alpha is the elastic-net mixing parameter: 1 is the lasso,
	// 0 is ridge. Zero value defaults to 1.
	Alpha float64

	// NLambda is the number of penalties on the path (default 100).
	NLambda int

	// LambdaMinRatio is the ratio of the smallest to the largest
	// penalty on the path (default 1e-3).
	LambdaMinRatio float64

	// NFolds is the number of cross-validation folds (default 10).
	NFolds int

	// Seed drives the deterministic fold assignment.
	Seed uint64

	// Selection is the penalty-selection policy. It deterministically
	// affects which coefficients are returned.
	Selection Selection

	// MaxIter caps coordinate-descent sweeps per penalty (default 1000).
	MaxIter int

	// Tol is the coordinate-descent convergence tolerance (default 1e-7).
	Tol float64
}

// withDefaults fills zero values and validates the configuration.
func (o Options) withDefaults() (Options, error) {
	if o.Alpha == 0 {
		o.Alpha = 1
	}
	if o.Alpha < 0 || o.Alpha > 1 {
		return o, errors.NewConfigError("penalized.alpha", "must be in [0, 1]", o.Alpha)
	}
	if o.NLambda == 0 {
		o.NLambda = 100
	}
	if o.NLambda < 2 {
		return o, errors.NewConfigError("penalized.nlambda", "must be at least 2", o.NLambda)
	}
	if o.LambdaMinRatio == 0 {
		o.LambdaMinRatio = 1e-3
	}
	if o.LambdaMinRatio <= 0 || o.LambdaMinRatio >= 1 {
		return o, errors.NewConfigError("penalized.lambda_min_ratio", "must be in (0, 1)", o.LambdaMinRatio)
	}
	if o.NFolds == 0 {
		o.NFolds = 10
	}
	if o.NFolds < 2 {
		return o, errors.NewConfigError("penalized.nfolds", "must be at least 2", o.NFolds)
	}
	if o.Selection == "" {
		o.Selection = Lambda1SE
	}
	if o.Selection != LambdaMin && o.Selection != Lambda1SE {
		return o, errors.NewConfigError("penalized.selection", `must be "lambda.min" or "lambda.1se"`, string(o.Selection))
	}
	if o.MaxIter == 0 {
		o.MaxIter = 1000
	}
	if o.Tol == 0 {
		o.Tol = 1e-7
	}
	return o, nil
}

// Package model defines the estimator interfaces shared by the fitting
// and prediction entry points.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Estimator is the interface for models that learn from data.
type Estimator interface {
	// Fit trains the model on X (rows are observations) and y.
	Fit(X, y mat.Matrix) error

	// IsFitted reports whether Fit has completed successfully.
	IsFitted() bool
}

// Predictor is the interface for fitted models that score new rows.
type Predictor interface {
	// Predict returns predictions on the response's natural scale, one
	// row per observation.
	Predict(X mat.Matrix) (*mat.Dense, error)
}

// Persistable is the interface for fitted models whose state can be
// written to a file and restored later, without access to the original
// training data. Restoring is a package-level function of the
// implementing package.
type Persistable interface {
	// Save writes the model to a file.
	Save(path string) error
}

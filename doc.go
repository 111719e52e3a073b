// Package prego fits prediction rule ensembles: sparse, interpretable
// models that combine decision rules harvested from randomized trees
// with winsorized linear terms, weighted by a cross-validated penalized
// regression.
//
// A fit runs in three phases. Candidate generation grows one shallow
// tree per iteration on a fresh random sample of the working response
// and converts every tree path into a rule; winsorized linear terms are
// added for the numeric predictors. The candidates are then frozen into
// a design matrix, and a k-fold cross-validated lasso picks a sparse
// coefficient vector over it. The result is an additive model whose
// terms are human-readable conditions.
//
// Basic usage:
//
//	est := prego.New(
//		prego.WithFamily("binomial"),
//		prego.WithNTrees(200),
//		prego.WithSeed(42),
//	)
//	if err := est.Fit(x, y); err != nil {
//		// handle
//	}
//	probs, err := est.Predict(newX)
//
// Models are deterministic for a fixed seed, data and configuration,
// and round-trip through Save and Load without the training data.
package prego

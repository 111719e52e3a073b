// Package ensemble drives the candidate-generation loop and holds the
// fitted rule ensemble. Trees are grown on resampled working responses,
// their paths are harvested as rules, and the trees themselves are
// discarded; only the accumulated base learners survive into the
// penalized fit.
package ensemble

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/family"
	"github.com/prego-ml/prego/pkg/errors"
	"github.com/prego-ml/prego/pkg/log"
	"github.com/prego-ml/prego/rule"
	"github.com/prego-ml/prego/sample"
	"github.com/prego-ml/prego/tree"
)

// Config holds the candidate-generation parameters.
type Config struct {
	// NTrees is the number of tree-growing iterations. Zero is valid
	// and yields a candidate set without rules.
	NTrees int

	// LearnRate is the boosting shrinkage applied to each tree's
	// contribution to the working response, in link space. Zero
	// disables boosting: every tree sees the initial working response
	// (pure bagging).
	LearnRate float64

	// Complements also emits the logical complement of every rule.
	Complements bool

	// LinearTerms adds one winsorized linear term per numeric
	// predictor.
	LinearTerms bool

	// WinsorFraction is the quantile pair (q, 1-q) used for the linear
	// term winsorizing bounds.
	WinsorFraction float64
}

// Accumulator runs the iteration state machine: sample, grow, extract,
// update the working response, repeat.
type Accumulator struct {
	Family   *family.Family
	Inductor *tree.Inductor
	Sampler  *sample.Sampler
	Depth    tree.DepthPolicy
	Config   Config

	logger log.Logger
}

// NewAccumulator wires the collaborators of the generation loop.
func NewAccumulator(fam *family.Family, ind *tree.Inductor, smp *sample.Sampler, depth tree.DepthPolicy, cfg Config) *Accumulator {
	return &Accumulator{
		Family:   fam,
		Inductor: ind,
		Sampler:  smp,
		Depth:    depth,
		Config:   cfg,
		logger:   log.GetLoggerWithName("ensemble.accumulator"),
	}
}

// Run generates the frozen candidate set for x and y. Weights must have
// one entry per row. The returned learners are ordered
// deterministically: linear terms first, then rules in discovery order,
// deduplicated by description string.
func (a *Accumulator) Run(x mat.Matrix, y mat.Matrix, weights []float64, names []string) ([]rule.BaseLearner, error) {
	rows, _ := x.Dims()
	yRows, _ := y.Dims()
	if yRows != rows {
		return nil, errors.NewDimensionError("Accumulator.Run", rows, yRows, 0)
	}

	var learners []rule.BaseLearner
	seen := make(map[string]bool)

	if a.Config.LinearTerms {
		for _, lt := range rule.LinearTerms(x, names, a.Inductor.Categorical, a.Config.WinsorFraction) {
			if !seen[lt.Description()] {
				seen[lt.Description()] = true
				learners = append(learners, lt)
			}
		}
	}

	ncols := a.Family.ResponseCols(y)

	// Row views of x for tree prediction during the boosting update.
	rowData := make([][]float64, rows)
	_, cols := x.Dims()
	for i := 0; i < rows; i++ {
		rowData[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			rowData[i][j] = x.At(i, j)
		}
	}

	// Per-column boosting state: the linear predictor in link space.
	eta := make([][]float64, ncols)
	working := make([][]float64, ncols)
	for c := 0; c < ncols; c++ {
		eta[c] = make([]float64, rows)
		working[c] = make([]float64, rows)
		init := a.Family.InitScore(y, c, weights)
		for i := range eta[c] {
			eta[c][i] = init
		}
	}

	for it := 0; it < a.Config.NTrees; it++ {
		for c := 0; c < ncols; c++ {
			a.Family.WorkingResiduals(eta[c], y, c, weights, working[c])

			iteration := it*ncols + c
			rowsSample := a.Sampler.Draw(rows, iteration)

			if constant(working[c], rowsSample) {
				// Nothing left to fit this round.
				errors.Warn(errors.NewDegenerateSampleWarning(it, c))
				a.logger.Debug("degenerate sample, skipping iteration",
					log.IterationKey, it,
					"response_column", c,
				)
				continue
			}

			// Depth and split randomness come from a stream disjoint
			// from the sampling stream.
			rng := a.Sampler.Rand(1<<31 + uint64(iteration))
			depth := a.Depth(it, rng)
			t := a.Inductor.Grow(x, working[c], weights, rowsSample, depth, rng)
			if t.IsStump() {
				continue
			}

			for _, r := range rule.Extract(t, names, a.Config.Complements) {
				if !seen[r.Description()] {
					seen[r.Description()] = true
					learners = append(learners, r)
				}
			}

			if a.Config.LearnRate > 0 {
				for i := 0; i < rows; i++ {
					eta[c][i] += a.Config.LearnRate * t.Predict(rowData[i])
				}
			}
		}

		if a.logger.Enabled(context.Background(), log.LevelDebug) && it%10 == 0 {
			a.logger.Debug("candidate generation progress",
				log.IterationKey, it,
				log.LearnersKey, len(learners),
			)
		}
	}

	a.logger.Info("candidate generation finished",
		log.FamilyKey, string(a.Family.Name),
		log.SamplesKey, rows,
		log.LearnersKey, len(learners),
	)
	return learners, nil
}

func constant(v []float64, rows []int) bool {
	if len(rows) == 0 {
		return true
	}
	first := v[rows[0]]
	for _, r := range rows[1:] {
		if v[r] != first {
			return false
		}
	}
	return true
}

package prego

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/penalized"
	"github.com/prego-ml/prego/rule"
)

// regressionData builds a target driven by a step in x0 and a linear
// effect of x1, with two noise columns.
func regressionData(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 1))
	x := mat.NewDense(n, 4, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 4; j++ {
			x.Set(i, j, rng.Float64()*10)
		}
		target := 0.5*x.At(i, 1) + 0.3*rng.NormFloat64()
		if x.At(i, 0) > 5 {
			target += 5
		}
		y.Set(i, 0, target)
	}
	return x, y
}

func classificationData(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 1))
	x := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
		p := 1 / (1 + math.Exp(-3*x.At(i, 0)))
		if rng.Float64() < p {
			y.Set(i, 0, 1)
		}
	}
	return x, y
}

func quickOptions(extra ...Option) []Option {
	base := []Option{
		WithNTrees(30),
		WithMaxDepth(2),
		WithFolds(5),
		WithSeed(42),
	}
	return append(base, extra...)
}

func TestFitPredictGaussian(t *testing.T) {
	x, y := regressionData(150, 1)
	est := New(quickOptions()...)
	require.False(t, est.IsFitted())

	require.NoError(t, est.Fit(x, y))
	require.True(t, est.IsFitted())

	pred, err := est.Predict(x)
	require.NoError(t, err)
	rows, cols := pred.Dims()
	require.Equal(t, 150, rows)
	require.Equal(t, 1, cols)

	// In-sample fit must clearly beat the mean-only model.
	var meanY, ssRes, ssTot float64
	for i := 0; i < 150; i++ {
		meanY += y.At(i, 0)
	}
	meanY /= 150
	for i := 0; i < 150; i++ {
		ssRes += (y.At(i, 0) - pred.At(i, 0)) * (y.At(i, 0) - pred.At(i, 0))
		ssTot += (y.At(i, 0) - meanY) * (y.At(i, 0) - meanY)
	}
	assert.Less(t, ssRes, ssTot/2, "fit explains less than half the variance")
}

func TestFitIsDeterministicForFixedSeed(t *testing.T) {
	x, y := regressionData(120, 2)

	a := New(quickOptions()...)
	b := New(quickOptions()...)
	require.NoError(t, a.Fit(x, y))
	require.NoError(t, b.Fit(x, y))

	pa, err := a.Predict(x)
	require.NoError(t, err)
	pb, err := b.Predict(x)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pa, pb), "identical seeds produced different predictions")

	ra, err := a.Rules(0)
	require.NoError(t, err)
	rb, err := b.Rules(0)
	require.NoError(t, err)
	require.Equal(t, len(ra), len(rb))
	for i := range ra {
		assert.Equal(t, ra[i], rb[i], "selected rule %d", i)
	}
}

func TestFitBinomialPredictsProbabilities(t *testing.T) {
	x, y := classificationData(150, 3)
	est := New(quickOptions(WithFamily("binomial"))...)
	require.NoError(t, est.Fit(x, y))

	pred, err := est.Predict(x)
	require.NoError(t, err)
	correct := 0
	for i := 0; i < 150; i++ {
		p := pred.At(i, 0)
		require.GreaterOrEqual(t, p, 0.0, "row %d", i)
		require.LessOrEqual(t, p, 1.0, "row %d", i)
		if (p >= 0.5) == (y.At(i, 0) >= 0.5) {
			correct++
		}
	}
	assert.Greater(t, correct, 105, "accuracy below 70%% on separable data")
}

func TestInterceptOnlyModel(t *testing.T) {
	x, y := regressionData(80, 4)
	est := New(
		WithNTrees(0),
		WithLinearTerms(false),
		WithSeed(1),
		WithFolds(5),
	)
	require.NoError(t, est.Fit(x, y))

	pred, err := est.Predict(x)
	require.NoError(t, err)

	var meanY float64
	for i := 0; i < 80; i++ {
		meanY += y.At(i, 0)
	}
	meanY /= 80
	for i := 0; i < 80; i++ {
		assert.InDelta(t, meanY, pred.At(i, 0), 1e-9, "row %d", i)
	}

	m, err := est.Model()
	require.NoError(t, err)
	assert.Empty(t, m.Learners)
	assert.Equal(t, 0, m.NonZeroCount())
}

func TestPredictBeforeFitFails(t *testing.T) {
	est := New()
	x := mat.NewDense(1, 2, []float64{1, 2})

	_, err := est.Predict(x)
	assert.Error(t, err)
	_, err = est.PredictContributions(x, 0)
	assert.Error(t, err)
	_, err = est.Rules(0)
	assert.Error(t, err)
	assert.Error(t, est.Save("unused.json"))
}

func TestFitValidatesConfiguration(t *testing.T) {
	x, y := regressionData(60, 5)

	tests := []struct {
		name string
		opts []Option
	}{
		{"unknown family", []Option{WithFamily("tweedie")}},
		{"unknown strategy", []Option{WithTreeStrategy("chaid")}},
		{"bad sample fraction", []Option{WithSampleFraction(0)}},
		{"bad alpha", []Option{WithAlpha(2)}},
		{"name length mismatch", []Option{WithFeatureNames([]string{"only-one"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := New(tt.opts...)
			err := est.Fit(x, y)
			assert.Error(t, err)
			assert.False(t, est.IsFitted())
		})
	}
}

func TestFitDimensionMismatch(t *testing.T) {
	x, _ := regressionData(60, 6)
	y := mat.NewDense(30, 1, nil)
	assert.Error(t, New(quickOptions()...).Fit(x, y))
}

func TestTreeStrategies(t *testing.T) {
	x, y := regressionData(120, 7)
	for _, name := range []string{StrategyCTree, StrategyCART, StrategyMOB} {
		t.Run(name, func(t *testing.T) {
			est := New(quickOptions(WithTreeStrategy(name))...)
			require.NoError(t, est.Fit(x, y))
			pred, err := est.Predict(x)
			require.NoError(t, err)
			r, _ := pred.Dims()
			assert.Equal(t, 120, r)
		})
	}
}

func TestPredictContributionsDecomposeLink(t *testing.T) {
	x, y := regressionData(120, 8)
	est := New(quickOptions()...)
	require.NoError(t, est.Fit(x, y))

	eta, err := est.PredictLink(x)
	require.NoError(t, err)
	contrib, err := est.PredictContributions(x, 0)
	require.NoError(t, err)

	_, cols := contrib.Dims()
	for i := 0; i < 120; i++ {
		var sum float64
		for j := 0; j < cols; j++ {
			sum += contrib.At(i, j)
		}
		assert.InDelta(t, eta.At(i, 0), sum, 1e-9, "row %d", i)
	}
}

func TestMissingValuePropagation(t *testing.T) {
	x, y := regressionData(120, 9)
	est := New(quickOptions()...)
	require.NoError(t, est.Fit(x, y))

	test := mat.NewDense(2, 4, nil)
	for j := 0; j < 4; j++ {
		test.Set(0, j, x.At(0, j))
		test.Set(1, j, x.At(1, j))
	}
	test.Set(0, 0, math.NaN())

	pred, err := est.Predict(test)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(pred.At(0, 0)), "missing selected predictor must yield NaN")
	assert.False(t, math.IsNaN(pred.At(1, 0)), "complete row must predict normally")
}

func TestSaveLoadPredictsIdentically(t *testing.T) {
	x, y := regressionData(120, 10)
	est := New(quickOptions(WithFeatureNames([]string{"a", "b", "c", "d"}))...)
	require.NoError(t, est.Fit(x, y))

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, est.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.IsFitted())

	want, err := est.Predict(x)
	require.NoError(t, err)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got), "loaded model predicts differently")
}

func TestRulesAreSortedByMagnitude(t *testing.T) {
	x, y := regressionData(150, 11)
	est := New(quickOptions(WithPenaltySelection(penalized.LambdaMin))...)
	require.NoError(t, est.Fit(x, y))

	rules, err := est.Rules(0)
	require.NoError(t, err)
	require.NotEmpty(t, rules, "lambda.min on strong signal selected nothing")

	for i := 1; i < len(rules); i++ {
		assert.GreaterOrEqual(t,
			math.Abs(rules[i-1].Coefficient), math.Abs(rules[i].Coefficient),
			"rules not sorted at %d", i)
	}
	for _, rw := range rules {
		assert.NotZero(t, rw.Coefficient)
		assert.NotEmpty(t, rw.Description)
	}
}

func TestPenaltySelectionAffectsSparsity(t *testing.T) {
	x, y := regressionData(150, 12)

	minEst := New(quickOptions(WithPenaltySelection(penalized.LambdaMin))...)
	require.NoError(t, minEst.Fit(x, y))
	oneSEEst := New(quickOptions(WithPenaltySelection(penalized.Lambda1SE))...)
	require.NoError(t, oneSEEst.Fit(x, y))

	minModel, err := minEst.Model()
	require.NoError(t, err)
	oneSEModel, err := oneSEEst.Model()
	require.NoError(t, err)

	assert.LessOrEqual(t, oneSEModel.NonZeroCount(), minModel.NonZeroCount(),
		"the one-standard-error rule must not select more terms than lambda.min")
}

func TestCategoricalFeaturesEnterThroughRules(t *testing.T) {
	n := 150
	rng := rand.New(rand.NewPCG(13, 1))
	x := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		c := float64(i % 3)
		x.Set(i, 0, c)
		x.Set(i, 1, rng.NormFloat64())
		target := 0.2 * x.At(i, 1)
		if c == 1 {
			target += 4
		}
		y.Set(i, 0, target+0.1*rng.NormFloat64())
	}

	est := New(quickOptions(
		WithCategoricalFeatures([]int{0}),
		WithFeatureNames([]string{"group", "z"}),
		WithPenaltySelection(penalized.LambdaMin),
	)...)
	require.NoError(t, est.Fit(x, y))

	m, err := est.Model()
	require.NoError(t, err)
	for _, l := range m.Learners {
		if l.Kind() == rule.KindLinear {
			assert.NotContains(t, l.Description(), "group",
				"categorical feature must not get a linear term")
		}
	}
}

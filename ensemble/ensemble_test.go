package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/family"
	"github.com/prego-ml/prego/rule"
)

func fittedEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	fam, err := family.New("gaussian")
	require.NoError(t, err)

	learners := []rule.BaseLearner{
		rule.NewRule([]rule.Split{{Feature: 0, Op: rule.OpLE, Threshold: 2}}, false, nil),
		rule.NewRule([]rule.Split{{Feature: 0, Op: rule.OpLE, Threshold: 2}}, true, nil),
		rule.NewLinearTerm(1, -10, 10, nil),
	}
	coef := mat.NewDense(3, 1, []float64{1.5, 0, -0.5})
	e, err := New(fam, learners, coef, []float64{2}, nil, 0.025)
	require.NoError(t, err)
	return e
}

func TestNewValidatesDimensions(t *testing.T) {
	fam, err := family.New("gaussian")
	require.NoError(t, err)

	learners := []rule.BaseLearner{rule.NewLinearTerm(0, -1, 1, nil)}

	_, err = New(fam, learners, mat.NewDense(2, 1, nil), []float64{0}, nil, 0.025)
	assert.Error(t, err, "coefficient rows must match learner count")

	_, err = New(fam, learners, nil, []float64{0}, nil, 0.025)
	assert.Error(t, err, "nil coefficients with learners present")

	_, err = New(fam, nil, nil, []float64{0}, nil, 0.025)
	assert.NoError(t, err, "intercept-only model")
}

func TestLinkPredict(t *testing.T) {
	e := fittedEnsemble(t)
	x := mat.NewDense(2, 2, []float64{
		1, 4, // rule fires: 2 + 1.5 - 0.5*4 = 1.5
		5, 2, // rule silent: 2 - 0.5*2 = 1
	})
	eta, err := e.LinkPredict(x)
	require.NoError(t, err)

	assert.InDelta(t, 1.5, eta.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, eta.At(1, 0), 1e-12)
}

func TestPredictAppliesResponseTransform(t *testing.T) {
	fam, err := family.New("binomial")
	require.NoError(t, err)

	learners := []rule.BaseLearner{
		rule.NewRule([]rule.Split{{Feature: 0, Op: rule.OpGT, Threshold: 0}}, false, nil),
	}
	coef := mat.NewDense(1, 1, []float64{2})
	e, err := New(fam, learners, coef, []float64{-1}, nil, 0.025)
	require.NoError(t, err)

	x := mat.NewDense(2, 1, []float64{1, -1})
	out, err := e.Predict(x)
	require.NoError(t, err)

	// eta = 1 and -1 respectively, mapped through the logistic.
	assert.InDelta(t, 1/(1+math.Exp(-1)), out.At(0, 0), 1e-12)
	assert.InDelta(t, 1/(1+math.Exp(1)), out.At(1, 0), 1e-12)
}

func TestPredictMissingValuePropagatesNaN(t *testing.T) {
	e := fittedEnsemble(t)
	x := mat.NewDense(2, 2, []float64{
		math.NaN(), 4,
		5, 2,
	})
	out, err := e.Predict(x)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(out.At(0, 0)), "row with missing predictor must predict NaN")
	assert.False(t, math.IsNaN(out.At(1, 0)), "complete row must predict normally")
}

func TestMissingValueInUnselectedLearnerIsIgnored(t *testing.T) {
	fam, err := family.New("gaussian")
	require.NoError(t, err)
	learners := []rule.BaseLearner{
		rule.NewLinearTerm(0, -10, 10, nil),
		rule.NewLinearTerm(1, -10, 10, nil), // zero coefficient
	}
	coef := mat.NewDense(2, 1, []float64{1, 0})
	e, err := New(fam, learners, coef, []float64{0}, nil, 0.025)
	require.NoError(t, err)

	x := mat.NewDense(1, 2, []float64{3, math.NaN()})
	out, err := e.Predict(x)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, out.At(0, 0), 1e-12,
		"missing value in an unselected learner must not poison the row")
}

func TestNonZeroCount(t *testing.T) {
	e := fittedEnsemble(t)
	assert.Equal(t, 2, e.NonZeroCount())
}

func TestContributionsSumToLinkPredict(t *testing.T) {
	e := fittedEnsemble(t)
	x := mat.NewDense(3, 2, []float64{
		1, 4,
		5, 2,
		2, -20,
	})

	eta, err := e.LinkPredict(x)
	require.NoError(t, err)
	contrib, err := e.Contributions(x, 0)
	require.NoError(t, err)

	rows, cols := contrib.Dims()
	require.Equal(t, 3, rows)
	require.Equal(t, len(e.Learners)+1, cols)

	for i := 0; i < rows; i++ {
		var sum float64
		for j := 0; j < cols; j++ {
			sum += contrib.At(i, j)
		}
		assert.InDelta(t, eta.At(i, 0), sum, 1e-12, "row %d", i)
	}
}

func TestContributionsColumnOutOfRange(t *testing.T) {
	e := fittedEnsemble(t)
	x := mat.NewDense(1, 2, []float64{1, 1})
	_, err := e.Contributions(x, 1)
	assert.Error(t, err)
}

package penalized

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/family"
)

func TestFitGaussianSelectsSignal(t *testing.T) {
	dsg, y := regressionProblem(300, 21)
	fam, err := family.New("gaussian")
	require.NoError(t, err)

	res, err := Fit(dsg, y, fam, nil, Options{Seed: 1, NFolds: 5, Selection: LambdaMin})
	require.NoError(t, err)
	require.NotNil(t, res.Coef)

	assert.NotZero(t, res.Coef.At(0, 0), "strong predictor not selected")
	assert.NotZero(t, res.Coef.At(1, 0), "strong predictor not selected")
	assert.InDelta(t, 3, res.Coef.At(0, 0), 0.3)
	assert.InDelta(t, -2, res.Coef.At(1, 0), 0.3)
	assert.InDelta(t, 1, res.Intercept[0], 0.3)
}

func TestFitIsDeterministic(t *testing.T) {
	dsg, y := regressionProblem(150, 23)
	fam, err := family.New("gaussian")
	require.NoError(t, err)
	opts := Options{Seed: 42, NFolds: 5}

	a, err := Fit(dsg, y, fam, nil, opts)
	require.NoError(t, err)
	b, err := Fit(dsg, y, fam, nil, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Lambda, b.Lambda)
	assert.Equal(t, a.Folds, b.Folds)
	assert.True(t, mat.Equal(a.Coef, b.Coef), "coefficients differ between identical fits")
}

func nonzeros(coef *mat.Dense) int {
	if coef == nil {
		return 0
	}
	r, c := coef.Dims()
	count := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if coef.At(i, j) != 0 {
				count++
			}
		}
	}
	return count
}

func TestSelectionPolicyIsHonored(t *testing.T) {
	dsg, y := regressionProblem(200, 29)
	fam, err := family.New("gaussian")
	require.NoError(t, err)

	minRes, err := Fit(dsg, y, fam, nil, Options{Seed: 5, NFolds: 5, Selection: LambdaMin})
	require.NoError(t, err)
	oneSE, err := Fit(dsg, y, fam, nil, Options{Seed: 5, NFolds: 5, Selection: Lambda1SE})
	require.NoError(t, err)

	assert.Equal(t, minRes.LambdaMinValue, oneSE.LambdaMinValue)
	assert.Equal(t, minRes.Lambda, minRes.LambdaMinValue)
	assert.Equal(t, oneSE.Lambda, oneSE.Lambda1SEValue)

	// The one-standard-error rule picks an equal or stronger penalty, so
	// it never selects more coefficients.
	assert.GreaterOrEqual(t, oneSE.Lambda, minRes.Lambda)
	assert.LessOrEqual(t, nonzeros(oneSE.Coef), nonzeros(minRes.Coef))
}

func TestFitCVCurveShape(t *testing.T) {
	dsg, y := regressionProblem(200, 31)
	fam, err := family.New("gaussian")
	require.NoError(t, err)

	res, err := Fit(dsg, y, fam, nil, Options{Seed: 2, NFolds: 5})
	require.NoError(t, err)

	require.Equal(t, len(res.Lambdas), len(res.CVMean))
	require.Equal(t, len(res.Lambdas), len(res.CVSE))
	for k, se := range res.CVSE {
		assert.GreaterOrEqual(t, se, 0.0, "negative standard error at %d", k)
		assert.False(t, math.IsNaN(res.CVMean[k]), "NaN loss at %d", k)
	}

	// The penalty-free end must fit far better than the null end on a
	// strong linear signal.
	assert.Less(t, res.CVMean[len(res.CVMean)-1], res.CVMean[0]/2)
}

// emptyDesign is a zero-column candidate set; gonum's Dense cannot
// represent one.
type emptyDesign struct{ rows int }

func (d emptyDesign) Dims() (int, int) { return d.rows, 0 }

func (d emptyDesign) ColIter(int, func(int, float64)) {}

func TestFitInterceptOnly(t *testing.T) {
	y := mat.NewDense(20, 1, nil)
	for i := 0; i < 20; i++ {
		y.Set(i, 0, 5)
	}
	fam, err := family.New("gaussian")
	require.NoError(t, err)

	res, err := Fit(emptyDesign{rows: 20}, y, fam, nil, Options{Seed: 1})
	require.NoError(t, err)

	assert.Nil(t, res.Coef)
	require.Len(t, res.Intercept, 1)
	assert.InDelta(t, 5, res.Intercept[0], 1e-9)
}

func TestFitValidatesInput(t *testing.T) {
	dsg, _ := regressionProblem(50, 1)
	fam, err := family.New("gaussian")
	require.NoError(t, err)

	_, err = Fit(dsg, mat.NewDense(10, 1, nil), fam, nil, Options{})
	assert.Error(t, err, "row mismatch between design and response")

	_, err = Fit(dsg, mat.NewDense(50, 1, nil), fam, make([]float64, 3), Options{})
	assert.Error(t, err, "weight length mismatch")

	_, err = Fit(dsg, mat.NewDense(50, 1, nil), fam, nil, Options{Alpha: 2})
	assert.Error(t, err, "alpha out of range")
}

func TestFoldAssignmentsAreStratifiedForBinomial(t *testing.T) {
	n := 100
	y := mat.NewDense(n, 1, nil)
	// Rare positive class: 10 of 100.
	for i := 0; i < 10; i++ {
		y.Set(i, 0, 1)
	}
	fam, err := family.New("binomial")
	require.NoError(t, err)

	folds := foldAssignments(y, fam, n, Options{Seed: 3, NFolds: 5})
	require.Len(t, folds, n)

	posPerFold := make(map[int]int)
	sizePerFold := make(map[int]int)
	for i, f := range folds {
		require.GreaterOrEqual(t, f, 0)
		require.Less(t, f, 5)
		sizePerFold[f]++
		if y.At(i, 0) == 1 {
			posPerFold[f]++
		}
	}
	for f := 0; f < 5; f++ {
		assert.Equal(t, 20, sizePerFold[f], "fold %d size", f)
		assert.Equal(t, 2, posPerFold[f], "fold %d positives", f)
	}
}

func TestFoldAssignmentsStratifyCoxByStatus(t *testing.T) {
	n := 40
	y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		y.Set(i, 0, float64(i+1))
		if i < 8 {
			y.Set(i, 1, 1) // events
		}
	}
	fam, err := family.New("cox")
	require.NoError(t, err)

	folds := foldAssignments(y, fam, n, Options{Seed: 4, NFolds: 4})
	events := make(map[int]int)
	for i, f := range folds {
		if y.At(i, 1) == 1 {
			events[f]++
		}
	}
	for f := 0; f < 4; f++ {
		assert.Equal(t, 2, events[f], "fold %d events", f)
	}
}

func TestFitPoisson(t *testing.T) {
	dsg, yLin := regressionProblem(200, 37)
	// Turn the linear signal into counts.
	n, _ := yLin.Dims()
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		mu := math.Exp(yLin.At(i, 0) / 4)
		y.Set(i, 0, math.Floor(mu))
	}
	fam, err := family.New("poisson")
	require.NoError(t, err)

	res, err := Fit(dsg, y, fam, nil, Options{Seed: 6, NFolds: 5, Selection: LambdaMin})
	require.NoError(t, err)
	assert.Greater(t, res.Coef.At(0, 0), 0.0, "positive signal coefficient")
	assert.Less(t, res.Coef.At(1, 0), 0.0, "negative signal coefficient")
}

func TestFitMGaussianFitsEachColumn(t *testing.T) {
	n := 200
	dsg, y1 := regressionProblem(n, 41)
	y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		y.Set(i, 0, y1.At(i, 0))
		// Second response depends only on the third column.
		y.Set(i, 1, 4*dsg.m.At(i, 2))
	}
	fam, err := family.New("mgaussian")
	require.NoError(t, err)

	res, err := Fit(dsg, y, fam, nil, Options{Seed: 7, NFolds: 5, Selection: LambdaMin})
	require.NoError(t, err)

	require.Len(t, res.Intercept, 2)
	assert.NotZero(t, res.Coef.At(0, 0))
	assert.NotZero(t, res.Coef.At(2, 1), "second response's predictor not selected")
	assert.InDelta(t, 4, res.Coef.At(2, 1), 0.5)
}

// Package family implements the response-distribution families and
// their link/loss pairings. A Family is resolved once at the start of a
// fit and threaded through the boosting loop and the penalized solver;
// no call site branches on the family name per row.
package family

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/pkg/errors"
)

// Name identifies a response family.
type Name string

// Supported families.
const (
	Gaussian    Name = "gaussian"
	Binomial    Name = "binomial"
	Multinomial Name = "multinomial"
	Poisson     Name = "poisson"
	Cox         Name = "cox"
	MGaussian   Name = "mgaussian"
)

// Family bundles the link, inverse link and loss-gradient functions of
// one response distribution. WorkingResiduals, InitScore and Deviance
// operate on one response column at a time; for the cox family the
// response matrix carries (time, status) in its two columns and the
// column index is ignored.
type Family struct {
	Name Name

	// HasIntercept is false only for cox, which has no explicit
	// intercept in the partial likelihood.
	HasIntercept bool

	// Link maps the mean to the linear-predictor scale.
	Link func(mu float64) float64

	// InvLink maps a linear predictor back to the response scale.
	InvLink func(eta float64) float64

	// ResponseCols is the number of coefficient columns the family
	// needs for the given response matrix.
	ResponseCols func(y mat.Matrix) int

	// InitScore is the optimal constant linear predictor for column col.
	InitScore func(y mat.Matrix, col int, w []float64) float64

	// WorkingResiduals fills out with the negative loss gradient in
	// link space at the current linear predictor eta.
	WorkingResiduals func(eta []float64, y mat.Matrix, col int, w []float64, out []float64)

	// Deviance is the (weighted) deviance of column col at eta. Lower
	// is better; used as the cross-validation loss.
	Deviance func(eta []float64, y mat.Matrix, col int, w []float64) float64

	// ResponseTransform maps one row of linear predictors (one entry
	// per response column) to the response scale. Softmax for
	// multinomial, element-wise inverse link otherwise.
	ResponseTransform func(eta []float64) []float64

	// QuadraticLoss marks families whose loss is already quadratic in
	// eta; the penalized solver then needs no IRLS outer loop.
	QuadraticLoss bool

	// IRLS fills the working response z and working weights ww of the
	// quadratic approximation to the loss at eta, given base
	// observation weights w.
	IRLS func(eta []float64, y mat.Matrix, col int, w, z, ww []float64)
}

// New resolves a family by name. Unknown names are a ConfigError.
func New(name string) (*Family, error) {
	switch Name(name) {
	case Gaussian:
		return newGaussian(), nil
	case Binomial:
		return newBinomial(), nil
	case Multinomial:
		return newMultinomial(), nil
	case Poisson:
		return newPoisson(), nil
	case Cox:
		return newCox(), nil
	case MGaussian:
		return newMGaussian(), nil
	default:
		return nil, errors.NewConfigError("family", "unknown response family", name)
	}
}

func identity(x float64) float64 { return x }

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func logit(p float64) float64 {
	const eps = 1e-12
	if p < eps {
		p = eps
	} else if p > 1-eps {
		p = 1 - eps
	}
	return math.Log(p / (1 - p))
}

func weightedMean(y mat.Matrix, col int, w []float64) float64 {
	rows, _ := y.Dims()
	var sum, wsum float64
	for i := 0; i < rows; i++ {
		sum += w[i] * y.At(i, col)
		wsum += w[i]
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

func elementwise(inv func(float64) float64) func([]float64) []float64 {
	return func(eta []float64) []float64 {
		out := make([]float64, len(eta))
		for i, e := range eta {
			out[i] = inv(e)
		}
		return out
	}
}

func newGaussian() *Family {
	f := &Family{
		Name:         Gaussian,
		HasIntercept: true,
		Link:         identity,
		InvLink:      identity,
		ResponseCols: func(mat.Matrix) int { return 1 },
		InitScore: func(y mat.Matrix, col int, w []float64) float64 {
			return weightedMean(y, col, w)
		},
		WorkingResiduals: func(eta []float64, y mat.Matrix, col int, w []float64, out []float64) {
			for i := range eta {
				out[i] = y.At(i, col) - eta[i]
			}
		},
		Deviance: func(eta []float64, y mat.Matrix, col int, w []float64) float64 {
			var dev float64
			for i := range eta {
				diff := y.At(i, col) - eta[i]
				dev += w[i] * diff * diff
			}
			return dev
		},
	}
	f.ResponseTransform = elementwise(f.InvLink)
	f.QuadraticLoss = true
	f.IRLS = func(eta []float64, y mat.Matrix, col int, w, z, ww []float64) {
		for i := range eta {
			z[i] = y.At(i, col)
			ww[i] = w[i]
		}
	}
	return f
}

func newBinomial() *Family {
	f := &Family{
		Name:         Binomial,
		HasIntercept: true,
		Link:         logit,
		InvLink:      sigmoid,
		ResponseCols: func(mat.Matrix) int { return 1 },
		InitScore: func(y mat.Matrix, col int, w []float64) float64 {
			return logit(weightedMean(y, col, w))
		},
		WorkingResiduals: func(eta []float64, y mat.Matrix, col int, w []float64, out []float64) {
			for i := range eta {
				out[i] = y.At(i, col) - sigmoid(eta[i])
			}
		},
		Deviance: func(eta []float64, y mat.Matrix, col int, w []float64) float64 {
			const eps = 1e-15
			var dev float64
			for i := range eta {
				p := sigmoid(eta[i])
				if p < eps {
					p = eps
				} else if p > 1-eps {
					p = 1 - eps
				}
				if y.At(i, col) >= 0.5 {
					dev -= 2 * w[i] * math.Log(p)
				} else {
					dev -= 2 * w[i] * math.Log(1-p)
				}
			}
			return dev
		},
	}
	f.ResponseTransform = elementwise(f.InvLink)
	f.IRLS = func(eta []float64, y mat.Matrix, col int, w, z, ww []float64) {
		for i := range eta {
			p := sigmoid(eta[i])
			v := p * (1 - p)
			if v < 1e-5 {
				v = 1e-5
			}
			z[i] = eta[i] + (y.At(i, col)-p)/v
			ww[i] = w[i] * v
		}
	}
	return f
}

func newPoisson() *Family {
	f := &Family{
		Name:         Poisson,
		HasIntercept: true,
		Link: func(mu float64) float64 {
			if mu <= 0 {
				mu = 1e-12
			}
			return math.Log(mu)
		},
		InvLink:      math.Exp,
		ResponseCols: func(mat.Matrix) int { return 1 },
		InitScore: func(y mat.Matrix, col int, w []float64) float64 {
			mean := weightedMean(y, col, w)
			if mean <= 0 {
				mean = 1e-12
			}
			return math.Log(mean)
		},
		WorkingResiduals: func(eta []float64, y mat.Matrix, col int, w []float64, out []float64) {
			for i := range eta {
				out[i] = y.At(i, col) - math.Exp(eta[i])
			}
		},
		Deviance: func(eta []float64, y mat.Matrix, col int, w []float64) float64 {
			var dev float64
			for i := range eta {
				mu := math.Exp(eta[i])
				yi := y.At(i, col)
				term := -(yi*eta[i] - mu)
				if yi > 0 {
					term += yi*math.Log(yi) - yi
				}
				dev += 2 * w[i] * term
			}
			return dev
		},
	}
	f.ResponseTransform = elementwise(f.InvLink)
	f.IRLS = func(eta []float64, y mat.Matrix, col int, w, z, ww []float64) {
		for i := range eta {
			mu := math.Exp(eta[i])
			if mu < 1e-10 {
				mu = 1e-10
			}
			z[i] = eta[i] + (y.At(i, col)-mu)/mu
			ww[i] = w[i] * mu
		}
	}
	return f
}

func newMultinomial() *Family {
	f := newBinomial()
	f.Name = Multinomial
	f.ResponseCols = func(y mat.Matrix) int {
		_, c := y.Dims()
		return c
	}
	// Row-wise softmax across the per-class linear predictors.
	f.ResponseTransform = func(eta []float64) []float64 {
		maxVal := eta[0]
		for _, v := range eta[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		out := make([]float64, len(eta))
		var sum float64
		for i, v := range eta {
			out[i] = math.Exp(v - maxVal)
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
		return out
	}
	return f
}

func newMGaussian() *Family {
	f := newGaussian()
	f.Name = MGaussian
	f.ResponseCols = func(y mat.Matrix) int {
		_, c := y.Dims()
		return c
	}
	return f
}

func newCox() *Family {
	f := &Family{
		Name:         Cox,
		HasIntercept: false,
		Link:         identity,
		// Relative risk scale.
		InvLink:      math.Exp,
		ResponseCols: func(mat.Matrix) int { return 1 },
		// The partial likelihood has no intercept; boosting starts
		// from eta = 0.
		InitScore: func(mat.Matrix, int, []float64) float64 { return 0 },
		WorkingResiduals: func(eta []float64, y mat.Matrix, _ int, w []float64, out []float64) {
			coxMartingaleResiduals(eta, y, w, out)
		},
		Deviance: func(eta []float64, y mat.Matrix, _ int, w []float64) float64 {
			return -2 * coxPartialLogLik(eta, y, w)
		},
	}
	f.ResponseTransform = elementwise(f.InvLink)
	// Gradient-step quadratic approximation with unit curvature; the
	// martingale residual is the partial-likelihood gradient.
	f.IRLS = func(eta []float64, y mat.Matrix, _ int, w, z, ww []float64) {
		res := make([]float64, len(eta))
		coxMartingaleResiduals(eta, y, w, res)
		for i := range eta {
			z[i] = eta[i] + res[i]
			ww[i] = w[i]
		}
	}
	return f
}

// coxMartingaleResiduals fills out with status_i - H0(t_i) exp(eta_i)
// using the Breslow estimator of the cumulative baseline hazard. The
// response matrix carries time in column 0 and status in column 1.
func coxMartingaleResiduals(eta []float64, y mat.Matrix, w []float64, out []float64) {
	n := len(eta)
	order := timeOrder(y, n)

	// Risk-set sums of w*exp(eta), walking from the largest time down.
	risk := make([]float64, n)
	var cum float64
	for k := n - 1; k >= 0; k-- {
		i := order[k]
		cum += w[i] * math.Exp(eta[i])
		risk[k] = cum
	}

	// Cumulative baseline hazard at each ordered time.
	cumHaz := make([]float64, n)
	var h float64
	for k := 0; k < n; k++ {
		i := order[k]
		if y.At(i, 1) != 0 {
			h += w[i] / risk[k]
		}
		cumHaz[k] = h
	}

	for k := 0; k < n; k++ {
		i := order[k]
		out[i] = y.At(i, 1) - cumHaz[k]*math.Exp(eta[i])
	}
}

// coxPartialLogLik computes the Breslow-approximated weighted partial
// log-likelihood.
func coxPartialLogLik(eta []float64, y mat.Matrix, w []float64) float64 {
	n := len(eta)
	order := timeOrder(y, n)

	risk := make([]float64, n)
	var cum float64
	for k := n - 1; k >= 0; k-- {
		i := order[k]
		cum += w[i] * math.Exp(eta[i])
		risk[k] = cum
	}

	var ll float64
	for k := 0; k < n; k++ {
		i := order[k]
		if y.At(i, 1) != 0 {
			ll += w[i] * (eta[i] - math.Log(risk[k]))
		}
	}
	return ll
}

// timeOrder returns observation indices sorted by event time ascending,
// events before censorings on ties.
func timeOrder(y mat.Matrix, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := y.At(order[a], 0), y.At(order[b], 0)
		if ta != tb {
			return ta < tb
		}
		return y.At(order[a], 1) > y.At(order[b], 1)
	})
	return order
}

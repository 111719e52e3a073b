package penalized

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/family"
	"github.com/prego-ml/prego/pkg/errors"
)

// pathFit is the per-response-column result of one path fit: original-
// scale coefficients and intercepts at each penalty, and the length of
// the converged prefix of the path.
type pathFit struct {
	coefs  [][]float64 // [lambda][feature]
	icepts []float64   // [lambda]
	nOK    int
}

func softThreshold(z, gamma float64) float64 {
	switch {
	case z > gamma:
		return z - gamma
	case z < -gamma:
		return z + gamma
	default:
		return 0
	}
}

// lambdaMax computes the smallest penalty that zeroes every coefficient
// for one response column, evaluated at the null (intercept-only) model.
func lambdaMax(d Design, y mat.Matrix, col int, fam *family.Family, w []float64, alpha float64) float64 {
	n, p := d.Dims()
	if p == 0 {
		return 0
	}
	mean, sd := colStats(d, w)

	eta := make([]float64, n)
	if fam.HasIntercept {
		init := fam.InitScore(y, col, w)
		for i := range eta {
			eta[i] = init
		}
	}
	z := make([]float64, n)
	ww := make([]float64, n)
	fam.IRLS(eta, y, col, w, z, ww)

	var W, swz float64
	for i := 0; i < n; i++ {
		W += ww[i]
		swz += ww[i] * z[i]
	}
	if W <= 0 {
		return 0
	}
	zbar := 0.0
	if fam.HasIntercept {
		zbar = swz / W
	}
	swr := swz - zbar*W

	maxAbs := 0.0
	for j := 0; j < p; j++ {
		if sd[j] == 0 {
			continue
		}
		var swxr float64
		d.ColIter(j, func(i int, v float64) {
			swxr += ww[i] * v * (z[i] - zbar)
		})
		g := math.Abs((swxr-mean[j]*swr)/sd[j]) / W
		if g > maxAbs {
			maxAbs = g
		}
	}

	denom := alpha
	if denom < 1e-3 {
		denom = 1e-3
	}
	return maxAbs / denom
}

// lambdaPath builds the decreasing geometric penalty sequence.
func lambdaPath(lmax float64, nlambda int, minRatio float64) []float64 {
	if lmax <= 0 {
		lmax = 1
	}
	out := make([]float64, nlambda)
	logMax := math.Log(lmax)
	logMin := math.Log(lmax * minRatio)
	for k := 0; k < nlambda; k++ {
		frac := float64(k) / float64(nlambda-1)
		out[k] = math.Exp(logMax + frac*(logMin-logMax))
	}
	return out
}

// fitPathColumn runs the coordinate-descent path for one response
// column. Weights must sum to one. Columns are standardized implicitly:
// descent happens on (x - mean)/sd coordinates and the returned
// coefficients are translated back to the original scale.
func fitPathColumn(d Design, y mat.Matrix, col int, fam *family.Family, w []float64, lambdas []float64, opts Options) pathFit {
	n, p := d.Dims()
	mean, sd := colStats(d, w)

	fit := pathFit{
		coefs:  make([][]float64, len(lambdas)),
		icepts: make([]float64, len(lambdas)),
	}

	beta := make([]float64, p) // standardized scale
	var beta0 float64
	eta := make([]float64, n)
	if fam.HasIntercept {
		beta0 = fam.InitScore(y, col, w)
		for i := range eta {
			eta[i] = beta0
		}
	}

	z := make([]float64, n)
	ww := make([]float64, n)
	r := make([]float64, n)
	swx := make([]float64, p)
	vj := make([]float64, p)

	maxOuter := 8
	if fam.QuadraticLoss {
		maxOuter = 1
	}

	for k, lambda := range lambdas {
		converged := false

		for outer := 0; outer < maxOuter; outer++ {
			fam.IRLS(eta, y, col, w, z, ww)

			W := floats.Sum(ww)
			if W <= 0 {
				fit.nOK = k
				return fit
			}

			// Per-column curvature under the current working weights.
			for j := 0; j < p; j++ {
				if sd[j] == 0 {
					continue
				}
				var swxj, swxxj float64
				d.ColIter(j, func(i int, v float64) {
					swxj += ww[i] * v
					swxxj += ww[i] * v * v
				})
				swx[j] = swxj
				vj[j] = (swxxj - 2*mean[j]*swxj + mean[j]*mean[j]*W) / (sd[j] * sd[j]) / W
			}

			var sumWR float64
			for i := 0; i < n; i++ {
				r[i] = z[i] - eta[i]
				sumWR += ww[i] * r[i]
			}

			cdOK := false
			for sweep := 0; sweep < opts.MaxIter; sweep++ {
				maxDelta := 0.0

				if fam.HasIntercept {
					delta0 := sumWR / W
					if delta0 != 0 {
						beta0 += delta0
						for i := 0; i < n; i++ {
							r[i] -= delta0
						}
						sumWR = 0
						if math.Abs(delta0) > maxDelta {
							maxDelta = math.Abs(delta0)
						}
					}
				}

				for j := 0; j < p; j++ {
					if sd[j] == 0 || vj[j] <= 0 {
						continue
					}
					var swxr float64
					d.ColIter(j, func(i int, v float64) {
						swxr += ww[i] * v * r[i]
					})
					grad := (swxr-mean[j]*sumWR)/sd[j]/W + vj[j]*beta[j]
					next := softThreshold(grad, lambda*opts.Alpha) / (vj[j] + lambda*(1-opts.Alpha))
					delta := next - beta[j]
					if delta == 0 {
						continue
					}
					beta[j] = next

					// r -= delta * (x - mean)/sd, in two passes: a
					// uniform shift for the implicit centering, then
					// the structural nonzeros.
					shift := delta * mean[j] / sd[j]
					for i := 0; i < n; i++ {
						r[i] += shift
					}
					sumWR += shift * W
					d.ColIter(j, func(i int, v float64) {
						r[i] -= delta * v / sd[j]
					})
					sumWR -= delta * swx[j] / sd[j]

					if math.Abs(delta) > maxDelta {
						maxDelta = math.Abs(delta)
					}
				}

				if maxDelta < opts.Tol {
					cdOK = true
					break
				}
			}
			if !cdOK {
				// No solution at this penalty; truncate the path here.
				errors.Warn(errors.NewConvergenceWarning("coordinate descent", opts.MaxIter,
					fmt.Sprintf("at lambda=%.6g", lambda)))
				fit.nOK = k
				return fit
			}

			var etaChange float64
			for i := 0; i < n; i++ {
				next := z[i] - r[i]
				if diff := math.Abs(next - eta[i]); diff > etaChange {
					etaChange = diff
				}
				eta[i] = next
			}
			if fam.QuadraticLoss || etaChange < 1e-6 {
				converged = true
				break
			}
			converged = true // accept the last IRLS step at the cap
		}

		if !converged {
			fit.nOK = k
			return fit
		}

		coefs := make([]float64, p)
		intercept := beta0
		for j := 0; j < p; j++ {
			if sd[j] == 0 || beta[j] == 0 {
				continue
			}
			coefs[j] = beta[j] / sd[j]
			intercept -= beta[j] * mean[j] / sd[j]
		}
		if !fam.HasIntercept {
			intercept = 0
		}
		fit.coefs[k] = coefs
		fit.icepts[k] = intercept
		fit.nOK = k + 1
	}
	return fit
}

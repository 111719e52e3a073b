// Package sample produces the per-iteration row samples driving the
// randomized tree-growing loop. Every iteration derives its own PCG
// stream from the master seed, so iterations never share generator
// state and a refit with the same seed reproduces the same samples in
// any execution order.
package sample

import (
	"math/rand/v2"
	"sort"

	"github.com/prego-ml/prego/pkg/errors"
)

// Method selects how rows are drawn for one iteration.
type Method string

const (
	// Bootstrap draws a multiset of rows with replacement.
	Bootstrap Method = "bootstrap"
	// Subsample draws distinct rows without replacement.
	Subsample Method = "subsample"
)

// Sampler draws a weighted row sample per iteration.
type Sampler struct {
	method   Method
	fraction float64
	weights  []float64
	seed     uint64

	cumWeights []float64
	totalW     float64
	positive   int
}

// New validates the sampling configuration and returns a Sampler for n
// rows. weights may be nil for uniform sampling.
func New(method Method, fraction float64, n int, weights []float64, seed uint64) (*Sampler, error) {
	if method != Bootstrap && method != Subsample {
		return nil, errors.NewConfigError("sample.method", "must be bootstrap or subsample", string(method))
	}
	if fraction <= 0 || fraction > 1 {
		return nil, errors.NewConfigError("sample.fraction", "must be in (0, 1]", fraction)
	}
	if n <= 0 {
		return nil, errors.NewValueError("sample.New", "no observations to sample from")
	}
	if weights != nil && len(weights) != n {
		return nil, errors.NewDimensionError("sample.New", n, len(weights), 0)
	}

	s := &Sampler{method: method, fraction: fraction, weights: weights, seed: seed}
	if weights != nil {
		s.cumWeights = make([]float64, n)
		var cum float64
		for i, w := range weights {
			if w < 0 {
				return nil, errors.NewValueError("sample.New", "negative observation weight")
			}
			if w > 0 {
				s.positive++
			}
			cum += w
			s.cumWeights[i] = cum
		}
		if cum <= 0 {
			return nil, errors.NewValueError("sample.New", "all observation weights are zero")
		}
		s.totalW = cum
	}
	return s, nil
}

// Rand returns an independent random stream. The same (seed, stream)
// pair always yields the same generator state.
func (s *Sampler) Rand(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(s.seed, stream+1))
}

// Draw returns the row indices sampled for the given iteration.
// Bootstrap samples are sorted multisets; subsamples are sorted sets.
func (s *Sampler) Draw(n, iteration int) []int {
	size := int(s.fraction*float64(n) + 0.5)
	if size < 1 {
		size = 1
	}
	rng := s.Rand(uint64(iteration))

	if s.method == Bootstrap {
		out := make([]int, size)
		for i := range out {
			out[i] = s.drawOne(n, rng)
		}
		sort.Ints(out)
		return out
	}

	// Weighted subsampling without replacement: repeated weighted draws
	// with rejection of already-selected rows. For uniform weights a
	// partial Fisher-Yates is used instead.
	if s.weights == nil {
		perm := rng.Perm(n)
		out := append([]int(nil), perm[:size]...)
		sort.Ints(out)
		return out
	}

	// Zero-weight rows are never drawn, so the sample cannot hold more
	// distinct rows than carry positive weight.
	if size > s.positive {
		size = s.positive
	}
	chosen := make(map[int]bool, size)
	out := make([]int, 0, size)
	for len(out) < size {
		idx := s.drawOne(n, rng)
		if !chosen[idx] {
			chosen[idx] = true
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// drawOne draws a single row index, weighted when weights are set.
func (s *Sampler) drawOne(n int, rng *rand.Rand) int {
	if s.weights == nil {
		return rng.IntN(n)
	}
	u := rng.Float64() * s.totalW
	// Binary search over the cumulative weights.
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi) / 2
		if s.cumWeights[mid] < u {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

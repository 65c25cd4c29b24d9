package agent

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/Kokkini/MimicRL/types"
)

// Adam is a first-order optimizer over a parameter vector that may be split
// across several slices (policy weights, value weights, log-std). One
// instance keeps one set of moment estimates and one step counter, so a call
// to Step is a single joint update across all groups.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	m     []float64
	v     []float64
	t     int
}

// NewAdam builds an optimizer for a parameter vector of total length n with
// the usual moment decay constants.
func NewAdam(lr float64, n int) *Adam {
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, n),
		v:     make([]float64, n),
	}
}

// Step applies one bias-corrected update. params and grads are parallel
// groups of slices; their concatenation must have the length the optimizer
// was built for.
func (a *Adam) Step(params, grads [][]float64) error {
	total := 0
	for _, p := range params {
		total += len(p)
	}
	if total != len(a.m) {
		return &types.ShapeMismatchError{What: "optimizer parameters", Want: len(a.m), Got: total}
	}
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	off := 0
	for gi, p := range params {
		g := grads[gi]
		for i := range p {
			k := off + i
			a.m[k] = a.beta1*a.m[k] + (1-a.beta1)*g[i]
			a.v[k] = a.beta2*a.v[k] + (1-a.beta2)*g[i]*g[i]
			mHat := a.m[k] / c1
			vHat := a.v[k] / c2
			p[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
		off += len(p)
	}
	return nil
}

// GlobalNorm is the L2 norm of the concatenation of the given slices.
func GlobalNorm(grads [][]float64) float64 {
	sum := 0.0
	for _, g := range grads {
		sum += floats.Dot(g, g)
	}
	return math.Sqrt(sum)
}

// ClipGlobalNorm rescales the slices in place so their joint L2 norm does not
// exceed maxNorm, and reports the norm before clipping. maxNorm <= 0 disables
// clipping.
func ClipGlobalNorm(maxNorm float64, grads [][]float64) float64 {
	norm := GlobalNorm(grads)
	if maxNorm <= 0 || norm <= maxNorm || norm == 0 {
		return norm
	}
	scale := maxNorm / norm
	for _, g := range grads {
		floats.Scale(scale, g)
	}
	return norm
}

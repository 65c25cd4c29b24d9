package agent

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/Kokkini/MimicRL/types"
)

// MLP is a fully connected network with tanh hidden activations and a linear
// output layer. All weights and biases live in one flat slice so the
// optimizer and checkpointing can treat the network as a single parameter
// vector; the per-layer matrices are views over that slice.
type MLP struct {
	sizes  []int
	params []float64
	layers []layer
}

type layer struct {
	in, out int
	w       *mat.Dense // out x in, view over params
	b       []float64  // view over params
}

// NewMLP builds a network with the given layer sizes (input first, output
// last) and Glorot-uniform initial weights. Biases start at zero.
func NewMLP(sizes []int, rng *rand.Rand) (*MLP, error) {
	if len(sizes) < 2 {
		return nil, types.ConfigErrorf("hidden", "network needs at least input and output layers, got sizes %v", sizes)
	}
	for _, s := range sizes {
		if s <= 0 {
			return nil, types.ConfigErrorf("hidden", "layer sizes must be positive, got %v", sizes)
		}
	}
	total := 0
	for l := 0; l < len(sizes)-1; l++ {
		total += sizes[l+1]*sizes[l] + sizes[l+1]
	}
	m := &MLP{
		sizes:  append([]int(nil), sizes...),
		params: make([]float64, total),
		layers: make([]layer, len(sizes)-1),
	}
	off := 0
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		w := m.params[off : off+out*in]
		off += out * in
		b := m.params[off : off+out]
		off += out
		limit := math.Sqrt(6.0 / float64(in+out))
		for i := range w {
			w[i] = (2*rng.Float64() - 1) * limit
		}
		m.layers[l] = layer{in: in, out: out, w: mat.NewDense(out, in, w), b: b}
	}
	return m, nil
}

// Sizes returns the layer sizes the network was built with.
func (m *MLP) Sizes() []int { return append([]int(nil), m.sizes...) }

// NumParams is the length of the flat parameter vector.
func (m *MLP) NumParams() int { return len(m.params) }

// Params returns the backing parameter slice. The optimizer mutates it in
// place; the layer views see every update.
func (m *MLP) Params() []float64 { return m.params }

// SetParams copies a saved parameter vector into the network.
func (m *MLP) SetParams(p []float64) error {
	if len(p) != len(m.params) {
		return &types.ShapeMismatchError{What: "network parameters", Want: len(m.params), Got: len(p)}
	}
	copy(m.params, p)
	return nil
}

// ForwardCache holds the intermediate activations of one forward pass, enough
// to run Backward for the same input.
type ForwardCache struct {
	inputs [][]float64 // input to each layer
	pre    [][]float64 // pre-activation output of each layer
}

// Forward runs the network on one input vector.
func (m *MLP) Forward(x []float64) []float64 {
	out, _ := m.forward(x, false)
	return out
}

// ForwardCached runs the network and keeps the activations needed for a
// matching Backward call.
func (m *MLP) ForwardCached(x []float64) ([]float64, *ForwardCache) {
	return m.forward(x, true)
}

func (m *MLP) forward(x []float64, keep bool) ([]float64, *ForwardCache) {
	var cache *ForwardCache
	if keep {
		cache = &ForwardCache{
			inputs: make([][]float64, len(m.layers)),
			pre:    make([][]float64, len(m.layers)),
		}
	}
	cur := x
	for l, ly := range m.layers {
		pre := make([]float64, ly.out)
		v := mat.NewVecDense(ly.out, pre)
		v.MulVec(ly.w, mat.NewVecDense(ly.in, cur))
		for i := range pre {
			pre[i] += ly.b[i]
		}
		if keep {
			cache.inputs[l] = cur
			cache.pre[l] = pre
		}
		if l == len(m.layers)-1 {
			cur = pre
			continue
		}
		act := make([]float64, ly.out)
		for i, z := range pre {
			act[i] = math.Tanh(z)
		}
		cur = act
	}
	return cur, cache
}

// Backward accumulates into grad (a flat vector parallel to Params) the
// gradient of a scalar loss whose derivative with respect to the network
// output is dOut, for the forward pass recorded in cache.
func (m *MLP) Backward(cache *ForwardCache, dOut, grad []float64) {
	dz := append([]float64(nil), dOut...)
	off := len(m.params)
	for l := len(m.layers) - 1; l >= 0; l-- {
		ly := m.layers[l]
		if l < len(m.layers)-1 {
			// Chain through the tanh that fed the layer above.
			for i, z := range cache.pre[l] {
				t := math.Tanh(z)
				dz[i] *= 1 - t*t
			}
		}
		off -= ly.out
		gb := grad[off : off+ly.out]
		off -= ly.out * ly.in
		gw := grad[off : off+ly.out*ly.in]
		in := cache.inputs[l]
		for i := 0; i < ly.out; i++ {
			gb[i] += dz[i]
			row := gw[i*ly.in : (i+1)*ly.in]
			for j, a := range in {
				row[j] += dz[i] * a
			}
		}
		if l == 0 {
			break
		}
		din := make([]float64, ly.in)
		for i := 0; i < ly.out; i++ {
			wi := ly.w.RawRowView(i)
			for j := range din {
				din[j] += wi[j] * dz[i]
			}
		}
		dz = din
	}
}

package network

import (
	"errors"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LayerSpec describes one dense layer of an MLP. Specs are assembled up
// front and materialized in order; every layer except the last is followed by
// the network's activation.
type LayerSpec struct {
	In  int
	Out int
}

// Specs builds the layer descriptors for a network of the given depth, where
// depth counts the linear layers including the first and last. A depth-one
// network maps the input straight to the output with no hidden layer.
func Specs(in, width, out, depth int) ([]LayerSpec, error) {
	if depth <= 0 {
		return nil, errors.New("network depth must be greater than zero")
	}
	specs := make([]LayerSpec, 0, depth)
	if depth == 1 {
		return append(specs, LayerSpec{In: in, Out: out}), nil
	}
	specs = append(specs, LayerSpec{In: in, Out: width})
	for layer := 1; layer < depth; layer++ {
		if layer == depth-1 {
			specs = append(specs, LayerSpec{In: width, Out: out})
		} else {
			specs = append(specs, LayerSpec{In: width, Out: width})
		}
	}
	return specs, nil
}

// BuildLayers materializes layer descriptors into orthogonally initialized
// dense layers.
func BuildLayers(specs []LayerSpec, rng *rand.Rand) []*Dense {
	layers := make([]*Dense, len(specs))
	for i, s := range specs {
		layers[i] = newDense(s.In, s.Out, rng)
	}
	return layers
}

// MLP is an ordered stack of dense layers with a fixed activation between
// them. Layers may be shared with another MLP (shared actor/critic trunk);
// gradients then accumulate into the shared buffers from both networks.
type MLP struct {
	layers []*Dense
	act    Activation
}

// New assembles an MLP from already-built layers.
func New(layers []*Dense, act Activation) *MLP {
	return &MLP{layers: layers, act: act}
}

// Layers exposes the underlying layers, e.g. for trunk sharing or optimizer
// registration.
func (m *MLP) Layers() []*Dense {
	return m.layers
}

// Cache holds the per-layer inputs and pre-activations of one forward pass,
// consumed by Backward.
type Cache struct {
	inputs []*mat.Dense
	pres   []*mat.Dense
}

// Forward runs a batch x (n x in) through the network, returning the output
// (n x out) and the cache needed for a backward pass.
func (m *MLP) Forward(x *mat.Dense) (*mat.Dense, *Cache) {
	c := &Cache{
		inputs: make([]*mat.Dense, len(m.layers)),
		pres:   make([]*mat.Dense, len(m.layers)),
	}
	h := x
	for i, layer := range m.layers {
		c.inputs[i] = h
		z := layer.forward(h)
		c.pres[i] = z
		if i < len(m.layers)-1 {
			n, w := z.Dims()
			a := mat.NewDense(n, w, nil)
			for r := 0; r < n; r++ {
				for col := 0; col < w; col++ {
					a.Set(r, col, m.act.apply(z.At(r, col)))
				}
			}
			h = a
		} else {
			h = z
		}
	}
	return h, c
}

// Backward propagates dOut, the loss gradient with respect to the network
// output, through the cached forward pass, accumulating parameter gradients.
func (m *MLP) Backward(c *Cache, dOut *mat.Dense) {
	grad := dOut
	for i := len(m.layers) - 1; i >= 0; i-- {
		grad = m.layers[i].backward(c.inputs[i], grad)
		if i > 0 {
			pre := c.pres[i-1]
			n, w := grad.Dims()
			for r := 0; r < n; r++ {
				for col := 0; col < w; col++ {
					grad.Set(r, col, grad.At(r, col)*m.act.derivative(pre.At(r, col)))
				}
			}
		}
	}
}

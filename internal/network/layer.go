package network

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer computing y = xWᵀ + b for row-vector
// inputs. Gradient buffers accumulate across backward passes until the
// optimizer zeroes them.
type Dense struct {
	W *mat.Dense    // out x in
	B *mat.VecDense // out

	GradW *mat.Dense
	GradB *mat.VecDense
}

func newDense(in, out int, rng *rand.Rand) *Dense {
	return &Dense{
		W:     orthogonal(out, in, math.Sqrt2, rng),
		B:     mat.NewVecDense(out, nil),
		GradW: mat.NewDense(out, in, nil),
		GradB: mat.NewVecDense(out, nil),
	}
}

// In reports the layer's input width.
func (d *Dense) In() int {
	_, c := d.W.Dims()
	return c
}

// Out reports the layer's output width.
func (d *Dense) Out() int {
	r, _ := d.W.Dims()
	return r
}

// ScaleWeights multiplies the weight matrix by a constant. Applied to final
// layers after initialization to start the actor near-uniform and the critic
// near-zero.
func (d *Dense) ScaleWeights(f float64) {
	d.W.Scale(f, d.W)
}

// forward computes the layer output for a batch x of shape n x in.
func (d *Dense) forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	out := d.Out()
	y := mat.NewDense(n, out, nil)
	y.Mul(x, d.W.T())
	for i := 0; i < n; i++ {
		for j := 0; j < out; j++ {
			y.Set(i, j, y.At(i, j)+d.B.AtVec(j))
		}
	}
	return y
}

// backward accumulates parameter gradients given the batch input x and the
// loss gradient dy with respect to the layer output, and returns the loss
// gradient with respect to x.
func (d *Dense) backward(x, dy *mat.Dense) *mat.Dense {
	n, in := x.Dims()
	out := d.Out()

	var gw mat.Dense
	gw.Mul(dy.T(), x)
	d.GradW.Add(d.GradW, &gw)

	for j := 0; j < out; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += dy.At(i, j)
		}
		d.GradB.SetVec(j, d.GradB.AtVec(j)+sum)
	}

	dx := mat.NewDense(n, in, nil)
	dx.Mul(dy, d.W)
	return dx
}

func (d *Dense) zeroGrad() {
	d.GradW.Zero()
	d.GradB.Zero()
}

// CopyFrom overwrites this layer's parameters with src's.
func (d *Dense) CopyFrom(src *Dense) {
	d.W.Copy(src.W)
	d.B.CopyVec(src.B)
}

// orthogonal draws a rows x cols matrix with orthonormal rows or columns
// (whichever fit), scaled by gain, via QR decomposition of a Gaussian matrix.
func orthogonal(rows, cols int, gain float64, rng *rand.Rand) *mat.Dense {
	r, c := rows, cols
	transposed := false
	if r < c {
		r, c = c, r
		transposed = true
	}

	a := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var q, rm mat.Dense
	qr.QTo(&q)
	qr.RTo(&rm)

	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < c; j++ {
		// Sign correction keeps the distribution uniform over orthogonal
		// matrices.
		sign := 1.0
		if rm.At(j, j) < 0 {
			sign = -1.0
		}
		for i := 0; i < r; i++ {
			v := q.At(i, j) * sign * gain
			if transposed {
				out.Set(j, i, v)
			} else {
				out.Set(i, j, v)
			}
		}
	}
	return out
}

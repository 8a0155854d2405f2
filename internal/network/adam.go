package network

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
)

type adamState struct {
	mW, vW *mat.Dense
	mB, vB *mat.VecDense
}

// Adam implements the Adam optimizer over a fixed parameter list. Shared
// layers must appear exactly once in the list.
type Adam struct {
	lr     float64
	eps    float64
	t      int
	params []*Dense
	state  []adamState
}

// NewAdam creates an optimizer for the given layers.
func NewAdam(params []*Dense, lr, eps float64) *Adam {
	state := make([]adamState, len(params))
	for i, p := range params {
		r, c := p.W.Dims()
		state[i] = adamState{
			mW: mat.NewDense(r, c, nil),
			vW: mat.NewDense(r, c, nil),
			mB: mat.NewVecDense(r, nil),
			vB: mat.NewVecDense(r, nil),
		}
	}
	return &Adam{lr: lr, eps: eps, params: params, state: state}
}

// ZeroGrad clears every parameter's gradient buffers.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.zeroGrad()
	}
}

// Step applies one Adam update using the accumulated gradients.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(adamBeta1, float64(a.t))
	bc2 := 1 - math.Pow(adamBeta2, float64(a.t))

	for i, p := range a.params {
		s := a.state[i]
		r, c := p.W.Dims()
		for row := 0; row < r; row++ {
			for col := 0; col < c; col++ {
				g := p.GradW.At(row, col)
				m := adamBeta1*s.mW.At(row, col) + (1-adamBeta1)*g
				v := adamBeta2*s.vW.At(row, col) + (1-adamBeta2)*g*g
				s.mW.Set(row, col, m)
				s.vW.Set(row, col, v)
				p.W.Set(row, col, p.W.At(row, col)-a.lr*(m/bc1)/(math.Sqrt(v/bc2)+a.eps))
			}
			g := p.GradB.AtVec(row)
			m := adamBeta1*s.mB.AtVec(row) + (1-adamBeta1)*g
			v := adamBeta2*s.vB.AtVec(row) + (1-adamBeta2)*g*g
			s.mB.SetVec(row, m)
			s.vB.SetVec(row, v)
			p.B.SetVec(row, p.B.AtVec(row)-a.lr*(m/bc1)/(math.Sqrt(v/bc2)+a.eps))
		}
	}
}

// ClipGradNorm rescales all gradients so their global L2 norm does not exceed
// max. No-op when the norm is already within bounds.
func ClipGradNorm(params []*Dense, max float64) {
	total := 0.0
	for _, p := range params {
		r, c := p.W.Dims()
		for row := 0; row < r; row++ {
			for col := 0; col < c; col++ {
				g := p.GradW.At(row, col)
				total += g * g
			}
			g := p.GradB.AtVec(row)
			total += g * g
		}
	}
	norm := math.Sqrt(total)
	if norm <= max {
		return
	}
	scale := max / (norm + 1e-6)
	for _, p := range params {
		p.GradW.Scale(scale, p.GradW)
		p.GradB.ScaleVec(scale, p.GradB)
	}
}

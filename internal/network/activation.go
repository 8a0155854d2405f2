package network

import (
	"fmt"
	"math"
)

// Activation selects the nonlinearity applied between dense layers.
type Activation int

const (
	Tanh Activation = iota
	ReLU
)

// ParseActivation maps a configured activation name to its enum value.
func ParseActivation(name string) (Activation, error) {
	switch name {
	case "Tanh":
		return Tanh, nil
	case "ReLU":
		return ReLU, nil
	default:
		return 0, fmt.Errorf("unknown activation %q", name)
	}
}

func (a Activation) String() string {
	switch a {
	case Tanh:
		return "Tanh"
	case ReLU:
		return "ReLU"
	default:
		return "unknown"
	}
}

func (a Activation) apply(x float64) float64 {
	switch a {
	case ReLU:
		return math.Max(0, x)
	default:
		return math.Tanh(x)
	}
}

// derivative is evaluated at the pre-activation value.
func (a Activation) derivative(pre float64) float64 {
	switch a {
	case ReLU:
		if pre > 0 {
			return 1
		}
		return 0
	default:
		t := math.Tanh(pre)
		return 1 - t*t
	}
}

// Package advantage turns a window of rewards, done flags, and value
// estimates into per-step advantages under one of two estimation schemes.
package advantage

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Mode selects the estimation scheme.
type Mode int

const (
	// GAE is generalized advantage estimation, an exponentially weighted
	// combination of multi-step estimates controlled by lambda.
	GAE Mode = iota
	// NStep uses backward discounted returns minus the value baseline.
	NStep
)

// ParseMode maps a configured estimator name to its enum value.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "gae":
		return GAE, nil
	case "n-steps":
		return NStep, nil
	default:
		return 0, fmt.Errorf("unknown advantage estimator %q", name)
	}
}

// Estimator computes advantages under a fixed mode and discounting.
type Estimator struct {
	mode   Mode
	gamma  float64
	lambda float64
}

// New creates an estimator. The mode name is validated here; an unknown name
// is a configuration error.
func New(mode string, gamma, lambda float64) (*Estimator, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return &Estimator{mode: m, gamma: gamma, lambda: lambda}, nil
}

// Compute returns one advantage per reward. values must hold one extra
// trailing entry, the bootstrap estimate for the state following the window.
// A set done flag zeroes bootstrapping across the episode boundary at that
// step.
func (e *Estimator) Compute(rewards []float64, dones []bool, values []float64) []float64 {
	t := len(rewards)
	adv := make([]float64, t)

	if e.mode == GAE {
		futureGAE := 0.0
		for i := t - 1; i >= 0; i-- {
			notDone := 1.0
			if dones[i] {
				notDone = 0.0
			}
			delta := rewards[i] + e.gamma*values[i+1]*notDone - values[i]
			futureGAE = delta + e.gamma*e.lambda*notDone*futureGAE
			adv[i] = futureGAE
		}
		return adv
	}

	futureRet := values[t]
	for i := t - 1; i >= 0; i-- {
		notDone := 1.0
		if dones[i] {
			notDone = 0.0
		}
		futureRet = rewards[i] + e.gamma*futureRet*notDone
		adv[i] = futureRet - values[i]
	}
	return adv
}

// Standardize rescales advantages to zero mean and unit variance. The epsilon
// keeps an all-equal sequence (zero spread) at exactly zero instead of
// dividing by zero.
func Standardize(adv []float64) []float64 {
	mean := stat.Mean(adv, nil)
	std := 0.0
	if len(adv) > 1 {
		std = stat.StdDev(adv, nil)
	}
	out := make([]float64, len(adv))
	for i, a := range adv {
		out[i] = (a - mean) / (std + 1e-10)
	}
	return out
}

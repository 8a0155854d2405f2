// Package trainer runs the clipped-objective policy optimization. One
// Trainer owns both policy snapshots (the one being optimized and the frozen
// behavior policy used to act) plus the single shared optimizer; update calls
// for different agents are sequential by contract.
package trainer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"multiagent-ppo/internal/advantage"
	"multiagent-ppo/internal/experience"
	"multiagent-ppo/internal/network"
	"multiagent-ppo/internal/policy"
)

// Config holds the optimization hyperparameters.
type Config struct {
	LearningRate   float64
	AdamEps        float64
	DiscountFactor float64
	Lambda         float64
	EpsClip        float64
	Epochs         int
	BatchSize      int
	ValueLossCoeff float64
	EntropyCoeff   float64
	// MaxGradNorm caps the global gradient norm; zero disables clipping.
	MaxGradNorm        float64
	AdvantageEstimator string
}

// Trainer performs PPO updates against a parameter-shared policy.
type Trainer struct {
	cfg       Config
	current   *policy.Policy
	behavior  *policy.Policy
	optimizer *network.Adam
	estimator *advantage.Estimator
	loss      float64
	logger    zerolog.Logger
}

// New constructs the two policy snapshots, synchronizes them, and wires the
// optimizer and advantage estimator. All configuration validation happens
// here and in the policy constructor; errors are fatal.
func New(policyCfg policy.Config, cfg Config, rng *rand.Rand, logger zerolog.Logger) (*Trainer, error) {
	estimator, err := advantage.New(cfg.AdvantageEstimator, cfg.DiscountFactor, cfg.Lambda)
	if err != nil {
		return nil, err
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be greater than zero, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero, got %d", cfg.BatchSize)
	}

	current, err := policy.New(policyCfg, rng, logger)
	if err != nil {
		return nil, err
	}
	behavior, err := policy.New(policyCfg, rng, logger)
	if err != nil {
		return nil, err
	}
	behavior.CopyFrom(current)

	return &Trainer{
		cfg:       cfg,
		current:   current,
		behavior:  behavior,
		optimizer: network.NewAdam(current.Parameters(), cfg.LearningRate, cfg.AdamEps),
		estimator: estimator,
		logger:    logger.With().Str("component", "trainer").Logger(),
	}, nil
}

// Policy returns the snapshot being optimized, e.g. for checkpointing.
func (t *Trainer) Policy() *policy.Policy {
	return t.current
}

// Behavior returns the frozen snapshot used to act in the environment. It
// changes only at the end of a full update cycle.
func (t *Trainer) Behavior() *policy.Policy {
	return t.behavior
}

// LastLoss reports the total loss of the most recent mini-batch step, for
// metrics sampling after an update.
func (t *Trainer) LastLoss() float64 {
	return t.loss
}

// Update consumes the agent's completed learning window (horizon+1
// transitions) and runs the multi-epoch mini-batched optimization. The
// trailing transition is consumed for value bootstrapping only: its fields
// are popped from the trajectory here, and the caller's ClearExceptLast then
// retains the final learning step as the seed of the next window.
func (t *Trainer) Update(buf *experience.Buffer, agent int) {
	traj := buf.Agent(agent)

	// The final reward/done belong to the bootstrap transition, not the
	// learning batch.
	traj.Rewards = traj.Rewards[:len(traj.Rewards)-1]
	traj.Dones = traj.Dones[:len(traj.Dones)-1]

	last := traj.Len() - 1
	lastState := traj.States[last]
	lastAction := traj.Actions[last]
	lastMask := traj.Masks[last]
	traj.States = traj.States[:last]
	traj.Actions = traj.Actions[:last]
	traj.Masks = traj.Masks[:last]
	traj.LogProbs = traj.LogProbs[:last]

	// Frozen behavior-policy references for the whole update cycle.
	oldStates := traj.States
	oldActions := traj.Actions
	oldMasks := traj.Masks
	oldLogProbs := append([]float64(nil), traj.LogProbs...)

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		for start := 0; start < len(oldStates); start += t.cfg.BatchSize {
			end := start + t.cfg.BatchSize

			var states [][]float64
			var actions []int
			var masks [][]bool
			if end >= len(oldStates) {
				// Final mini-batch: re-append the bootstrap transition so
				// this batch too has its look-ahead sample.
				end = len(oldStates)
				states = append(append([][]float64(nil), oldStates[start:end]...), lastState)
				actions = append(append([]int(nil), oldActions[start:end]...), lastAction)
				masks = append(append([][]bool(nil), oldMasks[start:end]...), lastMask)
			} else {
				// Interior mini-batch: borrow the next batch's first
				// transition as the look-ahead sample.
				states = oldStates[start : end+1]
				actions = oldActions[start : end+1]
				masks = oldMasks[start : end+1]
			}

			ev := t.current.Evaluate(states, actions, masks)
			t.step(ev, actions, oldLogProbs[start:end], traj.Rewards[start:end], traj.Dones[start:end])
		}
	}

	// The only point at which the behavior policy changes: epochs of one
	// cycle always optimize against a stationary reference.
	t.behavior.CopyFrom(t.current)

	t.logger.Debug().Int("agent", agent).Float64("loss", t.loss).Msg("policy updated")
}

// step performs one mini-batch gradient step. The batch holds n learning
// transitions plus the trailing bootstrap slot, which contributes a value
// estimate but no loss terms of its own.
func (t *Trainer) step(ev *policy.Evaluation, actions []int, oldLogProbs, rewards []float64, dones []bool) {
	n := len(rewards)
	nf := float64(n)
	actionSize := t.current.Config().ActionSize

	// Advantages from the current but gradient-detached value estimates.
	adv := advantage.Standardize(t.estimator.Compute(rewards, dones, ev.Values))

	dLogits := mat.NewDense(n, actionSize, nil)
	dValues := mat.NewDense(n+1, 1, nil)

	valueLoss := valueLossTerm(ev.Values, rewards)

	var surrogate, entropyMean float64
	for i := 0; i < n; i++ {
		ratio := math.Exp(ev.LogProbs[i] - oldLogProbs[i])
		objective, clipped := surrogateTerm(ratio, adv[i], t.cfg.EpsClip)
		surrogate += objective

		// Policy gradient flows only through the unclipped branch; a
		// saturated clip contributes a constant.
		g := 0.0
		if !clipped {
			g = -(ratio * adv[i]) / nf
		}
		entropy := ev.Entropies[i]
		for k := 0; k < actionSize; k++ {
			pk := ev.Probs.At(i, k)
			grad := -g * pk
			if k == actions[i] {
				grad += g
			}
			if pk > 0 {
				grad += t.cfg.EntropyCoeff / nf * pk * (math.Log(pk) + entropy)
			}
			dLogits.Set(i, k, grad)
		}
		entropyMean += entropy / nf

		dValues.Set(i, 0, t.cfg.ValueLossCoeff*(ev.Values[i]-rewards[i])/nf)
	}
	surrogate /= nf

	t.loss = -surrogate + t.cfg.ValueLossCoeff*valueLoss - t.cfg.EntropyCoeff*entropyMean

	t.optimizer.ZeroGrad()
	t.current.Backward(ev, dLogits, dValues)
	if t.cfg.MaxGradNorm > 0 {
		network.ClipGradNorm(t.current.Parameters(), t.cfg.MaxGradNorm)
	}
	t.optimizer.Step()
}

// surrogateTerm evaluates min(ratio*adv, clip(ratio, 1-eps, 1+eps)*adv) for
// one transition. clipped reports whether the clipped branch was strictly
// smaller, i.e. whether the trust-region constraint is active.
func surrogateTerm(ratio, adv, eps float64) (value float64, clipped bool) {
	unclipped := ratio * adv
	c := clippedRatio(ratio, eps) * adv
	if c < unclipped {
		return c, true
	}
	return unclipped, false
}

func clippedRatio(ratio, eps float64) float64 {
	if ratio < 1-eps {
		return 1 - eps
	}
	if ratio > 1+eps {
		return 1 + eps
	}
	return ratio
}

// valueLossTerm is the value head's regression loss for one mini-batch:
// half the mean squared error between the value estimates (bootstrap slot
// excluded) and the raw immediate rewards. Note the target is the one-step
// reward, not a discounted return; the step method keeps the same form.
func valueLossTerm(values, rewards []float64) float64 {
	n := len(rewards)
	sum := 0.0
	for i := 0; i < n; i++ {
		d := values[i] - rewards[i]
		sum += d * d
	}
	return 0.5 * sum / float64(n)
}

// Package policy implements the shared stochastic policy: an actor network
// producing a masked categorical action distribution and a critic network
// producing a scalar state-value estimate. One Policy instance is shared by
// every agent; the agent id rides along as the trailing scalar of the state
// vector.
package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"multiagent-ppo/internal/experience"
	"multiagent-ppo/internal/network"
)

// NoForcedAction tells Act to sample from the distribution instead of using
// an externally decided action.
const NoForcedAction = -1

// forcedLogProbFloor bounds the log-probability recorded for an action that a
// caller forces while the mask disallows it. Sampling still sees an exact
// zero probability for masked actions; only the stored log-prob needs to stay
// finite, or the importance ratio of the next update turns NaN.
const forcedLogProbFloor = -1e8

// Config holds the construction parameters of a Policy.
type Config struct {
	StateSize  int
	ActionSize int

	ActorDepth  int
	ActorWidth  int
	CriticDepth int
	CriticWidth int

	Activation string

	// Final-layer weight scale factors, applied after orthogonal
	// initialization. A small actor scale starts the softmax near uniform; a
	// small critic scale starts values near zero.
	LastActorLayerScale  float64
	LastCriticLayerScale float64

	// Shared reuses the critic's trunk (all layers but the last) as the
	// actor's trunk. Requires critic depth greater than one so each head
	// keeps at least one private layer.
	Shared bool

	// LoadPath optionally restores parameters from a checkpoint at
	// construction. A missing file is logged and ignored.
	LoadPath string
}

// Policy is the actor/critic pair. Two instances exist during training: the
// one being optimized and the frozen behavior snapshot.
type Policy struct {
	cfg    Config
	actor  *network.MLP
	critic *network.MLP
	rng    *rand.Rand
	logger zerolog.Logger
}

// New builds and initializes a Policy. Configuration errors are fatal and
// reported here, never at use time.
func New(cfg Config, rng *rand.Rand, logger zerolog.Logger) (*Policy, error) {
	act, err := network.ParseActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}
	if cfg.Shared && cfg.CriticDepth <= 1 {
		return nil, errors.New("shared networks must have depth greater than one")
	}

	criticSpecs, err := network.Specs(cfg.StateSize, cfg.CriticWidth, 1, cfg.CriticDepth)
	if err != nil {
		return nil, fmt.Errorf("critic: %w", err)
	}
	criticLayers := network.BuildLayers(criticSpecs, rng)

	var actorLayers []*network.Dense
	if cfg.Shared {
		trunk := criticLayers[:len(criticLayers)-1]
		head := network.BuildLayers([]network.LayerSpec{{In: cfg.CriticWidth, Out: cfg.ActionSize}}, rng)
		actorLayers = append(append([]*network.Dense(nil), trunk...), head[0])
	} else {
		actorSpecs, err := network.Specs(cfg.StateSize, cfg.ActorWidth, cfg.ActionSize, cfg.ActorDepth)
		if err != nil {
			return nil, fmt.Errorf("actor: %w", err)
		}
		actorLayers = network.BuildLayers(actorSpecs, rng)
	}

	criticLayers[len(criticLayers)-1].ScaleWeights(cfg.LastCriticLayerScale)
	actorLayers[len(actorLayers)-1].ScaleWeights(cfg.LastActorLayerScale)

	p := &Policy{
		cfg:    cfg,
		actor:  network.New(actorLayers, act),
		critic: network.New(criticLayers, act),
		rng:    rng,
		logger: logger.With().Str("component", "policy").Logger(),
	}

	if cfg.LoadPath != "" {
		if err := p.Load(cfg.LoadPath); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Config returns the construction parameters.
func (p *Policy) Config() Config {
	return p.cfg
}

// Parameters returns the unique layers of both networks in a deterministic
// order: critic layers first, then any actor layers not shared with the
// critic.
func (p *Policy) Parameters() []*network.Dense {
	seen := make(map[*network.Dense]bool)
	var params []*network.Dense
	for _, l := range p.critic.Layers() {
		seen[l] = true
		params = append(params, l)
	}
	for _, l := range p.actor.Layers() {
		if !seen[l] {
			params = append(params, l)
		}
	}
	return params
}

// CopyFrom overwrites this policy's parameters with src's. This is the
// explicit synchronization step of the current/behavior double buffer.
func (p *Policy) CopyFrom(src *Policy) {
	dst := p.Parameters()
	from := src.Parameters()
	for i, d := range dst {
		d.CopyFrom(from[i])
	}
}

// Act computes the masked action distribution for a single state and returns
// the chosen action: a fresh sample unless forced supplies one. A forced
// action may be one the mask disallows, e.g. holding a stuck agent on a
// masked-out no-op; it is recorded with the finite floor log-probability.
// When buf is non-nil the (state, action, log-prob, mask) half of the
// transition is appended under the agent id carried as the state's trailing
// scalar.
func (p *Policy) Act(state []float64, mask []bool, buf *experience.Buffer, forced int) int {
	x := mat.NewDense(1, len(state), append([]float64(nil), state...))
	logits, _ := p.actor.Forward(x)

	logProbs := maskedLogSoftmax(logits.RawRowView(0), mask)

	action := forced
	if action == NoForcedAction {
		action = sampleLogProbs(logProbs, mask, p.rng)
	}

	if buf != nil {
		agent := int(state[len(state)-1])
		buf.AppendStep(agent, state, action, recordedLogProb(logProbs[action]), mask)
	}
	return action
}

// Evaluation carries the outputs of a batched Evaluate call plus the forward
// caches needed to backpropagate through it.
type Evaluation struct {
	// LogProbs and Entropies cover the first n rows; Values covers all n+1,
	// the last being the bootstrap estimate for the state after the window.
	LogProbs  []float64
	Values    []float64
	Entropies []float64
	// Probs is the n x actionSize masked probability matrix; masked entries
	// are exactly zero.
	Probs *mat.Dense

	actorCache  *network.Cache
	criticCache *network.Cache
}

// Evaluate re-computes the current policy on a batch of n+1 transitions. The
// trailing row exists only to bootstrap the value of the state following the
// window: the critic evaluates every row, the actor all but the last.
func (p *Policy) Evaluate(states [][]float64, actions []int, masks [][]bool) *Evaluation {
	n := len(states) - 1

	actorX := mat.NewDense(n, p.cfg.StateSize, nil)
	criticX := mat.NewDense(n+1, p.cfg.StateSize, nil)
	for i, s := range states {
		criticX.SetRow(i, s)
		if i < n {
			actorX.SetRow(i, s)
		}
	}

	logits, actorCache := p.actor.Forward(actorX)
	valuesOut, criticCache := p.critic.Forward(criticX)

	ev := &Evaluation{
		LogProbs:    make([]float64, n),
		Values:      make([]float64, n+1),
		Entropies:   make([]float64, n),
		Probs:       mat.NewDense(n, p.cfg.ActionSize, nil),
		actorCache:  actorCache,
		criticCache: criticCache,
	}

	for i := 0; i <= n; i++ {
		ev.Values[i] = valuesOut.At(i, 0)
	}
	for i := 0; i < n; i++ {
		logProbs := maskedLogSoftmax(logits.RawRowView(i), masks[i])
		ev.LogProbs[i] = recordedLogProb(logProbs[actions[i]])
		entropy := 0.0
		for k, lp := range logProbs {
			pk := math.Exp(lp)
			ev.Probs.Set(i, k, pk)
			if pk > 0 {
				entropy -= pk * lp
			}
		}
		ev.Entropies[i] = entropy
	}
	return ev
}

// Backward propagates loss gradients from a prior Evaluate call: dLogits is
// n x actionSize (actor logits), dValues is (n+1) x 1 (critic outputs).
// Gradients accumulate into the layers; shared trunks receive both heads'
// contributions.
func (p *Policy) Backward(ev *Evaluation, dLogits, dValues *mat.Dense) {
	p.actor.Backward(ev.actorCache, dLogits)
	p.critic.Backward(ev.criticCache, dValues)
}

// Save persists the full parameter set to path.
func (p *Policy) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	defer f.Close()
	return network.EncodeParams(f, p.Parameters())
}

// Load restores parameters from path. A missing file is logged and leaves
// the already-initialized parameters in place; a corrupt or mismatched file
// is an error.
func (p *Policy) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			p.logger.Warn().Str("path", path).Msg("checkpoint not found, keeping current parameters")
			return nil
		}
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	defer f.Close()
	return network.DecodeParams(f, p.Parameters())
}

// maskedLogSoftmax normalizes logits into log-probabilities in log space,
// pinning masked-out entries at -Inf so the distribution assigns them exact
// zeros. A mask with no valid entry is a caller-contract violation.
func maskedLogSoftmax(logits []float64, mask []bool) []float64 {
	out := make([]float64, len(logits))
	maxLogit := math.Inf(-1)
	for i, l := range logits {
		if mask[i] && l > maxLogit {
			maxLogit = l
		}
	}
	sum := 0.0
	for i, l := range logits {
		if mask[i] {
			sum += math.Exp(l - maxLogit)
		}
	}
	logSum := math.Log(sum)
	for i, l := range logits {
		if mask[i] {
			out[i] = l - maxLogit - logSum
		} else {
			out[i] = math.Inf(-1)
		}
	}
	return out
}

// recordedLogProb clamps -Inf to the finite floor so that a forced masked
// action yields a usable importance ratio instead of exp(-Inf - -Inf).
func recordedLogProb(lp float64) float64 {
	if math.IsInf(lp, -1) {
		return forcedLogProbFloor
	}
	return lp
}

// sampleLogProbs draws one action from the masked categorical distribution.
func sampleLogProbs(logProbs []float64, mask []bool, rng *rand.Rand) int {
	threshold := rng.Float64()
	cumulative := 0.0
	last := 0
	for i, lp := range logProbs {
		if !mask[i] {
			continue
		}
		last = i
		cumulative += math.Exp(lp)
		if threshold <= cumulative {
			return i
		}
	}
	return last
}

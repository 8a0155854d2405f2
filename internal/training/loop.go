// Package training drives the per-step interaction between an environment
// collaborator and the learning engine: acting with the frozen behavior
// policy, experience bookkeeping, per-agent horizon-triggered updates, and
// periodic checkpointing. Simulation, observation featurization, and reward
// shaping stay on the caller's side of the Environment interface.
package training

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"multiagent-ppo/internal/experience"
	"multiagent-ppo/internal/policy"
	"multiagent-ppo/internal/trainer"
)

// DecisionKind says how an agent acts on a given step.
type DecisionKind int

const (
	// DecideAct samples from the behavior policy and records the transition.
	DecideAct DecisionKind = iota
	// DecideSkip submits a fixed action without consulting the policy or
	// recording anything. On an episode's final step a skip is promoted to a
	// force so the closing transition is never lost.
	DecideSkip
	// DecideForce submits a fixed action through the policy so the
	// transition is recorded with that action's log-probability, e.g. holding
	// an agent known to be stuck.
	DecideForce
)

// Decision pairs a kind with the fixed action used by skip and force.
type Decision struct {
	Kind   DecisionKind
	Action int
}

// Environment is the external collaborator producing states, masks, rewards,
// and termination signals. States do not carry the agent id; the loop
// appends it before consulting the policy.
type Environment interface {
	NumAgents() int
	StateSize() int
	ActionSize() int
	// MaxSteps caps an episode's length; the loop forces done flags true on
	// the final step.
	MaxSteps() int
	Reset() (states [][]float64, masks [][]bool)
	// Decide reports how the agent acts this step (see DecisionKind).
	Decide(agent int) Decision
	Step(actions []int) (states [][]float64, masks [][]bool, rewards []float64, dones []bool)
}

// Loop runs episodes against an environment, invoking the trainer whenever
// an agent's buffer reaches horizon+1 transitions.
type Loop struct {
	Env     Environment
	Trainer *trainer.Trainer
	Buffer  *experience.Buffer

	Horizon  int
	Episodes int

	// CheckpointInterval saves the current policy every n episodes; zero
	// disables. CheckpointPath is the save target.
	CheckpointInterval int
	CheckpointPath     string

	Logger zerolog.Logger
}

// Run executes the configured number of episodes. The context is checked
// between environment steps; an in-flight update always runs to completion.
func (l *Loop) Run(ctx context.Context) error {
	if l.Horizon <= 0 {
		return errors.New("horizon must be greater than zero")
	}
	if l.Episodes <= 0 {
		return errors.New("episodes must be greater than zero")
	}

	logger := l.Logger.With().Str("component", "training_loop").Logger()
	numAgents := l.Env.NumAgents()
	maxSteps := l.Env.MaxSteps()

	var scoreSum float64
	for episode := 1; episode <= l.Episodes; episode++ {
		states, masks := l.Env.Reset()
		score := 0.0

		for step := 0; step < maxSteps; step++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			lastStep := step == maxSteps-1
			actions := make([]int, numAgents)
			recorded := make([]bool, numAgents)

			for agent := 0; agent < numAgents; agent++ {
				decision := l.Env.Decide(agent)
				state := withAgentID(states[agent], agent)
				switch {
				case decision.Kind == DecideSkip && !lastStep:
					actions[agent] = decision.Action
				case decision.Kind == DecideSkip || decision.Kind == DecideForce:
					actions[agent] = l.Trainer.Behavior().Act(state, masks[agent], l.Buffer, decision.Action)
					recorded[agent] = true
				default:
					actions[agent] = l.Trainer.Behavior().Act(state, masks[agent], l.Buffer, policy.NoForcedAction)
					recorded[agent] = true
				}
			}

			nextStates, nextMasks, rewards, dones := l.Env.Step(actions)

			for agent := 0; agent < numAgents; agent++ {
				score += rewards[agent]
				if recorded[agent] {
					l.Buffer.AppendOutcome(agent, rewards[agent], dones[agent])
					if lastStep {
						l.Buffer.MarkLastDone(agent)
					}
				}
			}

			for agent := 0; agent < numAgents; agent++ {
				if l.Buffer.Agent(agent).Len() == l.Horizon+1 {
					l.Trainer.Update(l.Buffer, agent)
					// The trailing transition fed the next window's
					// bootstrap during the update; keep the closing
					// learning step so the window chain stays unbroken.
					l.Buffer.ClearExceptLast(agent)
				}
			}

			states, masks = nextStates, nextMasks
		}

		normalized := score / float64(maxSteps*numAgents)
		scoreSum += normalized
		logger.Info().
			Int("episode", episode).
			Float64("score", normalized).
			Float64("mean_score", scoreSum/float64(episode)).
			Float64("loss", l.Trainer.LastLoss()).
			Msg("episode finished")

		if l.CheckpointInterval > 0 && l.CheckpointPath != "" && episode%l.CheckpointInterval == 0 {
			if err := l.Trainer.Policy().Save(l.CheckpointPath); err != nil {
				return err
			}
			logger.Info().Int("episode", episode).Str("path", l.CheckpointPath).Msg("checkpoint saved")
		}
	}
	return nil
}

// withAgentID appends the agent identity as the state's trailing scalar, the
// convention the parameter-shared policy uses to tell agents apart.
func withAgentID(state []float64, agent int) []float64 {
	out := make([]float64, 0, len(state)+1)
	out = append(out, state...)
	return append(out, float64(agent))
}

// Package experience stores per-agent trajectories between policy updates.
// Each trajectory keeps six parallel sequences indexed by step; keeping them
// congruent in length is the caller's responsibility.
package experience

import "errors"

// Trajectory is one agent's collected experience. The acting loop appends the
// state/action/log-prob/mask half of a step, then the reward/done half after
// the environment has stepped.
type Trajectory struct {
	States   [][]float64
	Actions  []int
	LogProbs []float64
	Masks    [][]bool
	Rewards  []float64
	Dones    []bool
}

// Len reports the number of acting steps recorded so far.
func (t *Trajectory) Len() int {
	return len(t.States)
}

// Buffer holds one trajectory per agent, indexed by agent id. It is a plain
// container: single writer (the acting loop), single reader (the trainer),
// accessed only between completed update cycles.
type Buffer struct {
	agents []Trajectory
}

// NewBuffer creates a buffer for a fixed number of agents.
func NewBuffer(numAgents int) (*Buffer, error) {
	if numAgents <= 0 {
		return nil, errors.New("number of agents must be greater than zero")
	}
	return &Buffer{agents: make([]Trajectory, numAgents)}, nil
}

// NumAgents reports the number of agent slots.
func (b *Buffer) NumAgents() int {
	return len(b.agents)
}

// Agent returns the trajectory owned by the given agent id.
func (b *Buffer) Agent(id int) *Trajectory {
	return &b.agents[id]
}

// AppendStep records the acting half of a transition. The state and mask are
// copied so the caller may reuse its slices.
func (b *Buffer) AppendStep(agent int, state []float64, action int, logProb float64, mask []bool) {
	t := &b.agents[agent]
	t.States = append(t.States, append([]float64(nil), state...))
	t.Actions = append(t.Actions, action)
	t.LogProbs = append(t.LogProbs, logProb)
	t.Masks = append(t.Masks, append([]bool(nil), mask...))
}

// AppendOutcome records the reward and done flag produced by the environment
// for the agent's most recent acting step.
func (b *Buffer) AppendOutcome(agent int, reward float64, done bool) {
	t := &b.agents[agent]
	t.Rewards = append(t.Rewards, reward)
	t.Dones = append(t.Dones, done)
}

// MarkLastDone overwrites the most recent done flag with true. Used when an
// episode ends by hitting its step cap rather than by termination.
func (b *Buffer) MarkLastDone(agent int) {
	t := &b.agents[agent]
	if len(t.Dones) > 0 {
		t.Dones[len(t.Dones)-1] = true
	}
}

// Clear resets every agent to an empty trajectory.
func (b *Buffer) Clear() {
	b.agents = make([]Trajectory, len(b.agents))
}

// ClearExceptLast truncates every sequence for the agent to its final
// element, carrying it over as the first sample of the next window.
func (b *Buffer) ClearExceptLast(agent int) {
	t := &b.agents[agent]
	if t.Len() == 0 {
		return
	}
	t.States = [][]float64{t.States[len(t.States)-1]}
	t.Actions = []int{t.Actions[len(t.Actions)-1]}
	t.LogProbs = []float64{t.LogProbs[len(t.LogProbs)-1]}
	t.Masks = [][]bool{t.Masks[len(t.Masks)-1]}
	if len(t.Rewards) > 0 {
		t.Rewards = []float64{t.Rewards[len(t.Rewards)-1]}
		t.Dones = []bool{t.Dones[len(t.Dones)-1]}
	}
}

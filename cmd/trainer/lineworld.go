package main

import "multiagent-ppo/internal/training"

// Actions of the line world.
const (
	actLeft = iota
	actStay
	actRight
	lineWorldActions
)

// lineWorld is a small demo environment: each agent walks a discrete line
// and is rewarded for reaching the rightmost cell. It exists only to
// exercise the engine from the command line; real environments live outside
// this repository and implement training.Environment the same way.
type lineWorld struct {
	numAgents int
	length    int
	maxSteps  int

	positions []int
	done      []bool
	step      int
}

func newLineWorld(numAgents, length, maxSteps int) *lineWorld {
	w := &lineWorld{numAgents: numAgents, length: length, maxSteps: maxSteps}
	w.positions = make([]int, numAgents)
	w.done = make([]bool, numAgents)
	return w
}

func (w *lineWorld) NumAgents() int  { return w.numAgents }
func (w *lineWorld) StateSize() int  { return 2 }
func (w *lineWorld) ActionSize() int { return lineWorldActions }
func (w *lineWorld) MaxSteps() int   { return w.maxSteps }

func (w *lineWorld) Reset() ([][]float64, [][]bool) {
	w.step = 0
	for a := range w.positions {
		w.positions[a] = a % w.length
		w.done[a] = false
	}
	return w.observe()
}

// Decide holds finished agents in place through the forced-action path, the
// same way a stuck agent would be pinned to a no-op.
func (w *lineWorld) Decide(agent int) training.Decision {
	if w.done[agent] {
		return training.Decision{Kind: training.DecideForce, Action: actStay}
	}
	return training.Decision{Kind: training.DecideAct}
}

func (w *lineWorld) Step(actions []int) ([][]float64, [][]bool, []float64, []bool) {
	w.step++
	rewards := make([]float64, w.numAgents)
	for a, action := range actions {
		if w.done[a] {
			continue
		}
		switch action {
		case actLeft:
			w.positions[a]--
		case actRight:
			w.positions[a]++
		}
		if w.positions[a] == w.length-1 {
			rewards[a] = 1.0
			w.done[a] = true
		} else {
			rewards[a] = -0.01
		}
	}
	states, masks := w.observe()
	return states, masks, rewards, append([]bool(nil), w.done...)
}

func (w *lineWorld) observe() ([][]float64, [][]bool) {
	states := make([][]float64, w.numAgents)
	masks := make([][]bool, w.numAgents)
	for a := 0; a < w.numAgents; a++ {
		states[a] = []float64{
			float64(w.positions[a]) / float64(w.length),
			float64(w.step) / float64(w.maxSteps),
		}
		if w.done[a] {
			masks[a] = []bool{false, true, false}
			continue
		}
		masks[a] = []bool{
			w.positions[a] > 0,
			true,
			w.positions[a] < w.length-1,
		}
	}
	return states, masks
}

package experience

import "testing"

func appendTransition(b *Buffer, agent int, step int) {
	b.AppendStep(agent, []float64{float64(step), 0.5, float64(agent)}, step%3, -0.7, []bool{true, false, true})
	b.AppendOutcome(agent, float64(step)*0.1, false)
}

func TestNewBufferRejectsNonPositiveAgents(t *testing.T) {
	if _, err := NewBuffer(0); err == nil {
		t.Fatalf("expected error for zero agents")
	}
	if _, err := NewBuffer(-2); err == nil {
		t.Fatalf("expected error for negative agents")
	}
}

func TestAppendKeepsSequencesCongruent(t *testing.T) {
	b, err := NewBuffer(2)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	for step := 0; step < 5; step++ {
		appendTransition(b, 1, step)
	}
	tr := b.Agent(1)
	if tr.Len() != 5 {
		t.Fatalf("expected 5 steps, got %d", tr.Len())
	}
	if len(tr.Actions) != 5 || len(tr.LogProbs) != 5 || len(tr.Masks) != 5 ||
		len(tr.Rewards) != 5 || len(tr.Dones) != 5 {
		t.Fatalf("parallel sequences are not congruent")
	}
	if b.Agent(0).Len() != 0 {
		t.Fatalf("agent 0 should be untouched")
	}
}

func TestAppendStepCopiesCallerSlices(t *testing.T) {
	b, _ := NewBuffer(1)
	state := []float64{1, 2, 0}
	mask := []bool{true, true}
	b.AppendStep(0, state, 0, 0, mask)
	state[0] = 99
	mask[0] = false
	if b.Agent(0).States[0][0] != 1 {
		t.Fatalf("stored state aliases the caller's slice")
	}
	if !b.Agent(0).Masks[0][0] {
		t.Fatalf("stored mask aliases the caller's slice")
	}
}

func TestClearExceptLastLeavesSingleTransition(t *testing.T) {
	for _, prior := range []int{1, 2, 7} {
		b, _ := NewBuffer(3)
		for step := 0; step < prior; step++ {
			appendTransition(b, 2, step)
		}
		b.ClearExceptLast(2)
		tr := b.Agent(2)
		if tr.Len() != 1 {
			t.Fatalf("prior length %d: expected 1 transition, got %d", prior, tr.Len())
		}
		if len(tr.Rewards) != 1 || len(tr.Dones) != 1 {
			t.Fatalf("prior length %d: outcome sequences not truncated to 1", prior)
		}
		if tr.States[0][0] != float64(prior-1) {
			t.Fatalf("prior length %d: retained transition is not the final one", prior)
		}
	}
}

func TestClearExceptLastOnEmptyAgentIsNoop(t *testing.T) {
	b, _ := NewBuffer(1)
	b.ClearExceptLast(0)
	if b.Agent(0).Len() != 0 {
		t.Fatalf("expected empty trajectory to stay empty")
	}
}

func TestClearResetsAllAgents(t *testing.T) {
	b, _ := NewBuffer(2)
	appendTransition(b, 0, 0)
	appendTransition(b, 1, 0)
	b.Clear()
	if b.Agent(0).Len() != 0 || b.Agent(1).Len() != 0 {
		t.Fatalf("Clear left transitions behind")
	}
	if b.NumAgents() != 2 {
		t.Fatalf("Clear changed the agent count")
	}
}

func TestMarkLastDone(t *testing.T) {
	b, _ := NewBuffer(1)
	appendTransition(b, 0, 0)
	appendTransition(b, 0, 1)
	b.MarkLastDone(0)
	tr := b.Agent(0)
	if tr.Dones[0] {
		t.Fatalf("first done flag should be untouched")
	}
	if !tr.Dones[1] {
		t.Fatalf("last done flag should be set")
	}
}

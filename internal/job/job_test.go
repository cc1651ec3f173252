package job

import "testing"

func TestTransitionLegalEdges(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusExpired, true},
		{StatusQueued, StatusCompleted, false},
		{StatusRunning, StatusProcessingArtifacts, true},
		{StatusRunning, StatusQueued, false},
		{StatusProcessingArtifacts, StatusCompleted, true},
		{StatusFailed, StatusQueued, true},
		{StatusCompleted, StatusQueued, false},
		{StatusCancelled, StatusRunning, false},
		{StatusExpired, StatusRunning, false},
	}

	for _, c := range cases {
		j := &Job{Status: c.from}
		err := j.Transition(c.to)
		if c.ok && err != nil {
			t.Fatalf("%s -> %s: expected legal, got %v", c.from, c.to, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("%s -> %s: expected illegal, transition succeeded", c.from, c.to)
		}
		if !c.ok && j.Status != c.from {
			t.Fatalf("%s -> %s: rejected transition must not mutate status, got %s", c.from, c.to, j.Status)
		}
	}
}

func TestTerminalSet(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s expected terminal", s)
		}
	}
	nonTerminal := []Status{StatusQueued, StatusRunning, StatusProcessingArtifacts}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Fatalf("%s expected non-terminal", s)
		}
	}
}

func TestNoOutgoingEdgesFromTerminal(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusCancelled, StatusExpired} {
		for _, to := range []Status{StatusQueued, StatusRunning, StatusProcessingArtifacts, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired} {
			if CanTransition(from, to) {
				t.Fatalf("terminal state %s must have no outgoing edges, found %s", from, to)
			}
		}
	}
}

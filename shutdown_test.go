package blkreactor

import "testing"

func TestCoordinatorLifecycle(t *testing.T) {
	drains := 0
	c := newCoordinator(func() { drains++ })

	if c.State() != StateRunning {
		t.Fatalf("initial state = %v, want running", c.State())
	}

	if !c.BeginDrain(2) {
		t.Fatal("first BeginDrain should win")
	}
	if c.State() != StateDraining {
		t.Errorf("state = %v, want draining", c.State())
	}
	if drains != 1 {
		t.Errorf("drain broadcast ran %d times, want 1", drains)
	}
	if c.ExitCode() != 2 {
		t.Errorf("exit code = %d, want 2", c.ExitCode())
	}

	c.markStopped()
	if c.State() != StateStopped {
		t.Errorf("state = %v, want stopped", c.State())
	}

	select {
	case <-c.Stopped():
	default:
		t.Error("Stopped channel should be closed")
	}
}

func TestCoordinatorFirstCodeWins(t *testing.T) {
	c := newCoordinator(func() {})

	if !c.BeginDrain(0) {
		t.Fatal("first BeginDrain should win")
	}
	if c.BeginDrain(7) {
		t.Error("second BeginDrain should lose")
	}
	if c.ExitCode() != 0 {
		t.Errorf("exit code = %d, want the first caller's 0", c.ExitCode())
	}
}

func TestCoordinatorStopRequiresDraining(t *testing.T) {
	c := newCoordinator(func() {})

	// Stopped is only reachable through Draining.
	c.markStopped()
	if c.State() != StateRunning {
		t.Errorf("state = %v, want running", c.State())
	}

	select {
	case <-c.Stopped():
		t.Error("Stopped channel must stay open while running")
	default:
	}
}

func TestPoolStateString(t *testing.T) {
	cases := map[PoolState]string{
		StateRunning:  "running",
		StateDraining: "draining",
		StateStopped:  "stopped",
		PoolState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

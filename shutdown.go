package blkreactor

import "sync/atomic"

// PoolState is the pool-wide lifecycle state driven by the shutdown
// coordinator.
type PoolState int32

const (
	// StateRunning accepts work and I/O.
	StateRunning PoolState = iota
	// StateDraining rejects new submissions while outstanding requests
	// flush through the poll loops.
	StateDraining
	// StateStopped means every work unit terminated and all device
	// resources were released.
	StateStopped
)

func (s PoolState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Coordinator drives the Running -> Draining -> Stopped transition. Drain
// entry is a one-way latch reachable from the tracker's terminal trigger or
// an explicit stop; both paths converge here.
type Coordinator struct {
	state   atomic.Int32
	code    atomic.Int32
	drainFn func()
	stopped chan struct{}
}

func newCoordinator(drainFn func()) *Coordinator {
	return &Coordinator{
		drainFn: drainFn,
		stopped: make(chan struct{}),
	}
}

// State returns the current pool state.
func (c *Coordinator) State() PoolState {
	return PoolState(c.state.Load())
}

// ExitCode returns the code recorded when draining began.
func (c *Coordinator) ExitCode() int {
	return int(c.code.Load())
}

// BeginDrain moves Running -> Draining exactly once and broadcasts the
// drain request. The first caller's code wins; later calls report false.
func (c *Coordinator) BeginDrain(code int) bool {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return false
	}
	c.code.Store(int32(code))
	c.drainFn()
	return true
}

// markStopped records the Draining -> Stopped transition after the last
// work unit terminates.
func (c *Coordinator) markStopped() {
	if c.state.CompareAndSwap(int32(StateDraining), int32(StateStopped)) {
		close(c.stopped)
	}
}

// Stopped returns a channel closed once the pool reaches Stopped.
func (c *Coordinator) Stopped() <-chan struct{} {
	return c.stopped
}

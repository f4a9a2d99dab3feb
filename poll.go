package blkreactor

import (
	"runtime"
	"time"
)

// PollStrategy controls what a reactor does between iterations that produce
// no work. It is a throughput/CPU tunable, never a correctness requirement:
// a strategy that always spins and one that always sleeps both terminate.
type PollStrategy interface {
	// Idle is called after an iteration that processed nothing.
	Idle()
	// Reset is called after an iteration that did useful work.
	Reset()
}

// AdaptivePoll spins through a burst of empty iterations, then yields the
// processor, then sleeps. Each reactor owns its own instance.
type AdaptivePoll struct {
	// SpinIterations empty iterations are burned at full speed before
	// the strategy starts yielding.
	SpinIterations int
	// YieldIterations iterations call runtime.Gosched before sleeping
	// kicks in.
	YieldIterations int
	// SleepInterval is the per-iteration sleep once spinning and
	// yielding are exhausted.
	SleepInterval time.Duration

	idle int
}

// NewAdaptivePoll returns the default strategy: 1024 spins, 64 yields,
// 50us sleeps.
func NewAdaptivePoll() *AdaptivePoll {
	return &AdaptivePoll{
		SpinIterations:  1024,
		YieldIterations: 64,
		SleepInterval:   50 * time.Microsecond,
	}
}

func (p *AdaptivePoll) Idle() {
	p.idle++
	switch {
	case p.idle <= p.SpinIterations:
		// Busy spin: completions are usually imminent.
	case p.idle <= p.SpinIterations+p.YieldIterations:
		runtime.Gosched()
	default:
		time.Sleep(p.SleepInterval)
	}
}

func (p *AdaptivePoll) Reset() {
	p.idle = 0
}

// SpinPoll never backs off. Useful for latency-sensitive setups where the
// reactor owns its core outright.
type SpinPoll struct{}

func (SpinPoll) Idle()  {}
func (SpinPoll) Reset() {}

var (
	_ PollStrategy = (*AdaptivePoll)(nil)
	_ PollStrategy = SpinPoll{}
)

package blkreactor

import (
	"fmt"
	"sync"

	"github.com/mhalvorsen/go-blkreactor/internal/logging"
)

// Config configures a reactor pool.
type Config struct {
	// Cores lists one entry per reactor; each reactor pins to its listed
	// core. UnpinnedCore entries run unpinned. Required, at least one.
	Cores []int

	// Device is the shared storage backend. Required.
	Device Device

	// Tracker is the request accounting to use. A fresh tracker is
	// created when nil.
	Tracker *Tracker

	// NewPollStrategy builds the idle strategy for each reactor.
	// Defaults to NewAdaptivePoll.
	NewPollStrategy func() PollStrategy

	// Logger for pool and reactor events. Defaults to the package
	// default logger.
	Logger *logging.Logger
}

// WorkUnitSpec describes a work unit to assign to a reactor.
type WorkUnitSpec struct {
	// Name identifies the unit in logs and counters. Auto-generated
	// when empty.
	Name string

	// Queues is how many queue handles to open at assignment. Units may
	// also open queues on demand from their own tasks.
	Queues int

	// QueueDepth is the outstanding limit per queue. Defaults to
	// DefaultQueueDepth.
	QueueDepth int
}

// Pool owns all reactors. It creates work units on a target reactor,
// runs the whole system, and stops it.
type Pool struct {
	dh       *DeviceHandle
	tracker  *Tracker
	coord    *Coordinator
	reactors []*Reactor

	newStrategy func() PollStrategy
	log         *logging.Logger

	mu       sync.Mutex
	running  bool
	unitSeq  int
	wg       sync.WaitGroup
}

// New creates a pool with one reactor per listed core. The device must be
// attached already; the pool takes a shared handle on it and releases the
// handle when the pool stops.
func New(cfg Config) (*Pool, error) {
	if cfg.Device == nil {
		return nil, NewError("NEW_POOL", ErrCodeInvalidArgument, "nil device")
	}
	if len(cfg.Cores) == 0 {
		return nil, NewError("NEW_POOL", ErrCodeInvalidArgument, "no cores listed")
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}

	newStrategy := cfg.NewPollStrategy
	if newStrategy == nil {
		newStrategy = func() PollStrategy { return NewAdaptivePoll() }
	}

	p := &Pool{
		dh:          OpenDevice(cfg.Device),
		tracker:     tracker,
		newStrategy: newStrategy,
		log:         log,
	}

	p.reactors = make([]*Reactor, len(cfg.Cores))
	for i, core := range cfg.Cores {
		p.reactors[i] = newReactor(i, core, log)
	}

	p.coord = newCoordinator(p.broadcastDrain)
	tracker.OnTerminal(func() { p.coord.BeginDrain(0) })

	return p, nil
}

// Tracker returns the pool's request tracker.
func (p *Pool) Tracker() *Tracker { return p.tracker }

// DeviceHandle returns the pool's shared device handle.
func (p *Pool) DeviceHandle() *DeviceHandle { return p.dh }

// State returns the pool lifecycle state.
func (p *Pool) State() PoolState { return p.coord.State() }

// Reactors returns the pool's reactors.
func (p *Pool) Reactors() []*Reactor { return p.reactors }

// Stopped returns a channel closed once the pool reaches Stopped.
func (p *Pool) Stopped() <-chan struct{} { return p.coord.Stopped() }

// AssignWorkUnit creates a work unit on the named reactor, pre-opening
// spec.Queues queue handles of spec.QueueDepth. It fails with
// resource-exhausted when the reactor id is unknown or queue allocation
// fails, and with shutting-down once draining has begun.
func (p *Pool) AssignWorkUnit(reactorID int, spec WorkUnitSpec) (*WorkUnit, error) {
	if p.coord.State() != StateRunning {
		return nil, NewError("ASSIGN_UNIT", ErrCodeShuttingDown, "pool is draining")
	}
	if reactorID < 0 || reactorID >= len(p.reactors) {
		return nil, NewError("ASSIGN_UNIT", ErrCodeResourceExhausted,
			fmt.Sprintf("unknown reactor id %d", reactorID))
	}
	r := p.reactors[reactorID]

	name := spec.Name
	if name == "" {
		p.mu.Lock()
		name = fmt.Sprintf("r%d-u%d", reactorID, p.unitSeq)
		p.unitSeq++
		p.mu.Unlock()
	}

	wu := newWorkUnit(name, r, p.tracker)
	for i := 0; i < spec.Queues; i++ {
		if _, err := wu.OpenQueue(p.dh, spec.QueueDepth); err != nil {
			wu.discardQueues()
			return nil, &Error{
				Op:       "ASSIGN_UNIT",
				Reactor:  reactorID,
				WorkUnit: name,
				Code:     ErrCodeResourceExhausted,
				Msg:      "queue allocation failed",
				Inner:    err,
			}
		}
	}

	p.mu.Lock()
	running := p.running
	if !running {
		// Pre-run assembly: the reactor goroutine does not exist yet,
		// so its unit list is still single-threaded.
		r.units = append(r.units, wu)
	}
	p.mu.Unlock()

	if running {
		r.addUnit(wu)
	}

	p.log.Info("work unit assigned",
		"unit", name, "reactor", reactorID, "queues", len(wu.queues))
	return wu, nil
}

// Run starts every reactor and blocks until the pool stops, either from
// the tracker's terminal trigger or an explicit Stop. It returns the exit
// code recorded when draining began.
func (p *Pool) Run() int {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.log.Error("pool already running")
		return p.coord.ExitCode()
	}
	p.running = true
	p.mu.Unlock()

	p.log.Info("pool starting", "reactors", len(p.reactors))

	for _, r := range p.reactors {
		p.wg.Add(1)
		go func(r *Reactor) {
			defer p.wg.Done()
			r.run(p.newStrategy())
		}(r)
	}

	p.wg.Wait()

	// Every work unit terminated, so every queue handle has released the
	// device handle.
	if err := p.dh.Close(); err != nil {
		p.log.Error("device release failed", "error", err)
	}

	p.coord.markStopped()
	p.log.Info("pool stopped", "exit_code", p.coord.ExitCode())
	return p.coord.ExitCode()
}

// Stop schedules a drain on every reactor, honored after each reactor's
// current poll iteration. Safe to call from any goroutine, including
// completion callbacks. Only the first stop's code is recorded.
func (p *Pool) Stop(code int) {
	p.coord.BeginDrain(code)
}

// broadcastDrain delivers the drain request to each reactor as a message;
// reactor state is never mutated from here.
func (p *Pool) broadcastDrain() {
	for _, r := range p.reactors {
		r.requestDrain()
	}
}

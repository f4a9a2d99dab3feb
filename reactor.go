package blkreactor

import (
	"runtime"
	"sync/atomic"

	"github.com/mhalvorsen/go-blkreactor/internal/logging"
)

// reactor control messages. State owned by the reactor goroutine is never
// mutated directly from outside; everything arrives through these channels.
type ctrlMsg struct {
	unit *WorkUnit
}

// Reactor is one physical execution context. Its goroutine locks an OS
// thread, optionally pins it to a core, and then round-robins its work
// units' inboxes while polling every unit's queues each iteration.
type Reactor struct {
	id   int
	core int

	// units is owned by the reactor goroutine once the pool is running.
	units []*WorkUnit
	next  int

	ctrl   chan ctrlMsg
	drainc chan struct{}

	// current marks which unit is executing on the reactor right now.
	// Queue handles consult it to reject wrong-context calls.
	current atomic.Pointer[WorkUnit]

	log *logging.Logger
}

func newReactor(id, core int, log *logging.Logger) *Reactor {
	return &Reactor{
		id:     id,
		core:   core,
		ctrl:   make(chan ctrlMsg, 16),
		drainc: make(chan struct{}, 1),
		log:    log.WithReactor(id),
	}
}

// ID returns the reactor's identifier.
func (r *Reactor) ID() int { return r.id }

// Core returns the core the reactor was asked to pin to, or UnpinnedCore.
func (r *Reactor) Core() int { return r.core }

// addUnit hands a new work unit to the running reactor.
func (r *Reactor) addUnit(wu *WorkUnit) {
	r.ctrl <- ctrlMsg{unit: wu}
}

// requestDrain asks the reactor to drain after its current poll iteration.
// Idempotent and non-blocking so it is safe to call from a completion
// callback running on the reactor itself.
func (r *Reactor) requestDrain() {
	select {
	case r.drainc <- struct{}{}:
	default:
	}
}

func (r *Reactor) enter(wu *WorkUnit) { r.current.Store(wu) }
func (r *Reactor) leave()             { r.current.Store(nil) }

// run is the reactor's poll loop. It returns once draining has been
// requested and every owned work unit has terminated.
func (r *Reactor) run(strategy PollStrategy) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if r.core != UnpinnedCore {
		// Pinning failure is non-fatal: the reactor runs unpinned.
		if err := pinToCore(r.core); err != nil {
			r.log.Warn("core pinning failed, running unpinned",
				"core", r.core, "error", err)
		} else {
			r.log.Debug("pinned to core", "core", r.core)
		}
	}

	for _, wu := range r.units {
		wu.activate()
	}
	r.log.Info("reactor started", "units", len(r.units))

	draining := false
	for {
		// Control first, so stop and unit assignment are honored at
		// iteration granularity.
	control:
		for {
			select {
			case msg := <-r.ctrl:
				r.units = append(r.units, msg.unit)
				if draining {
					msg.unit.beginDrain()
				} else {
					msg.unit.activate()
				}
			case <-r.drainc:
				if !draining {
					draining = true
					for _, wu := range r.units {
						wu.beginDrain()
					}
				}
			default:
				break control
			}
		}

		work := 0

		// One unit's inbox per scheduling turn, round-robin.
		if len(r.units) > 0 {
			wu := r.units[r.next%len(r.units)]
			r.next++
			if wu.currentState() == UnitActive {
				r.enter(wu)
				work += wu.runInbox()
				r.leave()
			}
		}

		// Every unit's queues are polled every iteration so completions
		// flush even while the unit waits for its inbox turn.
		terminated := 0
		for _, wu := range r.units {
			r.enter(wu)
			work += wu.pollQueues()
			if draining && wu.maybeTerminate() {
				terminated++
			}
			r.leave()
		}

		if draining && terminated == len(r.units) {
			break
		}

		if work == 0 {
			strategy.Idle()
		} else {
			strategy.Reset()
		}
	}

	r.log.Info("reactor stopped")
}

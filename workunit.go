package blkreactor

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/mhalvorsen/go-blkreactor/internal/logging"
)

// UnitState is the lifecycle state of a work unit.
type UnitState int32

const (
	// UnitCreated means the unit exists but its reactor has not scheduled
	// it yet.
	UnitCreated UnitState = iota
	// UnitActive means the unit is processing its inbox and issuing I/O.
	UnitActive
	// UnitDraining means the unit rejects new submissions and is waiting
	// for its queues' outstanding counts to reach zero.
	UnitDraining
	// UnitTerminated means the unit has released its queues.
	UnitTerminated
)

func (s UnitState) String() string {
	switch s {
	case UnitCreated:
		return "created"
	case UnitActive:
		return "active"
	case UnitDraining:
		return "draining"
	case UnitTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Task is a unit of work executed to completion on the owning reactor.
// Tasks must never block or sleep: doing so stalls every sibling work unit
// and every queue sharing the reactor.
type Task func(wu *WorkUnit)

// WorkUnit is a cooperatively scheduled entity bound to exactly one reactor
// for its entire lifetime. It owns a set of queue handles and an ordered
// task inbox which the reactor drains one scheduling turn at a time.
type WorkUnit struct {
	name    string
	reactor *Reactor
	tracker *Tracker

	counters *UnitCounters
	queues   []*QueueHandle
	state    atomic.Int32

	// The inbox is the only cross-context entry point into the unit.
	// Tasks may be posted from any goroutine; they are removed only by
	// the owning reactor.
	inboxMu sync.Mutex
	inbox   *queue.Queue

	log *logging.Logger
}

func newWorkUnit(name string, r *Reactor, t *Tracker) *WorkUnit {
	return &WorkUnit{
		name:     name,
		reactor:  r,
		tracker:  t,
		counters: t.Register(name),
		inbox:    queue.New(),
		log:      r.log.WithUnit(name),
	}
}

// Name returns the unit's name.
func (w *WorkUnit) Name() string { return w.name }

// ReactorID returns the id of the owning reactor.
func (w *WorkUnit) ReactorID() int { return w.reactor.id }

// State returns the unit's lifecycle state.
func (w *WorkUnit) State() UnitState { return w.currentState() }

// Counters returns the unit's submit/complete counters.
func (w *WorkUnit) Counters() *UnitCounters { return w.counters }

// Queues returns the unit's open queue handles. The slice is owned by the
// unit; use it from the unit's execution context only.
func (w *WorkUnit) Queues() []*QueueHandle { return w.queues }

// SubmitWork posts a task to the unit's inbox. Delivery is FIFO and
// at-most-once within this unit; no ordering holds relative to other units.
// Returns a shutting-down error once draining has begun.
func (w *WorkUnit) SubmitWork(fn Task) error {
	if fn == nil {
		return NewUnitError("SUBMIT_WORK", w.name, ErrCodeInvalidArgument, "nil task")
	}
	switch w.currentState() {
	case UnitDraining, UnitTerminated:
		return NewUnitError("SUBMIT_WORK", w.name, ErrCodeShuttingDown,
			"work unit is draining")
	}

	w.inboxMu.Lock()
	w.inbox.Add(fn)
	w.inboxMu.Unlock()
	return nil
}

// OpenQueue opens an additional queue handle against the pool's device.
// During assembly (before the reactor runs the unit) it may be called from
// the assembling goroutine; once the unit is active it must be called from
// the unit's own context like every other queue operation.
func (w *WorkUnit) OpenQueue(dh *DeviceHandle, depth int) (*QueueHandle, error) {
	if w.currentState() != UnitCreated && !w.inContext() {
		return nil, NewUnitError("OPEN_QUEUE", w.name, ErrCodeWrongContext,
			"queue opened outside the owning work unit")
	}

	qh, err := openQueue(w, dh, depth)
	if err != nil {
		return nil, err
	}
	w.queues = append(w.queues, qh)
	return qh, nil
}

func (w *WorkUnit) currentState() UnitState {
	return UnitState(w.state.Load())
}

// inContext reports whether the caller is running as this unit on its
// owning reactor.
func (w *WorkUnit) inContext() bool {
	return w.reactor.current.Load() == w
}

// activate moves Created -> Active. Reactor only.
func (w *WorkUnit) activate() {
	w.state.CompareAndSwap(int32(UnitCreated), int32(UnitActive))
}

// beginDrain moves the unit into Draining from whatever live state it is
// in. Reactor only.
func (w *WorkUnit) beginDrain() {
	if w.state.CompareAndSwap(int32(UnitActive), int32(UnitDraining)) ||
		w.state.CompareAndSwap(int32(UnitCreated), int32(UnitDraining)) {
		w.log.Debug("work unit draining", "outstanding", w.totalOutstanding())
	}
}

// runInbox executes every task queued at the start of this scheduling turn.
// Tasks posted while the turn runs wait for the unit's next turn, keeping
// turns bounded. Reactor only.
func (w *WorkUnit) runInbox() int {
	w.inboxMu.Lock()
	n := w.inbox.Length()
	if n == 0 {
		w.inboxMu.Unlock()
		return 0
	}
	tasks := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, w.inbox.Remove().(Task))
	}
	w.inboxMu.Unlock()

	for _, fn := range tasks {
		fn(w)
	}
	return n
}

// pollQueues polls every open queue handle once. Reactor only.
func (w *WorkUnit) pollQueues() int {
	processed := 0
	for _, qh := range w.queues {
		if qh.closed {
			continue
		}
		n, err := qh.Poll()
		if err != nil {
			w.log.Error("queue poll failed", "error", err)
			continue
		}
		processed += n
	}
	return processed
}

func (w *WorkUnit) totalOutstanding() int {
	total := 0
	for _, qh := range w.queues {
		total += qh.outstanding
	}
	return total
}

// discardQueues tears down a unit whose assembly failed before it was ever
// handed to its reactor. Queues opened so far are released directly; the
// unit never ran, so there is nothing outstanding.
func (w *WorkUnit) discardQueues() {
	for _, qh := range w.queues {
		if qh.closed {
			continue
		}
		qh.closed = true
		if err := qh.dq.Close(); err != nil {
			w.log.Error("queue close failed during discard", "error", err)
		}
		qh.dh.release()
	}
	w.queues = nil
	w.state.Store(int32(UnitTerminated))
}

// maybeTerminate completes the drain once no queue has outstanding
// requests: queues are closed, the device handle references released, and
// the unit becomes Terminated. A unit with outstanding requests never
// terminates. Reactor only.
func (w *WorkUnit) maybeTerminate() bool {
	if w.currentState() != UnitDraining {
		return w.currentState() == UnitTerminated
	}
	if w.totalOutstanding() > 0 {
		return false
	}

	for _, qh := range w.queues {
		if qh.closed {
			continue
		}
		if err := qh.Close(); err != nil {
			w.log.Error("queue close failed during drain", "error", err)
		}
	}
	w.state.Store(int32(UnitTerminated))
	w.log.Debug("work unit terminated")
	return true
}

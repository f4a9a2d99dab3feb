package blkreactor

import (
	"sync"
	"sync/atomic"
)

// UnitCounters holds one work unit's submit/complete accounting. All fields
// are atomics because completions on one reactor are read by snapshots
// taken elsewhere.
type UnitCounters struct {
	name      string
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// Name returns the owning work unit's name.
func (u *UnitCounters) Name() string { return u.name }

// Submitted returns the unit's submitted count.
func (u *UnitCounters) Submitted() uint64 { return u.submitted.Load() }

// Completed returns the unit's completed count.
func (u *UnitCounters) Completed() uint64 { return u.completed.Load() }

// Failed returns the unit's failed count.
func (u *UnitCounters) Failed() uint64 { return u.failed.Load() }

// TrackerSnapshot is a point-in-time copy of the global counters.
type TrackerSnapshot struct {
	Expected  uint64
	Submitted uint64
	Completed uint64
	Failed    uint64
}

// Tracker maintains per-work-unit and global submit/complete counters and
// fires the terminal trigger exactly once when global completed reaches the
// expected total. Counters are mutated only via atomic increments; the hot
// submit/poll path never takes a lock.
type Tracker struct {
	expected  atomic.Uint64
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64

	// fired latches the terminal trigger: it is not re-armable, so
	// completions arriving after the trigger are shutdown no-ops.
	fired      atomic.Bool
	onTerminal atomic.Pointer[func()]

	mu    sync.Mutex
	units []*UnitCounters
}

// NewTracker creates an empty tracker. An expected total of zero disables
// the terminal trigger (run-forever workloads stop via Pool.Stop).
func NewTracker() *Tracker {
	return &Tracker{}
}

// OnTerminal installs the trigger invoked when completed first equals
// expected. Install it before any completion can land.
func (t *Tracker) OnTerminal(fn func()) {
	t.onTerminal.Store(&fn)
}

// AddExpected raises the expected total by n. Callers declare their
// workload before submitting it.
func (t *Tracker) AddExpected(n uint64) {
	t.expected.Add(n)
}

// Register creates the counter block for a work unit.
func (t *Tracker) Register(name string) *UnitCounters {
	u := &UnitCounters{name: name}
	t.mu.Lock()
	t.units = append(t.units, u)
	t.mu.Unlock()
	return u
}

// RecordSubmit counts one submission against the unit and the global
// totals. It refuses submissions that would push submitted past expected,
// keeping completed <= submitted <= expected observable at all times. The
// CAS loop rejects without ever publishing an over-limit value, so no
// snapshot can catch submitted above expected, even transiently.
func (t *Tracker) RecordSubmit(u *UnitCounters) error {
	for {
		cur := t.submitted.Load()
		if exp := t.expected.Load(); exp > 0 && cur >= exp {
			return NewUnitError("RECORD_SUBMIT", u.name, ErrCodeInvalidArgument,
				"submission exceeds the expected total")
		}
		if t.submitted.CompareAndSwap(cur, cur+1) {
			u.submitted.Add(1)
			return nil
		}
	}
}

// rollbackSubmit undoes a RecordSubmit whose device submission failed
// synchronously, so the request never existed for accounting purposes.
func (t *Tracker) rollbackSubmit(u *UnitCounters) {
	t.submitted.Add(^uint64(0))
	u.submitted.Add(^uint64(0))
}

// RecordComplete counts one completion, failed or not, and fires the
// terminal trigger on the first completion that makes completed equal
// expected. Failed requests count toward completion; retry is the caller's
// policy, never this component's.
func (t *Tracker) RecordComplete(u *UnitCounters, success bool) {
	u.completed.Add(1)
	if !success {
		u.failed.Add(1)
		t.failed.Add(1)
	}

	done := t.completed.Add(1)
	exp := t.expected.Load()
	if exp == 0 || done != exp {
		return
	}
	if !t.fired.CompareAndSwap(false, true) {
		return
	}
	if fn := t.onTerminal.Load(); fn != nil {
		(*fn)()
	}
}

// Fired reports whether the terminal trigger has latched.
func (t *Tracker) Fired() bool {
	return t.fired.Load()
}

// Snapshot returns the global counters at one observation point. Completed
// is read before submitted so a snapshot racing live completions never shows
// completed above submitted.
func (t *Tracker) Snapshot() TrackerSnapshot {
	completed := t.completed.Load()
	submitted := t.submitted.Load()
	return TrackerSnapshot{
		Expected:  t.expected.Load(),
		Submitted: submitted,
		Completed: completed,
		Failed:    t.failed.Load(),
	}
}

// Units returns the registered per-unit counters.
func (t *Tracker) Units() []*UnitCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*UnitCounters, len(t.units))
	copy(out, t.units)
	return out
}

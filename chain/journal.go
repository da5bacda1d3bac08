package chain

import "errors"

// ErrReentrancy is returned when a guarded entry point is entered while a call
// into the same component is still in progress.
var ErrReentrancy = errors.New("reentrant call")

// Journal records an undo operation for every state write made during a call,
// so a failed call can be rolled back to the state it started from.
//
// A Journal is shared by every component taking part in one execution (token
// ledgers, the pool and the engine). Nested calls take nested snapshots, so a
// failure anywhere below the outermost call aborts all of its effects.
//
// Journal is NOT safe for concurrent use. Callers serialize access.
type Journal struct {
	entries []func()
	depth   int
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append registers undo. Outside of a call there is nothing to roll back to, so
// the entry is dropped.
func (j *Journal) Append(undo func()) {
	if j.depth == 0 {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	return len(j.entries)
}

// RevertToSnapshot undoes every write recorded after the snapshot, newest first.
func (j *Journal) RevertToSnapshot(id int) {
	if id < 0 || id > len(j.entries) {
		return
	}
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:id]
}

// Depth reports how many calls are currently in progress.
func (j *Journal) Depth() int {
	return j.depth
}

// Call runs fn as one all-or-nothing unit. When guard is non-nil it is held for
// the duration of fn and a nested entry fails with ErrReentrancy. If fn returns an
// error, every write it journaled is reverted before the error is returned.
func (j *Journal) Call(guard *Guard, fn func() error) (err error) {
	if guard != nil {
		if err := guard.enter(); err != nil {
			return err
		}
		defer guard.exit()
	}

	snapshot := j.Snapshot()
	j.depth++
	defer func() {
		j.depth--
		if err != nil {
			j.RevertToSnapshot(snapshot)
			return
		}
		if j.depth == 0 {
			// outermost call committed
			clear(j.entries)
			j.entries = j.entries[:0]
		}
	}()

	return fn()
}

// Set assigns v to *dst and journals the previous value.
func Set[T any](j *Journal, dst *T, v T) {
	prev := *dst
	j.Append(func() { *dst = prev })
	*dst = v
}

// Guard is a binary locked/unlocked flag wrapping a component's mutating entry
// points.
type Guard struct {
	locked bool
}

func (g *Guard) enter() error {
	if g.locked {
		return ErrReentrancy
	}
	g.locked = true
	return nil
}

func (g *Guard) exit() {
	g.locked = false
}

// Locked reports whether a guarded call is in progress.
func (g *Guard) Locked() bool {
	return g.locked
}

package scheduler

import (
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// timerKey orders timer entries by wake time, ties broken by registration
// order so that equal deadlines fire in the order they were scheduled.
type timerKey struct {
	wake time.Time
	seq  uint64
}

func timerCompare(a, b any) int {
	ka := a.(timerKey)
	kb := b.(timerKey)
	switch {
	case ka.wake.Before(kb.wake):
		return -1
	case ka.wake.After(kb.wake):
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	}
	return 0
}

// timerEntry is a parked task plus its wake deadline. wakeArgs builds the
// resumption arguments at fire time, so elapsed-time values reflect the
// actual wall clock rather than the requested delay.
type timerEntry struct {
	key      timerKey
	task     *task
	wakeArgs func(now time.Time) []any
}

// timerSet is a priority structure of delayed tasks keyed by wake time.
// Owned exclusively by the scheduling goroutine; no locking.
type timerSet struct {
	tree *redblacktree.Tree
	seq  uint64
}

func newTimerSet() *timerSet {
	return &timerSet{tree: redblacktree.NewWith(timerCompare)}
}

func (ts *timerSet) add(t *task, wake time.Time, wakeArgs func(time.Time) []any) *timerEntry {
	ts.seq++
	e := &timerEntry{
		key:      timerKey{wake: wake, seq: ts.seq},
		task:     t,
		wakeArgs: wakeArgs,
	}
	ts.tree.Put(e.key, e)
	return e
}

func (ts *timerSet) remove(e *timerEntry) {
	ts.tree.Remove(e.key)
}

// popDue removes and returns all entries whose wake time has elapsed, in
// ascending (wake, seq) order.
func (ts *timerSet) popDue(now time.Time) []*timerEntry {
	var due []*timerEntry
	for {
		node := ts.tree.Left()
		if node == nil {
			break
		}
		e := node.Value.(*timerEntry)
		if e.key.wake.After(now) {
			break
		}
		ts.tree.Remove(e.key)
		due = append(due, e)
	}
	return due
}

// drain removes and returns every entry, in (wake, seq) order.
func (ts *timerSet) drain() []*timerEntry {
	var all []*timerEntry
	for {
		node := ts.tree.Left()
		if node == nil {
			return all
		}
		e := node.Value.(*timerEntry)
		ts.tree.Remove(e.key)
		all = append(all, e)
	}
}

// nextWake returns the earliest pending wake time.
func (ts *timerSet) nextWake() (time.Time, bool) {
	node := ts.tree.Left()
	if node == nil {
		return time.Time{}, false
	}
	return node.Value.(*timerEntry).key.wake, true
}

func (ts *timerSet) empty() bool { return ts.tree.Empty() }

func (ts *timerSet) size() int { return ts.tree.Size() }

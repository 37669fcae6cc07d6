package scheduler

import (
	"sync"
	"time"
)

// pendingClass distinguishes capability completions, which are guaranteed to
// eventually resolve, from indefinite waits, which resolve only if something
// chooses to wake them. The distinction drives deadlock detection: a run with
// outstanding capability calls must idle, while a run left with nothing but
// indefinite waits is stuck.
type pendingClass int

const (
	pendingCapability pendingClass = iota
	pendingWait
)

// Pending is a one-shot wake registration for a suspended task. Exactly one
// Pending exists per context blocked on an asynchronous capability or an
// indefinite wait. Resolve and Fail may be called from any goroutine; the
// first call wins and later calls are no-ops.
type Pending struct {
	s        *Scheduler
	t        *task
	class    pendingClass
	parkedAt time.Time

	// cancelOp interrupts the underlying asynchronous operation, if it can
	// be interrupted. Invoked at most once, on task cancellation.
	cancelOp func()

	once sync.Once
}

// Resolve wakes the suspended task successfully with the given values. The
// shim installed by the capability registry prepends the ok flag, so the
// script observes the values as the capability's return values.
func (p *Pending) Resolve(values ...any) {
	p.once.Do(func() {
		p.s.events <- event{pending: p, args: append([]any{true}, values...)}
	})
}

// Fail wakes the suspended task with a capability failure. The failure is
// delivered to the script as an error raised at the capability call site.
func (p *Pending) Fail(err error) {
	p.once.Do(func() {
		p.s.events <- event{pending: p, args: []any{false, err.Error()}}
	})
}

// abandon marks the registration dead without waking the task. Any later
// Resolve or Fail still enqueues an event, but the scheduler discards events
// whose registration is no longer live.
func (p *Pending) abandon() {
	if p.cancelOp != nil {
		p.cancelOp()
		p.cancelOp = nil
	}
}

// event is the single cross-goroutine handoff in the scheduler: I/O worker
// goroutines produce events, the scheduling goroutine consumes them.
type event struct {
	// pending wake: resume the registered task with args.
	pending *Pending
	args    []any

	// thunk injection: run fn on the scheduling goroutine. Used by external
	// sources (for example an HTTP server) to start new tasks.
	thunk func()
}

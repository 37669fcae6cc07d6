package scheduler

// State is the lifecycle state of a scheduled task.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateSuspended
	StateRunnable
	StateCompleted
	StateFailed
	StateCancelled
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateRunnable:
		return "runnable"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Kind records which primitive created a task.
type Kind int

const (
	// KindImmediate tasks (spawn, and the root task) run synchronously to
	// their first suspension point before control returns to the caller.
	KindImmediate Kind = iota
	// KindDeferred tasks run after the current resumption pass drains.
	KindDeferred
	// KindDelayed tasks run after a minimum wall-clock time has elapsed.
	KindDelayed
)

func (k Kind) String() string {
	switch k {
	case KindImmediate:
		return "immediate"
	case KindDeferred:
		return "deferred"
	case KindDelayed:
		return "delayed"
	}
	return "unknown"
}

// parkKind records why a suspended task is parked and which structure owns
// its wake-up. A task is parked in at most one place at a time.
type parkKind int

const (
	parkNone    parkKind = iota
	parkTimer            // waiting in the timer set
	parkPending          // waiting on an asynchronous capability or wake signal
)

// task wraps an ExecutionContext with scheduling metadata. All fields are
// owned by the scheduling goroutine.
type task struct {
	id    uint64
	kind  Kind
	state State
	ctx   ExecutionContext

	// resumeArgs are the arguments for the next resumption. For tasks that
	// have not started yet these are the call arguments of the scheduled
	// function.
	resumeArgs []any

	parked  parkKind
	timer   *timerEntry // set while parked == parkTimer
	pending *Pending    // set while parked == parkPending

	results []any
	err     error

	// onDone hooks run on the scheduling goroutine when the task reaches a
	// terminal state. Used by capabilities that hand results back across
	// goroutines (for example HTTP request handlers).
	onDone []func(*task)
}

func (t *task) settle(state State, results []any, err error) {
	t.state = state
	t.results = results
	t.err = err
	t.parked = parkNone
	t.timer = nil
	t.pending = nil
	if t.ctx != nil {
		t.ctx.Close()
	}
	for _, fn := range t.onDone {
		fn(t)
	}
	t.onDone = nil
}

// Handle identifies a scheduled task. Handles are only safe to use on the
// scheduling goroutine while the scheduler is running, or from any goroutine
// after Run has returned.
type Handle struct {
	t *task
	s *Scheduler
}

// ID returns the task's unique, monotonically assigned identifier.
func (h *Handle) ID() uint64 { return h.t.id }

// State returns the task's current lifecycle state.
func (h *Handle) State() State { return h.t.state }

// Kind returns which primitive created the task.
func (h *Handle) Kind() Kind { return h.t.kind }

// Err returns the task's failure, or nil if it has not failed.
func (h *Handle) Err() error { return h.t.err }

// Results returns the values the task returned, once completed.
func (h *Handle) Results() []any { return h.t.results }

// OnDone registers fn to run on the scheduling goroutine when the task
// reaches a terminal state. If the task is already terminal, fn runs
// immediately.
func (h *Handle) OnDone(fn func(state State, results []any, err error)) {
	wrap := func(t *task) { fn(t.state, t.results, t.err) }
	if h.t.state.Terminal() {
		wrap(h.t)
		return
	}
	h.t.onDone = append(h.t.onDone, wrap)
}

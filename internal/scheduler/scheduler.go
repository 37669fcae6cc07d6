// Package scheduler drives cooperative script execution contexts to
// completion. It reconciles the single-threaded, coroutine-based execution
// model of the embedded interpreter with the host's multi-goroutine
// asynchronous I/O: at most one context runs at any instant, all scheduler
// state is owned by the goroutine running the event loop, and I/O completions
// cross back in through a single buffered event channel.
//
// Ordering guarantees: spawned tasks run synchronously, depth-first, to their
// first suspension before control returns to the spawner; deferred tasks run
// breadth-first after the current resumption pass drains; delayed tasks never
// run before their requested wake time, and equal deadlines fire in
// registration order.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const eventBuffer = 256

// Scheduler owns every runnable and suspended execution context for one run.
// All methods except Run must be called on the scheduling goroutine (that is,
// from code executing inside a resumed context).
type Scheduler struct {
	logger *slog.Logger

	events chan event

	ready    []*task // current pass, FIFO
	deferred []*task // next pass, FIFO
	timers   *timerSet

	// pendings holds live wake registrations. capabilityOps counts the
	// subset backed by in-flight asynchronous operations.
	pendings      map[*Pending]struct{}
	capabilityOps int

	// externalSources counts long-lived task producers (for example a
	// listening HTTP server). While any are registered the loop never
	// reaches quiescence.
	externalSources int

	current *task
	root    *task
	nextID  uint64

	ctx context.Context // run context, for capability I/O
}

// New creates a scheduler. The logger is used to report non-root task
// failures, which do not abort the run.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger.With("component", "scheduler"),
		events:   make(chan event, eventBuffer),
		timers:   newTimerSet(),
		pendings: make(map[*Pending]struct{}),
	}
}

// Context returns the context of the current run. Capabilities derive their
// I/O contexts from it so that cancelling the run interrupts in-flight work.
func (s *Scheduler) Context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Current returns the handle of the task executing right now, or nil when
// called outside a resumption.
func (s *Scheduler) Current() *Handle {
	if s.current == nil {
		return nil
	}
	return &Handle{t: s.current, s: s}
}

func (s *Scheduler) newTask(ctx ExecutionContext, kind Kind, args []any) *task {
	s.nextID++
	return &task{
		id:         s.nextID,
		kind:       kind,
		state:      StateCreated,
		ctx:        ctx,
		resumeArgs: args,
	}
}

// Run submits root as the initial task and drives the event loop to
// quiescence: no runnable task, no pending timer, no outstanding capability
// call, no registered external source. It returns the root task's failure,
// if any; non-root failures are logged and do not abort the loop.
func (s *Scheduler) Run(ctx context.Context, root ExecutionContext, args []any) error {
	s.ctx = ctx
	t := s.newTask(root, KindImmediate, args)
	s.root = t
	s.resume(t, t.resumeArgs)

	if err := s.loop(ctx); err != nil {
		return err
	}
	if s.root.state == StateFailed {
		return s.root.err
	}
	return nil
}

// loop runs scheduling passes until quiescence or context cancellation.
func (s *Scheduler) loop(ctx context.Context) error {
	for {
		s.drainEvents()
		s.fireDueTimers(time.Now())

		// Promote deferred work once the current pass has drained.
		if len(s.ready) == 0 && len(s.deferred) > 0 {
			s.ready = s.deferred
			s.deferred = nil
		}

		if len(s.ready) > 0 {
			t := s.ready[0]
			s.ready = s.ready[1:]
			s.resume(t, t.resumeArgs)
			continue
		}

		if s.quiescent() {
			return nil
		}

		// Nothing runnable. If only indefinite waits remain and nothing can
		// ever wake them, fail them rather than blocking forever.
		if s.timers.empty() && s.capabilityOps == 0 && s.externalSources == 0 {
			if s.failStranded() {
				continue
			}
		}

		if err := s.idle(ctx); err != nil {
			return err
		}
	}
}

// idle blocks until the next timer fires, an event arrives, or the run
// context is cancelled.
func (s *Scheduler) idle(ctx context.Context) error {
	var timerC <-chan time.Time
	if wake, ok := s.timers.nextWake(); ok {
		d := time.Until(wake)
		if d < 0 {
			d = 0
		}
		tm := time.NewTimer(d)
		defer tm.Stop()
		timerC = tm.C
	}

	select {
	case ev := <-s.events:
		s.handleEvent(ev)
	case <-timerC:
	case <-ctx.Done():
		s.shutdown()
		return ctx.Err()
	}
	return nil
}

// drainEvents handles every event already queued, without blocking.
func (s *Scheduler) drainEvents() {
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		default:
			return
		}
	}
}

func (s *Scheduler) handleEvent(ev event) {
	if ev.thunk != nil {
		ev.thunk()
		return
	}
	p := ev.pending
	if _, live := s.pendings[p]; !live {
		// The task was cancelled while the operation was in flight; the
		// result is discarded.
		return
	}
	s.release(p)
	t := p.t
	if t.state != StateSuspended {
		panic(fmt.Sprintf("scheduler: waking task %d in state %s", t.id, t.state))
	}
	args := ev.args
	if p.class == pendingWait {
		// Indefinite waits resume with the actual elapsed time.
		args = []any{true, time.Since(p.parkedAt).Seconds()}
	}
	s.makeRunnable(t, args)
}

// fireDueTimers moves every elapsed timer entry into the ready queue, in
// ascending wake order.
func (s *Scheduler) fireDueTimers(now time.Time) {
	for _, e := range s.timers.popDue(now) {
		t := e.task
		t.parked = parkNone
		t.timer = nil
		s.makeRunnable(t, e.wakeArgs(now))
	}
}

func (s *Scheduler) makeRunnable(t *task, args []any) {
	if t.state.Terminal() {
		panic(fmt.Sprintf("scheduler: task %d resumed after reaching state %s", t.id, t.state))
	}
	t.state = StateRunnable
	t.parked = parkNone
	t.resumeArgs = args
	s.ready = append(s.ready, t)
}

// resume transfers control into a task until it suspends or finishes.
// Reentrant: a task that spawns runs its child from inside its own
// resumption.
func (s *Scheduler) resume(t *task, args []any) {
	if t.state.Terminal() {
		panic(fmt.Sprintf("scheduler: resuming task %d in terminal state %s", t.id, t.state))
	}
	prev := s.current
	s.current = t
	t.state = StateRunning
	t.resumeArgs = nil
	out := t.ctx.Resume(args)
	s.current = prev

	switch out.Kind {
	case OutcomeCompleted:
		s.releaseParked(t)
		t.settle(StateCompleted, out.Values, nil)
	case OutcomeFailed:
		s.releaseParked(t)
		t.settle(StateFailed, nil, out.Err)
		if t != s.root {
			s.logger.Error("task failed", "task_id", t.id, "kind", t.kind.String(), "error", out.Err)
		}
	case OutcomeYielded:
		t.state = StateSuspended
		if t.parked == parkNone {
			// A bare yield with no registration behaves like an indefinite
			// wait; the deadlock rule applies if nothing can wake it.
			s.parkPending(t, pendingWait, nil)
		}
	}
}

// quiescent reports whether the run is finished: nothing runnable, no timer
// pending, no capability outstanding, no wait registration left, and no
// external source that could produce new work.
func (s *Scheduler) quiescent() bool {
	return len(s.ready) == 0 &&
		len(s.deferred) == 0 &&
		s.timers.empty() &&
		len(s.pendings) == 0 &&
		s.externalSources == 0
}

// failStranded delivers ErrDeadlock to every task blocked on an indefinite
// wait. Reports whether any task was woken.
func (s *Scheduler) failStranded() bool {
	var stranded []*Pending
	for p := range s.pendings {
		if p.class == pendingWait {
			stranded = append(stranded, p)
		}
	}
	for _, p := range stranded {
		s.release(p)
		s.logger.Warn("waking deadlocked task", "task_id", p.t.id)
		s.makeRunnable(p.t, []any{false, ErrDeadlock.Error()})
	}
	return len(stranded) > 0
}

// shutdown cancels every live task when the run context is cancelled.
func (s *Scheduler) shutdown() {
	for p := range s.pendings {
		p.abandon()
		delete(s.pendings, p)
		p.t.settle(StateCancelled, nil, nil)
	}
	s.capabilityOps = 0
	for _, t := range s.ready {
		t.settle(StateCancelled, nil, nil)
	}
	s.ready = nil
	for _, t := range s.deferred {
		t.settle(StateCancelled, nil, nil)
	}
	s.deferred = nil
	for _, e := range s.timers.drain() {
		e.task.settle(StateCancelled, nil, nil)
	}
}

// releaseParked drops any wake registration a task still holds. A task
// normally sheds its registration when it is woken, but a script can finish
// with one still live (for example by trapping the suspending call in pcall);
// the leftover registration must not fire against a terminal task.
func (s *Scheduler) releaseParked(t *task) {
	switch t.parked {
	case parkTimer:
		s.timers.remove(t.timer)
	case parkPending:
		p := t.pending
		p.abandon()
		s.release(p)
	}
	t.parked = parkNone
	t.timer = nil
}

func (s *Scheduler) release(p *Pending) {
	delete(s.pendings, p)
	if p.class == pendingCapability {
		s.capabilityOps--
	}
	p.t.pending = nil
}

func (s *Scheduler) parkPending(t *task, class pendingClass, cancelOp func()) *Pending {
	p := &Pending{
		s:        s,
		t:        t,
		class:    class,
		parkedAt: time.Now(),
		cancelOp: cancelOp,
	}
	t.parked = parkPending
	t.pending = p
	s.pendings[p] = struct{}{}
	if class == pendingCapability {
		s.capabilityOps++
	}
	return p
}

// Spawn creates a task for ctx and runs it immediately, synchronously, until
// its first suspension point or completion, before returning to the caller.
func (s *Scheduler) Spawn(ctx ExecutionContext, args []any) *Handle {
	t := s.newTask(ctx, KindImmediate, args)
	s.resume(t, t.resumeArgs)
	return &Handle{t: t, s: s}
}

// Defer creates a task that runs only after the current resumption pass
// finishes. Deferred tasks never interleave with work already in flight in
// the same pass.
func (s *Scheduler) Defer(ctx ExecutionContext, args []any) *Handle {
	t := s.newTask(ctx, KindDeferred, args)
	t.state = StateRunnable
	s.deferred = append(s.deferred, t)
	return &Handle{t: t, s: s}
}

// Delay creates a task additionally gated on a minimum elapsed wall-clock
// time. A non-positive delay means "as soon as possible" and is equivalent
// to Defer.
func (s *Scheduler) Delay(d time.Duration, ctx ExecutionContext, args []any) *Handle {
	if d <= 0 {
		h := s.Defer(ctx, args)
		h.t.kind = KindDelayed
		return h
	}
	t := s.newTask(ctx, KindDelayed, args)
	t.state = StateSuspended
	t.parked = parkTimer
	callArgs := args
	t.timer = s.timers.add(t, time.Now().Add(d), func(time.Time) []any { return callArgs })
	return &Handle{t: t, s: s}
}

// Wait parks the currently running task for at least d. The task must yield
// immediately after this call; it is resumed with (true, elapsedSeconds)
// where elapsed may exceed d under load. A non-positive d resolves on the
// next scheduling pass.
func (s *Scheduler) Wait(d time.Duration) {
	t := s.mustCurrent("wait")
	if d < 0 {
		d = 0
	}
	start := time.Now()
	t.parked = parkTimer
	t.timer = s.timers.add(t, start.Add(d), func(now time.Time) []any {
		return []any{true, now.Sub(start).Seconds()}
	})
}

// WaitIndefinite parks the currently running task until the returned Pending
// is resolved by another task or capability. Subject to deadlock detection.
func (s *Scheduler) WaitIndefinite() *Pending {
	t := s.mustCurrent("wait")
	return s.parkPending(t, pendingWait, nil)
}

// RegisterPending parks the currently running task on an in-flight
// asynchronous capability call. cancelOp, if non-nil, is invoked when the
// task is cancelled while the operation is still outstanding. The task must
// yield immediately after this call.
func (s *Scheduler) RegisterPending(cancelOp func()) *Pending {
	t := s.mustCurrent("capability call")
	return s.parkPending(t, pendingCapability, cancelOp)
}

// SubmitExternal schedules fn to run on the scheduling goroutine. Safe to
// call from any goroutine while the loop is running. Used by external task
// sources to start new contexts.
func (s *Scheduler) SubmitExternal(fn func()) {
	s.events <- event{thunk: fn}
}

// AddExternalSource registers a long-lived producer of tasks, keeping the
// loop alive until RemoveExternalSource is called. Scheduling-goroutine only.
func (s *Scheduler) AddExternalSource() { s.externalSources++ }

// RemoveExternalSource unregisters a producer added with AddExternalSource.
func (s *Scheduler) RemoveExternalSource() {
	if s.externalSources == 0 {
		panic("scheduler: RemoveExternalSource without matching Add")
	}
	s.externalSources--
}

// Cancel transitions a runnable or suspended task to Cancelled, releasing
// any timer, wait registration, or pending capability call it holds exactly
// once. Cancelling an already-terminal task is a no-op. A task cannot cancel
// itself: that returns ErrInvalidCancellation.
func (s *Scheduler) Cancel(h *Handle) error {
	t := h.t
	if t == s.current {
		return ErrInvalidCancellation
	}
	if t.state.Terminal() {
		return nil
	}

	if t.parked != parkNone {
		s.releaseParked(t)
	} else {
		s.ready = removeTask(s.ready, t)
		s.deferred = removeTask(s.deferred, t)
	}
	t.settle(StateCancelled, nil, nil)
	return nil
}

func (s *Scheduler) mustCurrent(op string) *task {
	if s.current == nil {
		panic(fmt.Sprintf("scheduler: %s outside a running task", op))
	}
	return s.current
}

func removeTask(q []*task, t *task) []*task {
	for i, qt := range q {
		if qt == t {
			return append(q[:i], q[i+1:]...)
		}
	}
	return q
}

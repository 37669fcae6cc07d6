package scheduler

import "errors"

// ErrInvalidCancellation is returned when a task attempts to cancel itself
// while running. Cancelling an already-terminal task is a no-op, not an
// error.
var ErrInvalidCancellation = errors.New("cannot cancel the currently running task")

// ErrDeadlock is delivered to tasks blocked on an indefinite wait when the
// scheduler proves nothing can ever wake them: no runnable work, no pending
// timers, and no outstanding capability calls. Surfacing the stall as an
// explicit task failure keeps the run observable instead of blocking forever.
var ErrDeadlock = errors.New("deadlock: task is waiting but nothing can resume it")

package scheduler

// ExecutionContext is a suspendable unit of script execution, the
// interpreter-side analogue of a coroutine. The scheduler owns a context
// exclusively once it has been handed off and is the only caller of Resume.
//
// Values crossing the boundary are opaque to the scheduler: resume arguments
// and yielded/returned values are passed through untouched, and the adapter
// that implements this interface converts them to and from interpreter types.
type ExecutionContext interface {
	// Resume transfers control into the context with the given arguments and
	// runs it until it yields, returns, or fails.
	Resume(args []any) Outcome

	// Close releases interpreter resources held by the context. Called once,
	// after the context reaches a terminal state. Closing a context never
	// resumes it.
	Close()
}

// OutcomeKind classifies the result of a single Resume call.
type OutcomeKind int

const (
	// OutcomeYielded means the context suspended voluntarily and can be
	// resumed again later.
	OutcomeYielded OutcomeKind = iota
	// OutcomeCompleted means the context returned normally. Terminal.
	OutcomeCompleted
	// OutcomeFailed means the context raised an unhandled error. Terminal.
	OutcomeFailed
)

// Outcome is the result of resuming an ExecutionContext.
type Outcome struct {
	Kind   OutcomeKind
	Values []any // yielded or returned values
	Err    error // set when Kind is OutcomeFailed
}

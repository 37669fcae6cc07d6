package runtime

import (
	"errors"
	"io"
	"log/slog"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/luavm"
	"github.com/me/luart/internal/scheduler"
)

// ErrFrozen is returned when a capability attempts to install a global after
// the namespace has been frozen.
var ErrFrozen = errors.New("sandbox namespace is frozen")

// Module is a capability module. Register builds the module's value (usually
// a table of functions); the host installs it under Name before freezing the
// namespace.
type Module interface {
	Name() string
	Register(env *Env) (lua.LValue, error)
}

// Env is the narrow surface the host exposes to capability modules during
// registration and execution.
type Env struct {
	VM     *luavm.VM
	Sched  *scheduler.Scheduler
	Logger *slog.Logger

	// Stdout is where script-visible output (console, print) goes. Defaults
	// to os.Stdout; tests inject a buffer.
	Stdout io.Writer

	// Args are the script arguments exposed through the process capability.
	Args []string

	// Exit terminates the runtime process. Injectable so tests can observe
	// exit codes without dying.
	Exit func(code int)

	// HTTPTimeout bounds individual network capability calls.
	HTTPTimeout time.Duration

	host *Host
}

// L returns the interpreter state. Registration-time and capability-call-time
// use only; all access happens on the scheduling goroutine.
func (e *Env) L() *lua.LState {
	return e.VM.L
}

// SetGlobal installs an additional top-level name (beyond the module's own
// table). Fails once the namespace is frozen.
func (e *Env) SetGlobal(name string, v lua.LValue) error {
	if e.host.frozen {
		return ErrFrozen
	}
	e.VM.L.SetGlobal(name, v)
	return nil
}

// Async wraps a suspending Go function with the scheduler resumption shim.
// The raw function must register a wake-up with the scheduler and then yield;
// see scheduler.RegisterPending.
func (e *Env) Async(raw lua.LGFunction) (lua.LValue, error) {
	return e.VM.WrapAsync(raw)
}

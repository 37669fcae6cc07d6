// Package globals provides the capability modules installed into the
// sandboxed namespace: console, fs, net, process, and task. Each module
// registers a table of functions with the host; asynchronous capabilities
// suspend the calling context and hand completion back to the scheduler
// through its pending-registration contract.
package globals

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/runtime"
	"github.com/me/luart/internal/scheduler"
)

const handleTypeName = "task.handle"

// Task exposes the scheduling primitives to scripts: spawn, defer, delay,
// wait, and cancel.
type Task struct {
	env      *runtime.Env
	handleMT *lua.LTable
}

// NewTask creates the task capability module.
func NewTask() *Task { return &Task{} }

func (t *Task) Name() string { return "task" }

func (t *Task) Register(env *runtime.Env) (lua.LValue, error) {
	t.env = env
	L := env.L()

	t.handleMT = L.NewTypeMetatable(handleTypeName)
	t.handleMT.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		h := t.checkHandle(L, 1)
		L.Push(lua.LString("task.handle: " + h.State().String()))
		return 1
	}))

	tbl := L.NewTable()
	tbl.RawSetString("spawn", L.NewFunction(t.spawn))
	tbl.RawSetString("defer", L.NewFunction(t.deferTask))
	tbl.RawSetString("delay", L.NewFunction(t.delay))
	tbl.RawSetString("cancel", L.NewFunction(t.cancel))

	wait, err := env.Async(t.wait)
	if err != nil {
		return nil, err
	}
	tbl.RawSetString("wait", wait)
	return tbl, nil
}

// spawn creates a new task and runs it immediately, synchronously, until its
// first suspension point or completion, before returning to the caller.
func (t *Task) spawn(L *lua.LState) int {
	fn := L.CheckFunction(1)
	h := t.env.Sched.Spawn(t.env.VM.NewCoroutine(fn), varargs(L, 2))
	L.Push(t.wrapHandle(L, h))
	return 1
}

// deferTask queues a new task to run after the current resumption pass
// finishes.
func (t *Task) deferTask(L *lua.LState) int {
	fn := L.CheckFunction(1)
	h := t.env.Sched.Defer(t.env.VM.NewCoroutine(fn), varargs(L, 2))
	L.Push(t.wrapHandle(L, h))
	return 1
}

// delay queues a new task gated on a minimum elapsed time in seconds. A
// non-positive delay is "as soon as possible", equivalent to defer.
func (t *Task) delay(L *lua.LState) int {
	seconds := float64(L.CheckNumber(1))
	fn := L.CheckFunction(2)
	d := time.Duration(seconds * float64(time.Second))
	h := t.env.Sched.Delay(d, t.env.VM.NewCoroutine(fn), varargs(L, 3))
	L.Push(t.wrapHandle(L, h))
	return 1
}

// wait suspends the calling task. With a numeric argument it parks for at
// least that many seconds; with no argument it parks until something wakes
// it. Returns the actual elapsed seconds, which may exceed the request.
// Suspending: installed through the async shim.
func (t *Task) wait(L *lua.LState) int {
	if L.GetTop() == 0 || L.Get(1) == lua.LNil {
		t.env.Sched.WaitIndefinite()
	} else {
		seconds := float64(L.CheckNumber(1))
		t.env.Sched.Wait(time.Duration(seconds * float64(time.Second)))
	}
	return L.Yield()
}

// cancel transitions a runnable or suspended task to cancelled. Cancelling a
// finished task is a no-op; a task cancelling itself is an error.
func (t *Task) cancel(L *lua.LState) int {
	h := t.checkHandle(L, 1)
	if err := t.env.Sched.Cancel(h); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (t *Task) wrapHandle(L *lua.LState, h *scheduler.Handle) lua.LValue {
	ud := L.NewUserData()
	ud.Value = h
	L.SetMetatable(ud, t.handleMT)
	return ud
}

func (t *Task) checkHandle(L *lua.LState, n int) *scheduler.Handle {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(*scheduler.Handle)
	if !ok {
		L.ArgError(n, "task handle expected")
	}
	return h
}

// varargs collects stack values from position n onward as scheduler resume
// arguments.
func varargs(L *lua.LState, n int) []any {
	top := L.GetTop()
	if top < n {
		return nil
	}
	args := make([]any, 0, top-n+1)
	for i := n; i <= top; i++ {
		args = append(args, L.Get(i))
	}
	return args
}

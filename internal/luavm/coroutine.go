package luavm

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/diag"
	"github.com/me/luart/internal/scheduler"
)

// Coroutine implements scheduler.ExecutionContext over a Lua coroutine.
// Resume arguments may be Go values or lua.LValue; yielded and returned
// values are handed to the scheduler as lua.LValue, untouched.
type Coroutine struct {
	vm     *VM
	co     *lua.LState
	fn     *lua.LFunction
	cancel context.CancelFunc
}

// NewCoroutine creates a fresh coroutine that will run fn when first resumed.
func (v *VM) NewCoroutine(fn *lua.LFunction) *Coroutine {
	co, cancel := v.L.NewThread()
	return &Coroutine{vm: v, co: co, fn: fn, cancel: cancel}
}

// Resume transfers control into the coroutine until it yields, returns, or
// raises an error.
func (c *Coroutine) Resume(args []any) scheduler.Outcome {
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = ToLua(c.co, a)
	}

	// Resume from whichever thread is executing right now: spawn runs its
	// child from inside the parent's resumption, so the resumer is not
	// always the main state.
	resumer := c.vm.L
	if cur := c.vm.L.G.CurrentThread; cur != nil {
		resumer = cur
	}
	st, err, values := resumer.Resume(c.co, c.fn, largs...)
	switch {
	case err != nil:
		return scheduler.Outcome{Kind: scheduler.OutcomeFailed, Err: wrapLuaError(err)}
	case st == lua.ResumeOK:
		return scheduler.Outcome{Kind: scheduler.OutcomeCompleted, Values: asAny(values)}
	default:
		return scheduler.Outcome{Kind: scheduler.OutcomeYielded, Values: asAny(values)}
	}
}

// Close releases the coroutine's interpreter resources. The coroutine is
// never resumed afterwards.
func (c *Coroutine) Close() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func asAny(values []lua.LValue) []any {
	if len(values) == 0 {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// wrapLuaError lifts an interpreter failure into a structured ScriptError.
func wrapLuaError(err error) error {
	apiErr, ok := err.(*lua.ApiError)
	if !ok {
		return diag.New(err.Error(), "")
	}
	msg := apiErr.Object.String()
	if apiErr.Object == lua.LNil {
		msg = apiErr.Error()
	}
	return diag.New(msg, apiErr.StackTrace)
}

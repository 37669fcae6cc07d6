package luavm

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// asyncShim adapts the scheduler's resumption convention to Lua error
// semantics. A suspending capability yields with no values; the scheduler
// later resumes the coroutine with (true, results...) on success or
// (false, message) on failure. The shim strips the flag and turns the
// failure arm into an error raised at the capability's call site.
const asyncShim = `
local raw = ...
local function check(ok, ...)
	if not ok then
		error((...), 2)
	end
	return ...
end
return function(...)
	return check(raw(...))
end
`

// WrapAsync wraps a suspending Go function with the resumption shim. The
// returned value is the function capability modules install into the
// namespace.
func (v *VM) WrapAsync(raw lua.LGFunction) (lua.LValue, error) {
	chunk, err := v.L.Load(strings.NewReader(asyncShim), "async")
	if err != nil {
		return nil, fmt.Errorf("compile async shim: %w", err)
	}
	v.L.Push(chunk)
	v.L.Push(v.L.NewFunction(raw))
	if err := v.L.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("build async shim: %w", err)
	}
	wrapped := v.L.Get(-1)
	v.L.Pop(1)
	return wrapped, nil
}

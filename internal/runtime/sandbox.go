package runtime

import (
	lua "github.com/yuin/gopher-lua"
)

// buildSandboxEnv creates the frozen execution environment for script
// chunks: an empty proxy table that reads through to the real globals and
// rejects every write. Because the proxy holds no keys itself, assignments
// to both new and existing top-level names trip __newindex and fail at the
// interpreter call site.
func buildSandboxEnv(L *lua.LState) *lua.LTable {
	globals := L.G.Global

	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", globals)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.Get(2)
		L.RaiseError("sandbox violation: cannot set global %q (namespace is frozen)", key.String())
		return 0
	}))
	mt.RawSetString("__metatable", lua.LString("locked"))
	L.SetMetatable(proxy, mt)
	return proxy
}

// readonlyProxy wraps a capability module's table in a read-through proxy
// that rejects writes to both new and existing keys. Values that are not
// plain tables, or that already carry a metatable (for example a
// read-through environment table), are returned unchanged; their module owns
// their access semantics.
func readonlyProxy(L *lua.LState, name string, v lua.LValue) lua.LValue {
	tbl, ok := v.(*lua.LTable)
	if !ok || L.GetMetatable(tbl) != lua.LNil {
		return v
	}
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", tbl)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.Get(2)
		L.RaiseError("sandbox violation: cannot set %s.%s (namespace is frozen)", name, key.String())
		return 0
	}))
	mt.RawSetString("__metatable", lua.LString("locked"))
	L.SetMetatable(proxy, mt)
	return proxy
}

// Package luavm adapts the embedded Lua interpreter (gopher-lua) to the
// scheduler's execution-context contract. It owns interpreter state creation
// with a curated standard library, source compilation, coroutine lifecycle,
// and value conversion between Go and Lua.
package luavm

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// VM wraps one interpreter instance. Not safe for concurrent use; the
// scheduler guarantees all interpreter access happens on one goroutine.
type VM struct {
	L *lua.LState
}

// New creates an interpreter with the curated standard library: base (minus
// the code-loading escape hatches), table, string, math, and coroutine. The
// io and os libraries are never opened; host access goes through capability
// modules only.
func New() (*VM, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // base depends on it, stripped below
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open %s library: %w", lib.name, err)
		}
	}

	// Remove everything that loads code or reaches outside the sandbox.
	for _, name := range []string{
		"dofile", "loadfile", "loadstring", "load",
		"require", "module", "package",
	} {
		L.SetGlobal(name, lua.LNil)
	}

	return &VM{L: L}, nil
}

// Compile compiles source under the given diagnostic name without running it.
func (v *VM) Compile(source, name string) (*lua.LFunction, error) {
	fn, err := v.L.Load(strings.NewReader(source), name)
	if err != nil {
		return nil, wrapLuaError(err)
	}
	return fn, nil
}

// Close releases the interpreter.
func (v *VM) Close() {
	v.L.Close()
}

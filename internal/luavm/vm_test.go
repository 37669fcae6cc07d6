package luavm

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/diag"
	"github.com/me/luart/internal/scheduler"
)

func newVM(t *testing.T) *VM {
	t.Helper()
	vm, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(vm.Close)
	return vm
}

func compile(t *testing.T, vm *VM, source string) *lua.LFunction {
	t.Helper()
	fn, err := vm.Compile(source, "test")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return fn
}

func TestCoroutineCompletes(t *testing.T) {
	vm := newVM(t)
	co := vm.NewCoroutine(compile(t, vm, `return 1 + 1`))

	out := co.Resume(nil)
	if out.Kind != scheduler.OutcomeCompleted {
		t.Fatalf("kind = %v, err = %v", out.Kind, out.Err)
	}
	if len(out.Values) != 1 || out.Values[0].(lua.LNumber) != 2 {
		t.Errorf("values = %v, want [2]", out.Values)
	}
}

func TestCoroutineReceivesArguments(t *testing.T) {
	vm := newVM(t)
	co := vm.NewCoroutine(compile(t, vm, `local a, b = ... return a .. b`))

	out := co.Resume([]any{"foo", "bar"})
	if out.Kind != scheduler.OutcomeCompleted {
		t.Fatalf("kind = %v, err = %v", out.Kind, out.Err)
	}
	if got := out.Values[0].(lua.LString); got != "foobar" {
		t.Errorf("result = %q", got)
	}
}

// Suspension points are Go functions that yield; the values passed to the
// next resume become the Go function's return values at the Lua call site.
func TestYieldFromGoFunctionRoundTrip(t *testing.T) {
	vm := newVM(t)
	vm.L.SetGlobal("suspend", vm.L.NewFunction(func(L *lua.LState) int {
		return L.Yield()
	}))
	co := vm.NewCoroutine(compile(t, vm, `local v = suspend() return v .. "!"`))

	out := co.Resume(nil)
	if out.Kind != scheduler.OutcomeYielded {
		t.Fatalf("first resume: kind = %v, err = %v", out.Kind, out.Err)
	}

	out = co.Resume([]any{"resumed"})
	if out.Kind != scheduler.OutcomeCompleted {
		t.Fatalf("second resume: kind = %v, err = %v", out.Kind, out.Err)
	}
	if got := out.Values[0].(lua.LString); got != "resumed!" {
		t.Errorf("result = %q", got)
	}
}

func TestWrapAsyncSuccessStripsOkFlag(t *testing.T) {
	vm := newVM(t)
	wrapped, err := vm.WrapAsync(func(L *lua.LState) int {
		return L.Yield()
	})
	if err != nil {
		t.Fatalf("WrapAsync: %v", err)
	}
	vm.L.SetGlobal("op", wrapped)

	co := vm.NewCoroutine(compile(t, vm, `local a, b = op() return a, b`))
	if out := co.Resume(nil); out.Kind != scheduler.OutcomeYielded {
		t.Fatalf("kind = %v, err = %v", out.Kind, out.Err)
	}

	out := co.Resume([]any{true, "result", 7})
	if out.Kind != scheduler.OutcomeCompleted {
		t.Fatalf("kind = %v, err = %v", out.Kind, out.Err)
	}
	if len(out.Values) != 2 {
		t.Fatalf("values = %v", out.Values)
	}
	if out.Values[0].(lua.LString) != "result" || out.Values[1].(lua.LNumber) != 7 {
		t.Errorf("values = %v", out.Values)
	}
}

func TestWrapAsyncFailureRaisesAtCallSite(t *testing.T) {
	vm := newVM(t)
	wrapped, err := vm.WrapAsync(func(L *lua.LState) int {
		return L.Yield()
	})
	if err != nil {
		t.Fatalf("WrapAsync: %v", err)
	}
	vm.L.SetGlobal("op", wrapped)

	co := vm.NewCoroutine(compile(t, vm, `op()`))
	if out := co.Resume(nil); out.Kind != scheduler.OutcomeYielded {
		t.Fatalf("kind = %v, err = %v", out.Kind, out.Err)
	}

	out := co.Resume([]any{false, "capability exploded"})
	if out.Kind != scheduler.OutcomeFailed {
		t.Fatalf("kind = %v, want failed", out.Kind)
	}
	se, ok := out.Err.(*diag.ScriptError)
	if !ok {
		t.Fatalf("err = %T, want *diag.ScriptError", out.Err)
	}
	if !strings.Contains(se.Message, "capability exploded") {
		t.Errorf("message = %q", se.Message)
	}
}

func TestRuntimeErrorCarriesLocationAndTraceback(t *testing.T) {
	vm := newVM(t)
	co := vm.NewCoroutine(compile(t, vm, "local x\nx()"))

	out := co.Resume(nil)
	if out.Kind != scheduler.OutcomeFailed {
		t.Fatalf("kind = %v", out.Kind)
	}
	se, ok := out.Err.(*diag.ScriptError)
	if !ok {
		t.Fatalf("err = %T", out.Err)
	}
	if se.Source != "test" || se.Line != 2 {
		t.Errorf("location = %s:%d, want test:2 (message %q)", se.Source, se.Line, se.Message)
	}
}

func TestCuratedLibraryOmitsEscapeHatches(t *testing.T) {
	vm := newVM(t)
	for _, name := range []string{"io", "os", "dofile", "loadfile", "loadstring", "load", "require", "package"} {
		if v := vm.L.GetGlobal(name); v != lua.LNil {
			t.Errorf("global %q = %v, want nil", name, v)
		}
	}
	for _, name := range []string{"pairs", "tostring", "table", "string", "math", "coroutine"} {
		if v := vm.L.GetGlobal(name); v == lua.LNil {
			t.Errorf("global %q missing from curated library", name)
		}
	}
}

func TestValueConversionRoundTrip(t *testing.T) {
	vm := newVM(t)

	in := map[string]any{
		"name":  "job",
		"count": float64(3),
		"ok":    true,
		"tags":  []any{"a", "b"},
	}
	lv := ToLua(vm.L, in)
	out, ok := ToGo(lv).(map[string]any)
	if !ok {
		t.Fatalf("round trip produced %T", ToGo(lv))
	}
	if out["name"] != "job" || out["count"] != float64(3) || out["ok"] != true {
		t.Errorf("round trip = %#v", out)
	}
	tags, ok := out["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("tags = %#v", out["tags"])
	}
}

func TestToGoCutsCycles(t *testing.T) {
	vm := newVM(t)
	tbl := vm.L.NewTable()
	tbl.RawSetString("self", tbl)

	out, ok := ToGo(tbl).(map[string]any)
	if !ok {
		t.Fatalf("ToGo = %T", ToGo(tbl))
	}
	if out["self"] != nil {
		t.Errorf("cycle not cut: %#v", out["self"])
	}
}

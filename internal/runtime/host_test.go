package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/diag"
)

// probe is a minimal capability module for exercising the host: note records
// strings from the script, boom raises.
type probe struct {
	notes []string
}

func (p *probe) Name() string { return "probe" }

func (p *probe) Register(env *Env) (lua.LValue, error) {
	L := env.L()
	tbl := L.NewTable()
	tbl.RawSetString("note", L.NewFunction(func(L *lua.LState) int {
		p.notes = append(p.notes, L.CheckString(1))
		return 0
	}))
	tbl.RawSetString("boom", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("capability exploded")
		return 0
	}))
	return tbl, nil
}

func newTestHost(t *testing.T, mods ...Module) *Host {
	t.Helper()
	h, err := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(h.Close)
	if err := h.Register(mods...); err != nil {
		t.Fatalf("register: %v", err)
	}
	return h
}

func TestRunExecutesRootToCompletion(t *testing.T) {
	p := &probe{}
	h := newTestHost(t, p)
	err := h.Run(context.Background(), `
		probe.note("first")
		probe.note("second")
	`, "test")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(p.notes) != 2 || p.notes[0] != "first" || p.notes[1] != "second" {
		t.Fatalf("notes = %v", p.notes)
	}
}

func TestRunFailureIsScriptErrorWithLocation(t *testing.T) {
	h := newTestHost(t)
	err := h.Run(context.Background(), "\nerror(\"boom\")", "test")
	if err == nil {
		t.Fatal("expected failure")
	}
	var scriptErr *diag.ScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("error %T is not a ScriptError", err)
	}
	if scriptErr.Source != "test" || scriptErr.Line != 2 {
		t.Errorf("location = %s:%d, want test:2", scriptErr.Source, scriptErr.Line)
	}
}

func TestCompileErrorIsScriptError(t *testing.T) {
	h := newTestHost(t)
	err := h.Run(context.Background(), "this is not a script", "broken")
	if err == nil {
		t.Fatal("expected compile error")
	}
	var scriptErr *diag.ScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("error %T is not a ScriptError", err)
	}
}

func TestRegisterAfterFreezeFails(t *testing.T) {
	h := newTestHost(t)
	h.Freeze()
	if err := h.Register(&probe{}); !errors.Is(err, ErrFrozen) {
		t.Fatalf("err = %v, want ErrFrozen", err)
	}
}

func TestSetGlobalAfterFreezeFails(t *testing.T) {
	h := newTestHost(t)
	h.Freeze()
	if err := h.env.SetGlobal("late", lua.LTrue); !errors.Is(err, ErrFrozen) {
		t.Fatalf("err = %v, want ErrFrozen", err)
	}
}

func TestSandboxRejectsGlobalWrites(t *testing.T) {
	p := &probe{}
	h := newTestHost(t, p)
	err := h.Run(context.Background(), `
		local ok, err = pcall(function() leaked = 1 end)
		probe.note(tostring(ok) .. " " .. tostring(err))
		ok = pcall(function() tostring = nil end)
		probe.note(tostring(ok))
	`, "test")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(p.notes) != 2 {
		t.Fatalf("notes = %v", p.notes)
	}
	if !strings.HasPrefix(p.notes[0], "false") || !strings.Contains(p.notes[0], "sandbox violation") {
		t.Errorf("new-global note = %q", p.notes[0])
	}
	if p.notes[1] != "false" {
		t.Errorf("overwrite note = %q", p.notes[1])
	}
}

func TestModuleTableRejectsWrites(t *testing.T) {
	p := &probe{}
	h := newTestHost(t, p)
	err := h.Run(context.Background(), `
		local ok, err = pcall(function() probe.note = nil end)
		probe.note(tostring(ok) .. " " .. tostring(err))
	`, "test")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(p.notes[0], "false") || !strings.Contains(p.notes[0], "sandbox violation") {
		t.Errorf("note = %q", p.notes[0])
	}
}

func TestCapabilityErrorTrappableByScript(t *testing.T) {
	p := &probe{}
	h := newTestHost(t, p)
	err := h.Run(context.Background(), `
		local ok, err = pcall(probe.boom)
		probe.note(tostring(ok) .. " " .. tostring(err))
	`, "test")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(p.notes[0], "false") || !strings.Contains(p.notes[0], "capability exploded") {
		t.Errorf("note = %q", p.notes[0])
	}
}

func TestSecondRunReusesFrozenNamespace(t *testing.T) {
	p := &probe{}
	h := newTestHost(t, p)
	for i := 0; i < 2; i++ {
		if err := h.Run(context.Background(), `probe.note("pass")`, "test"); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(p.notes) != 2 {
		t.Fatalf("notes = %v", p.notes)
	}
}

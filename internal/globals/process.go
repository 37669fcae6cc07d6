package globals

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"

	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/runtime"
)

// Process exposes the host process to scripts: script arguments, environment
// variables, exit, and child process execution.
type Process struct {
	env *runtime.Env
}

// NewProcess creates the process capability module.
func NewProcess() *Process { return &Process{} }

func (p *Process) Name() string { return "process" }

func (p *Process) Register(env *runtime.Env) (lua.LValue, error) {
	p.env = env
	L := env.L()

	args := L.CreateTable(len(env.Args), 0)
	for _, a := range env.Args {
		args.Append(lua.LString(a))
	}

	tbl := L.NewTable()
	tbl.RawSetString("args", args)
	tbl.RawSetString("env", p.envTable(L))
	tbl.RawSetString("exit", L.NewFunction(p.exit))

	spawn, err := env.Async(p.spawn)
	if err != nil {
		return nil, fmt.Errorf("wrap process.spawn: %w", err)
	}
	tbl.RawSetString("spawn", spawn)
	return tbl, nil
}

// envTable builds a live view over the host environment: reads go through
// os.Getenv, writes through os.Setenv. The table itself stays empty so that
// variables cannot be enumerated, only looked up.
func (p *Process) envTable(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		v, ok := os.LookupEnv(L.CheckString(2))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	}))
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if err := os.Setenv(key, L.CheckString(3)); err != nil {
			L.RaiseError("setenv %s: %s", key, err.Error())
		}
		return 0
	}))
	mt.RawSetString("__metatable", lua.LString("locked"))
	L.SetMetatable(tbl, mt)
	return tbl
}

// exit terminates the runtime with the given code (default 0).
func (p *Process) exit(L *lua.LState) int {
	p.env.Exit(L.OptInt(1, 0))
	return 0
}

// spawn runs a child process to completion, capturing its output. The calling
// task suspends while the child runs. Resolves with a result table carrying
// ok, code, stdout, and stderr; failing to start the process raises at the
// call site. Suspending: installed through the async shim.
func (p *Process) spawn(L *lua.LState) int {
	program := L.CheckString(1)
	var params []string
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		tbl.ForEach(func(_, v lua.LValue) {
			params = append(params, lua.LVAsString(v))
		})
	}

	cmd := exec.CommandContext(p.env.Sched.Context(), program, params...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	pend := p.env.Sched.RegisterPending(nil)
	go func() {
		err := cmd.Run()
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				pend.Fail(fmt.Errorf("spawn %s: %w", program, err))
				return
			}
			code = exitErr.ExitCode()
		}
		pend.Resolve(map[string]any{
			"ok":     code == 0,
			"code":   code,
			"stdout": stdout.String(),
			"stderr": stderr.String(),
		})
	}()
	return L.Yield()
}

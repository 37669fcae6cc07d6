package globals

import (
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/runtime"
)

// FS exposes filesystem access to scripts. Reads, writes, and removals are
// asynchronous capabilities: the calling task suspends while a worker
// goroutine performs the I/O and the result comes back through the
// scheduler's completion handoff.
type FS struct {
	env *runtime.Env
}

// NewFS creates the filesystem capability module.
func NewFS() *FS { return &FS{} }

func (f *FS) Name() string { return "fs" }

func (f *FS) Register(env *runtime.Env) (lua.LValue, error) {
	f.env = env
	L := env.L()

	tbl := L.NewTable()
	for name, raw := range map[string]lua.LGFunction{
		"readFile":   f.readFile,
		"writeFile":  f.writeFile,
		"readDir":    f.readDir,
		"writeDir":   f.writeDir,
		"removeFile": f.removeFile,
		"removeDir":  f.removeDir,
	} {
		wrapped, err := env.Async(raw)
		if err != nil {
			return nil, fmt.Errorf("wrap fs.%s: %w", name, err)
		}
		tbl.RawSetString(name, wrapped)
	}
	tbl.RawSetString("isFile", L.NewFunction(f.isFile))
	tbl.RawSetString("isDir", L.NewFunction(f.isDir))
	return tbl, nil
}

func (f *FS) readFile(L *lua.LState) int {
	path := L.CheckString(1)
	p := f.env.Sched.RegisterPending(nil)
	go func() {
		data, err := os.ReadFile(path)
		if err != nil {
			p.Fail(err)
			return
		}
		p.Resolve(string(data))
	}()
	return L.Yield()
}

func (f *FS) writeFile(L *lua.LState) int {
	path := L.CheckString(1)
	contents := L.CheckString(2)
	p := f.env.Sched.RegisterPending(nil)
	go func() {
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			p.Fail(err)
			return
		}
		p.Resolve()
	}()
	return L.Yield()
}

func (f *FS) readDir(L *lua.LState) int {
	path := L.CheckString(1)
	p := f.env.Sched.RegisterPending(nil)
	go func() {
		entries, err := os.ReadDir(path)
		if err != nil {
			p.Fail(err)
			return
		}
		names := make([]any, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		p.Resolve(names)
	}()
	return L.Yield()
}

func (f *FS) writeDir(L *lua.LState) int {
	path := L.CheckString(1)
	p := f.env.Sched.RegisterPending(nil)
	go func() {
		if err := os.MkdirAll(path, 0o755); err != nil {
			p.Fail(err)
			return
		}
		p.Resolve()
	}()
	return L.Yield()
}

func (f *FS) removeFile(L *lua.LState) int {
	path := L.CheckString(1)
	p := f.env.Sched.RegisterPending(nil)
	go func() {
		if err := os.Remove(path); err != nil {
			p.Fail(err)
			return
		}
		p.Resolve()
	}()
	return L.Yield()
}

func (f *FS) removeDir(L *lua.LState) int {
	path := L.CheckString(1)
	p := f.env.Sched.RegisterPending(nil)
	go func() {
		if err := os.RemoveAll(path); err != nil {
			p.Fail(err)
			return
		}
		p.Resolve()
	}()
	return L.Yield()
}

func (f *FS) isFile(L *lua.LState) int {
	info, err := os.Stat(L.CheckString(1))
	L.Push(lua.LBool(err == nil && info.Mode().IsRegular()))
	return 1
}

func (f *FS) isDir(L *lua.LState) int {
	info, err := os.Stat(L.CheckString(1))
	L.Push(lua.LBool(err == nil && info.IsDir()))
	return 1
}

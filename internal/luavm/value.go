package luavm

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a Go value to a Lua value. lua.LValue passes through
// unchanged, so scheduler resume arguments that originated in the interpreter
// keep their identity. Slices become array tables, string-keyed maps become
// hash tables.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []byte:
		return lua.LString(x)
	case []any:
		tbl := L.CreateTable(len(x), 0)
		for _, e := range x {
			tbl.Append(ToLua(L, e))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(x))
		for k, e := range x {
			tbl.RawSetString(k, ToLua(L, e))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", x))
	}
}

// ToGo converts a Lua value to a plain Go value. Tables with only positive
// integer keys become []any; everything else becomes map[string]any with
// non-string keys stringified. Cyclic tables are cut off rather than
// recursed into forever.
func ToGo(v lua.LValue) any {
	return toGo(v, map[*lua.LTable]bool{})
}

func toGo(v lua.LValue, seen map[*lua.LTable]bool) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		return float64(x)
	case *lua.LTable:
		if seen[x] {
			return nil
		}
		seen[x] = true
		defer delete(seen, x)

		n := x.MaxN()
		if n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, toGo(x.RawGetInt(i), seen))
			}
			return arr
		}
		m := make(map[string]any)
		x.ForEach(func(k, val lua.LValue) {
			key, ok := k.(lua.LString)
			if !ok {
				key = lua.LString(k.String())
			}
			m[string(key)] = toGo(val, seen)
		})
		return m
	default:
		return x.String()
	}
}

package globals

import (
	"fmt"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/runtime"
)

const formatMaxDepth = 4

var consoleColors = map[string]string{
	"reset":  "\x1b[0m",
	"black":  "\x1b[30m",
	"red":    "\x1b[31m",
	"green":  "\x1b[32m",
	"yellow": "\x1b[33m",
	"blue":   "\x1b[34m",
	"purple": "\x1b[35m",
	"cyan":   "\x1b[36m",
	"white":  "\x1b[37m",
}

var consoleStyles = map[string]string{
	"reset": "\x1b[0m",
	"bold":  "\x1b[1m",
	"dim":   "\x1b[2m",
}

// Console exposes formatted output to scripts, plus manual color and style
// control. It also replaces the interpreter's print with its own writer so
// all script output can be captured in one place.
type Console struct {
	env   *runtime.Env
	color bool
}

// NewConsole creates the console capability module. When color is false the
// set_color/set_style calls still validate their arguments but write no
// escape codes.
func NewConsole(color bool) *Console { return &Console{color: color} }

func (c *Console) Name() string { return "console" }

func (c *Console) Register(env *runtime.Env) (lua.LValue, error) {
	c.env = env
	L := env.L()

	tbl := L.NewTable()
	tbl.RawSetString("log", L.NewFunction(c.log))
	tbl.RawSetString("info", L.NewFunction(c.leveled("[INFO]", "blue")))
	tbl.RawSetString("warn", L.NewFunction(c.leveled("[WARN]", "yellow")))
	tbl.RawSetString("error", L.NewFunction(c.leveled("[ERROR]", "red")))
	tbl.RawSetString("format", L.NewFunction(c.format))
	tbl.RawSetString("setColor", L.NewFunction(c.setColor))
	tbl.RawSetString("resetColor", L.NewFunction(c.resetColor))
	tbl.RawSetString("setStyle", L.NewFunction(c.setStyle))
	tbl.RawSetString("resetStyle", L.NewFunction(c.resetStyle))

	// Route the interpreter's print through the console writer.
	if err := env.SetGlobal("print", L.NewFunction(c.log)); err != nil {
		return nil, err
	}
	return tbl, nil
}

func (c *Console) log(L *lua.LState) int {
	fmt.Fprintln(c.env.Stdout, formatArgs(L))
	return 0
}

func (c *Console) leveled(label, color string) lua.LGFunction {
	return func(L *lua.LState) int {
		prefix := label
		if c.color {
			prefix = consoleColors[color] + label + consoleColors["reset"]
		}
		fmt.Fprintln(c.env.Stdout, prefix+" "+formatArgs(L))
		return 0
	}
}

func (c *Console) format(L *lua.LState) int {
	L.Push(lua.LString(formatArgs(L)))
	return 1
}

func (c *Console) setColor(L *lua.LState) int {
	name := L.CheckString(1)
	code, ok := consoleColors[name]
	if !ok {
		L.ArgError(1, "unknown color "+strconv.Quote(name))
	}
	if c.color {
		fmt.Fprint(c.env.Stdout, code)
	}
	return 0
}

func (c *Console) resetColor(L *lua.LState) int {
	if c.color {
		fmt.Fprint(c.env.Stdout, consoleColors["reset"])
	}
	return 0
}

func (c *Console) setStyle(L *lua.LState) int {
	name := L.CheckString(1)
	code, ok := consoleStyles[name]
	if !ok {
		L.ArgError(1, "unknown style "+strconv.Quote(name))
	}
	if c.color {
		fmt.Fprint(c.env.Stdout, code)
	}
	return 0
}

func (c *Console) resetStyle(L *lua.LState) int {
	if c.color {
		fmt.Fprint(c.env.Stdout, consoleStyles["reset"])
	}
	return 0
}

// formatArgs renders every argument on the stack, space-separated. Top-level
// strings print raw; strings nested in tables are quoted.
func formatArgs(L *lua.LState) string {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, formatValue(L.Get(i), 0))
	}
	return strings.Join(parts, " ")
}

func formatValue(v lua.LValue, depth int) string {
	switch x := v.(type) {
	case lua.LString:
		if depth > 0 {
			return strconv.Quote(string(x))
		}
		return string(x)
	case *lua.LTable:
		if depth >= formatMaxDepth {
			return "{...}"
		}
		return formatTable(x, depth+1)
	default:
		return v.String()
	}
}

func formatTable(tbl *lua.LTable, depth int) string {
	var b strings.Builder
	b.WriteString("{")
	first := true
	n := tbl.MaxN()
	for i := 1; i <= n; i++ {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(formatValue(tbl.RawGetInt(i), depth))
	}
	tbl.ForEach(func(k, v lua.LValue) {
		if num, ok := k.(lua.LNumber); ok {
			if i := int(num); i >= 1 && i <= n && lua.LNumber(i) == num {
				return // already rendered in the array part
			}
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(k.String())
		b.WriteString(" = ")
		b.WriteString(formatValue(v, depth))
	})
	b.WriteString("}")
	return b.String()
}

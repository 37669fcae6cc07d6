package diag

import (
	"strings"
	"testing"
)

func TestNewParsesLocation(t *testing.T) {
	tests := []struct {
		name    string
		message string
		source  string
		line    int
		rest    string
	}{
		{
			name:    "simple",
			message: "main.lua:3: attempt to call a nil value",
			source:  "main.lua",
			line:    3,
			rest:    "attempt to call a nil value",
		},
		{
			name:    "path with colon-free name",
			message: "scripts/job.lua:12: bad argument #1",
			source:  "scripts/job.lua",
			line:    12,
			rest:    "bad argument #1",
		},
		{
			name:    "no location",
			message: "something went wrong",
			source:  "",
			line:    0,
			rest:    "something went wrong",
		},
		{
			name:    "colon in message tail",
			message: "main.lua:7: expected string: got nil",
			source:  "main.lua",
			line:    7,
			rest:    "expected string: got nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.message, "")
			if e.Source != tt.source || e.Line != tt.line || e.Message != tt.rest {
				t.Errorf("New(%q) = {%q %d %q}, want {%q %d %q}",
					tt.message, e.Source, e.Line, e.Message, tt.source, tt.line, tt.rest)
			}
		})
	}
}

func TestRenderPlain(t *testing.T) {
	e := New("main.lua:3: boom", "stack traceback:\n\tmain.lua:3: in main chunk")
	out := Render(e, false)

	if !strings.HasPrefix(out, "[ERROR] main.lua:3: boom\n") {
		t.Errorf("unexpected report:\n%s", out)
	}
	if !strings.Contains(out, "stack traceback:") {
		t.Errorf("traceback missing:\n%s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain render contains ANSI escapes:\n%q", out)
	}
}

func TestRenderColor(t *testing.T) {
	e := New("boom", "")
	out := Render(e, true)
	if !strings.Contains(out, ansiRed) {
		t.Errorf("color render missing red label:\n%q", out)
	}
	if !strings.HasSuffix(out, ansiReset+" boom\n") {
		t.Errorf("unexpected color layout:\n%q", out)
	}
}

func TestErrorStringIncludesLocation(t *testing.T) {
	e := New("main.lua:3: boom", "")
	if got := e.Error(); got != "main.lua:3: boom" {
		t.Errorf("Error() = %q", got)
	}
}

// Package diag converts interpreter-level failures into structured,
// user-facing reports. Formatting is a pure function of the failure value;
// the package holds no state and never decides where output goes.
package diag

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

// ScriptError is a structured script failure: the interpreter's message plus
// whatever source location and traceback could be recovered from it.
type ScriptError struct {
	Message   string // error message with any location prefix stripped
	Source    string // diagnostic chunk name, if present in the message
	Line      int    // 1-based source line, 0 if unknown
	Traceback string // interpreter call-stack trace, may be empty
}

func (e *ScriptError) Error() string {
	if e.Source != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, e.Message)
	}
	return e.Message
}

// New builds a ScriptError from a raw interpreter message and traceback.
// Messages of the form "source:line: text" have their location lifted into
// the structured fields; anything else is kept verbatim.
func New(message, traceback string) *ScriptError {
	e := &ScriptError{Message: message, Traceback: strings.TrimRight(traceback, "\n")}

	// "source:line: text": source itself may contain colons (e.g. paths),
	// so scan for the last ":<digits>:" separator.
	rest := message
	for i := len(rest) - 1; i > 0; i-- {
		if rest[i] != ':' {
			continue
		}
		head := rest[:i]
		j := strings.LastIndexByte(head, ':')
		if j <= 0 {
			continue
		}
		line, err := strconv.Atoi(head[j+1:])
		if err != nil || line <= 0 {
			continue
		}
		e.Source = head[:j]
		e.Line = line
		e.Message = strings.TrimSpace(rest[i+1:])
		break
	}
	return e
}

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
)

// Render produces the human-readable report for a script failure. With color
// enabled the label and location are highlighted the way the runtime's
// console styles its own output.
func Render(e *ScriptError, color bool) string {
	var b strings.Builder

	label := "[ERROR]"
	if color {
		label = ansiBold + ansiRed + label + ansiReset
	}
	b.WriteString(label)
	b.WriteString(" ")

	if e.Source != "" && e.Line > 0 {
		loc := fmt.Sprintf("%s:%d", e.Source, e.Line)
		if color {
			loc = ansiBold + loc + ansiReset
		}
		b.WriteString(loc)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	b.WriteString("\n")

	if e.Traceback != "" {
		tb := e.Traceback
		if color {
			tb = ansiDim + tb + ansiReset
		}
		b.WriteString(tb)
		b.WriteString("\n")
	}
	return b.String()
}

// ColorEnabled reports whether ANSI color should be used for the given
// output file, honoring the NO_COLOR convention.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the CLI with the given arguments, capturing cobra's own
// output. Script output still goes to the process stdout; tests observe
// scripts through filesystem side effects instead.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeScript(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.lua")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "luart") {
		t.Errorf("output = %q", out)
	}
}

func TestRunScriptSideEffects(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker.txt")
	script := writeScript(t, `
		task.defer(function()
			fs.writeFile(process.args[1], "ran:" .. process.args[2])
		end)
	`)
	if _, err := execute(t, "run", script, marker, "42"); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("marker not written: %v", err)
	}
	if string(data) != "ran:42" {
		t.Errorf("marker = %q", data)
	}
}

func TestRunMissingScriptFile(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "absent.lua"))
	if err == nil {
		t.Fatal("expected error for missing script")
	}
	if errors.Is(err, ErrScriptFailed) {
		t.Fatal("missing file is a CLI error, not a script failure")
	}
}

func TestRunScriptFailureReturnsSentinel(t *testing.T) {
	script := writeScript(t, `error("deliberate")`)
	_, err := execute(t, "run", "--no-color", script)
	if !errors.Is(err, ErrScriptFailed) {
		t.Fatalf("err = %v, want ErrScriptFailed", err)
	}
}

func TestEvalScriptFailureReturnsSentinel(t *testing.T) {
	_, err := execute(t, "eval", "--no-color", `error("inline")`)
	if !errors.Is(err, ErrScriptFailed) {
		t.Fatalf("err = %v, want ErrScriptFailed", err)
	}
}

func TestRunRequiresScriptArgument(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Fatal("expected usage error")
	}
}

func TestConfigFileApplied(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "luart.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: error\nno_color: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	marker := filepath.Join(dir, "marker.txt")
	script := writeScript(t, `fs.writeFile(process.args[1], "ok")`)
	if _, err := execute(t, "run", "--config", cfgPath, script, marker); err != nil {
		t.Fatalf("run with config: %v", err)
	}
	if cfg.LogLevel != "error" || !cfg.NoColor {
		t.Errorf("config not applied: %+v", cfg)
	}
}

func TestConfigFileMissing(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "whatever.lua")
	if err == nil {
		t.Fatal("expected config load error")
	}
}

// Package luart embeds the script runtime in a Go program. A Runtime wires
// the default capability set (console, fs, net, process, task) into a
// sandboxed interpreter and runs scripts to completion, scheduler and all.
//
//	rt, err := luart.New(luart.WithArgs(os.Args[2:]))
//	if err != nil { ... }
//	defer rt.Close()
//	err = rt.RunFile(ctx, "script.lua")
package luart

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/luart/internal/config"
	"github.com/me/luart/internal/diag"
	"github.com/me/luart/internal/globals"
	"github.com/me/luart/internal/runtime"
)

// Runtime is one interpreter instance with the default capability set
// installed and the global namespace frozen. A Runtime runs one script at a
// time; it is not safe for concurrent use.
type Runtime struct {
	host *runtime.Host
}

type settings struct {
	cfg      config.Config
	logger   *slog.Logger
	stdout   io.Writer
	args     []string
	exit     func(int)
	useColor *bool
}

// Option configures a Runtime under construction.
type Option func(*settings)

// WithConfig applies a loaded configuration file.
func WithConfig(cfg config.Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithLogger sets the runtime's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithStdout redirects script output. Defaults to os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(s *settings) { s.stdout = w }
}

// WithArgs sets the arguments visible to scripts as process.args.
func WithArgs(args []string) Option {
	return func(s *settings) { s.args = args }
}

// WithExit overrides process termination for process.exit. Defaults to
// os.Exit.
func WithExit(fn func(code int)) Option {
	return func(s *settings) { s.exit = fn }
}

// WithColor forces console color on or off, overriding terminal detection.
func WithColor(enabled bool) Option {
	return func(s *settings) { s.useColor = &enabled }
}

// New builds a Runtime with the default capability set.
func New(opts ...Option) (*Runtime, error) {
	s := settings{
		cfg:    config.Default(),
		logger: slog.Default(),
		stdout: os.Stdout,
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(&s)
	}

	color := false
	if s.useColor != nil {
		color = *s.useColor
	} else if f, ok := s.stdout.(*os.File); ok {
		color = diag.ColorEnabled(f)
	}
	if s.cfg.NoColor {
		color = false
	}

	hostOpts := []runtime.Option{
		runtime.WithLogger(s.logger),
		runtime.WithStdout(s.stdout),
		runtime.WithArgs(s.args),
		runtime.WithExit(s.exit),
		runtime.WithHTTPTimeout(time.Duration(s.cfg.Net.TimeoutSeconds * float64(time.Second))),
	}
	host, err := runtime.New(hostOpts...)
	if err != nil {
		return nil, err
	}
	if err := host.Register(
		globals.NewConsole(color),
		globals.NewFS(),
		globals.NewNet(),
		globals.NewProcess(),
		globals.NewTask(),
	); err != nil {
		host.Close()
		return nil, err
	}
	host.Freeze()
	return &Runtime{host: host}, nil
}

// Run executes source under the given diagnostic name and drives all
// spawned tasks to completion. A script failure comes back as a
// *diag.ScriptError.
func (r *Runtime) Run(ctx context.Context, source, name string) error {
	return r.host.Run(ctx, source, name)
}

// RunFile reads and executes a script file. The diagnostic name is the
// file's base name without extension.
func (r *Runtime) RunFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	name := filepath.Base(path)
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	return r.Run(ctx, string(data), name)
}

// Close releases the interpreter. The Runtime must not be used afterwards.
func (r *Runtime) Close() {
	r.host.Close()
}

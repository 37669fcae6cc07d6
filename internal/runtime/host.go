// Package runtime hosts one embedded interpreter instance: it builds the
// sandboxed global namespace, installs capability modules, freezes the
// namespace, and runs scripts to completion as root tasks of the scheduler.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/luavm"
	"github.com/me/luart/internal/scheduler"
)

// DefaultHTTPTimeout bounds network capability calls unless configured
// otherwise.
const DefaultHTTPTimeout = 30 * time.Second

// Host owns one interpreter instance and its scheduler for the duration of a
// run. The namespace is built and frozen during initialization and never
// mutated afterwards; one Host serves one script run at a time.
type Host struct {
	logger *slog.Logger
	vm     *luavm.VM
	sched  *scheduler.Scheduler
	env    *Env

	sandbox *lua.LTable
	frozen  bool
	modules []Module

	stdout      io.Writer
	args        []string
	exit        func(int)
	httpTimeout time.Duration
}

// Option configures a Host before its namespace is built.
type Option func(*Host)

// WithLogger sets the logger for the host and scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithArgs sets the script arguments exposed through the process capability.
func WithArgs(args []string) Option {
	return func(h *Host) { h.args = args }
}

// WithStdout redirects script-visible output.
func WithStdout(w io.Writer) Option {
	return func(h *Host) { h.stdout = w }
}

// WithExit overrides process termination, for tests.
func WithExit(fn func(code int)) Option {
	return func(h *Host) { h.exit = fn }
}

// WithHTTPTimeout bounds individual network capability calls.
func WithHTTPTimeout(d time.Duration) Option {
	return func(h *Host) { h.httpTimeout = d }
}

// New creates a host with an empty capability set. Register modules, then
// Freeze (or let the first Run freeze implicitly).
func New(opts ...Option) (*Host, error) {
	h := &Host{
		logger:      slog.Default(),
		stdout:      os.Stdout,
		exit:        os.Exit,
		httpTimeout: DefaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "host")

	vm, err := luavm.New()
	if err != nil {
		return nil, fmt.Errorf("create interpreter: %w", err)
	}
	h.vm = vm
	h.sched = scheduler.New(h.logger)
	h.env = &Env{
		VM:          vm,
		Sched:       h.sched,
		Logger:      h.logger,
		Stdout:      h.stdout,
		Args:        h.args,
		Exit:        h.exit,
		HTTPTimeout: h.httpTimeout,
		host:        h,
	}
	return h, nil
}

// Register installs a capability module into the namespace. Must happen
// before the namespace is frozen.
func (h *Host) Register(mods ...Module) error {
	for _, m := range mods {
		if h.frozen {
			return fmt.Errorf("register %s: %w", m.Name(), ErrFrozen)
		}
		v, err := m.Register(h.env)
		if err != nil {
			return fmt.Errorf("register %s: %w", m.Name(), err)
		}
		h.vm.L.SetGlobal(m.Name(), readonlyProxy(h.vm.L, m.Name(), v))
		h.modules = append(h.modules, m)
		h.logger.Debug("capability registered", "module", m.Name())
	}
	return nil
}

// Freeze seals the namespace. After freezing, attempts to add or replace
// top-level names fail at the interpreter call site with a sandbox
// violation; they are never fatal to the process.
func (h *Host) Freeze() {
	if h.frozen {
		return
	}
	h.sandbox = buildSandboxEnv(h.vm.L)
	h.frozen = true
	h.logger.Debug("namespace frozen", "modules", len(h.modules))
}

// Scheduler exposes the host's scheduler, for embedders that await task
// handles after a run.
func (h *Host) Scheduler() *scheduler.Scheduler {
	return h.sched
}

// Run compiles source under the given diagnostic name, submits it as the
// root task, and drives the scheduler's event loop to quiescence. The root
// task's failure is returned as a *diag.ScriptError; non-root failures are
// logged and do not abort the run.
func (h *Host) Run(ctx context.Context, source, name string) error {
	h.Freeze()

	runID := uuid.New().String()
	logger := h.logger.With("run_id", runID)

	fn, err := h.vm.Compile(source, name)
	if err != nil {
		return err
	}
	h.vm.L.SetFEnv(fn, h.sandbox)

	logger.Info("run started", "name", name)
	start := time.Now()
	err = h.sched.Run(ctx, h.vm.NewCoroutine(fn), nil)
	if err != nil {
		logger.Info("run failed", "name", name, "elapsed", time.Since(start), "error", err)
		return err
	}
	logger.Info("run completed", "name", name, "elapsed", time.Since(start))
	return nil
}

// Close releases the interpreter.
func (h *Host) Close() {
	h.vm.Close()
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/luart/internal/diag"
	"github.com/me/luart/pkg/luart"
)

// ErrScriptFailed signals main that the failure has already been reported
// to stderr and only the exit code remains.
var ErrScriptFailed = errors.New("script failed")

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <script> [args...]",
		Short: "Execute a script file",
		Long: `Executes a script file and drives every task it schedules to completion.
Arguments after the script path are visible to the script as process.args.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := luart.New(
				luart.WithConfig(cfg),
				luart.WithLogger(logger),
				luart.WithArgs(args[1:]),
			)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return reportScriptError(rt.RunFile(ctx, args[0]))
		},
	}
}

func newEvalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval <source>",
		Short: "Evaluate an inline script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := luart.New(
				luart.WithConfig(cfg),
				luart.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return reportScriptError(rt.Run(ctx, args[0], "eval"))
		},
	}
}

// reportScriptError pretty-prints script failures to stderr and converts
// them into the silent sentinel; other errors pass through for cobra to
// report.
func reportScriptError(err error) error {
	if err == nil {
		return nil
	}
	var scriptErr *diag.ScriptError
	if errors.As(err, &scriptErr) {
		fmt.Fprint(os.Stderr, diag.Render(scriptErr, colorForStderr()))
		return ErrScriptFailed
	}
	return err
}

// Package cli implements the luart command line: running script files,
// evaluating inline sources, and reporting the build version.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/luart/internal/config"
	"github.com/me/luart/internal/diag"
	"github.com/me/luart/internal/logging"
)

// Version is stamped by the build; "dev" for local builds.
var Version = "dev"

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
	flagNoColor   bool

	cfg    config.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the luart CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "luart",
		Short: "luart - sandboxed script runtime",
		Long: `luart executes untrusted scripts in a sandboxed namespace with a
cooperative task scheduler: scripts spawn, defer, and delay tasks while the
runtime drives asynchronous file, network, and process capabilities.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Default()
			if flagConfig != "" {
				loaded, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			// Flags set explicitly beat the config file.
			if cmd.Flags().Changed("log-level") || flagConfig == "" {
				cfg.LogLevel = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") || flagConfig == "" {
				cfg.LogFormat = flagLogFormat
			}
			if flagNoColor {
				cfg.NoColor = true
			}
			logger = logging.New(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable ANSI color output")

	root.AddCommand(
		newRunCmd(),
		newEvalCmd(),
		newVersionCmd(),
	)

	return root
}

// colorForStderr reports whether error reports should use ANSI color.
func colorForStderr() bool {
	if cfg.NoColor {
		return false
	}
	return diag.ColorEnabled(os.Stderr)
}

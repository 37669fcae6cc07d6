package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/me/luart/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		// Script failures are already rendered; everything else is ours to
		// report.
		if !errors.Is(err, cli.ErrScriptFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

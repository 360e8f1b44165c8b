// Command gooi compiles app specs and runs them through the invocation kernel.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ngalluzzo/gooi-sub004/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := cli.NewRootCommand()
	rootCmd.SilenceErrors = true
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)

	// cancel does not run after os.Exit.
	cancel()
	os.Exit(exitCode(err))
}

// exitCode maps errors without an explicit code, such as cobra argument
// errors, to a command error.
func exitCode(err error) int {
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return cli.ExitCommandError
	}
	return cli.GetExitCode(err)
}

// handleError prints errors the command did not already report.
func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) && exitErr.Code == cli.ExitFailure {
		// The command already printed the failing result.
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
}

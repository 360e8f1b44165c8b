package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ngalluzzo/gooi-sub004/internal/compiler"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // bundle output path
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile an app spec to an entrypoint bundle",
		Long: `Compile a CUE app spec into a sealed entrypoint bundle.

The argument is a CUE package directory or a single .cue or .json spec
file. Diagnostics are printed in path order; warnings do not fail the
compile.

Examples:
  gooi compile ./specs
  gooi compile ./specs -o bundle.json
  gooi compile ./specs --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the bundle to this file")

	return cmd
}

func runCompile(opts *CompileOptions, specPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	formatter.VerboseLog("Compiling %s", specPath)
	res, err := compileSpec(specPath)
	if err != nil {
		// Unreadable input is a command-level error (exit code 2)
		return formatter.fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}

	if !res.OK {
		return outputCompileErrors(formatter, res.Diagnostics)
	}

	if opts.Output != "" {
		if err := writeBundle(res.Bundle, opts.Output); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
		formatter.VerboseLog("Wrote %s", opts.Output)
	}

	return outputCompileSuccess(formatter, res, opts.Output)
}

// outputCompileSuccess outputs a successful compilation.
func outputCompileSuccess(formatter *OutputFormatter, res *compiler.Result, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(res)
	}

	b := res.Bundle
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d entrypoint(s), %d surface binding(s)\n\n",
		len(b.Entrypoints), len(b.Bindings))

	fmt.Fprintln(w, "Entrypoints:")
	for _, id := range b.SortedEntrypointIDs() {
		fmt.Fprintf(w, "  %s\n", describeEntrypoint(b.Entrypoints[id]))
	}
	fmt.Fprintln(w)

	if len(res.Diagnostics) > 0 {
		fmt.Fprintln(w, "Diagnostics:")
		for _, d := range res.Diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Artifact hash: %s\n", b.ArtifactHash)
	if outputFile != "" {
		fmt.Fprintf(w, "Wrote bundle to %s\n", outputFile)
	}
	return nil
}

func describeEntrypoint(ep ir.Entrypoint) string {
	parts := []string{fmt.Sprintf("%s: %d input(s)", ep.Key(), len(ep.Inputs))}
	if len(ep.EmitsSignals) > 0 {
		parts = append(parts, "emits "+strings.Join(ep.EmitsSignals, ", "))
	}
	if len(ep.RefreshOnSignals) > 0 {
		parts = append(parts, "refreshes on "+strings.Join(ep.RefreshOnSignals, ", "))
	}
	if len(ep.Capabilities) > 0 {
		parts = append(parts, fmt.Sprintf("%d capability call(s)", len(ep.Capabilities)))
	}
	return strings.Join(parts, ", ")
}

// outputCompileErrors outputs every diagnostic of a failed compilation.
func outputCompileErrors(formatter *OutputFormatter, diags []compiler.Diagnostic) error {
	var errCount int
	var first *compiler.Diagnostic
	for i := range diags {
		if diags[i].Severity == compiler.SeverityError {
			errCount++
			if first == nil {
				first = &diags[i]
			}
		}
	}

	if formatter.Format == "json" {
		resp := CLIResponse{Status: "error", Data: diags}
		if first != nil {
			resp.Error = &CLIError{Code: first.Code, Message: first.Message, Details: first.Path}
		}
		if err := formatter.Response(resp); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
		fmt.Fprintln(formatter.Writer)
		for _, d := range diags {
			fmt.Fprintf(formatter.Writer, "  %s\n", d)
		}
	}

	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", errCount))
}

// writeBundle writes a sealed bundle in its canonical serialization.
func writeBundle(b *ir.Bundle, filename string) error {
	data, err := ir.MarshalBundle(b)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

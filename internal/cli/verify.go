package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// VerifyResult summarizes a verified bundle.
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	ArtifactHash    string   `json:"artifactHash"`
	ArtifactVersion string   `json:"artifactVersion"`
	CompilerVersion string   `json:"compilerVersion"`
	Entrypoints     []string `json:"entrypoints"`
	Lanes           []string `json:"lanes"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <bundle.json>",
		Short: "Verify a compiled bundle",
		Long: `Verify a compiled entrypoint bundle before deployment.

Checks the artifact version, recomputes the artifact hash, and checks
every lane digest recorded in the schema artifacts. A bundle that fails
any check must not be served.

Exit codes:
  0 - Bundle verified
  1 - Bundle rejected
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runVerify(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	b, err := loadBundle(path)
	if err != nil {
		code := loadErrorCode(err)
		if code == ErrCodeVerify {
			return outputVerifyFailure(formatter, err)
		}
		return formatter.fail(ExitCommandError, code, err.Error(), nil)
	}
	formatter.VerboseLog("Artifact hash %s verified", b.ArtifactHash)

	if err := ir.VerifyLanes(b); err != nil {
		return outputVerifyFailure(formatter, err)
	}

	result := VerifyResult{
		Valid:           true,
		ArtifactHash:    b.ArtifactHash,
		ArtifactVersion: b.ArtifactVersion,
		CompilerVersion: b.CompilerVersion,
		Entrypoints:     make([]string, 0, len(b.Entrypoints)),
		Lanes:           append([]string{}, ir.AllLanes...),
	}
	for _, id := range b.SortedEntrypointIDs() {
		result.Entrypoints = append(result.Entrypoints, b.Entrypoints[id].Key())
	}
	slices.Sort(result.Entrypoints)

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Bundle verified")
	fmt.Fprintf(w, "  Artifact hash: %s\n", result.ArtifactHash)
	fmt.Fprintf(w, "  Compiler version: %s\n", result.CompilerVersion)
	fmt.Fprintf(w, "  Entrypoints: %d\n", len(result.Entrypoints))
	fmt.Fprintf(w, "  Lanes: %d verified\n", len(result.Lanes))
	return nil
}

func outputVerifyFailure(formatter *OutputFormatter, err error) error {
	if formatter.Format == "json" {
		_ = formatter.Response(CLIResponse{
			Status: "error",
			Data:   VerifyResult{Valid: false},
			Error:  &CLIError{Code: string(ir.ErrCodeArtifactIntegrity), Message: err.Error()},
		})
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Bundle verification failed")
		fmt.Fprintf(formatter.Writer, "  %v\n", err)
	}
	return WrapExitError(ExitFailure, "bundle verification failed", err)
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngalluzzo/gooi-sub004/internal/binding"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// LockCheckOptions holds flags for the lock check command.
type LockCheckOptions struct {
	*RootOptions
	Bundle         string
	Catalog        string
	HostAPIVersion string
	RuntimeHost    string
}

// NewLockCommand creates the lock command group.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect capability lockfiles",
	}
	cmd.AddCommand(newLockCheckCommand(rootOpts))
	return cmd
}

func newLockCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LockCheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <lockfile>",
		Short: "Validate a lockfile and resolve the binding plan",
		Long: `Validate a lockfile against a bundle and provider catalog, then print
the resolved binding plan.

Checks integrity digests, provider versions, host API alignment, and
that every capability the bundle requires is locked with a matching
contract hash. Each requirement resolves to local, delegated, or
unreachable for the runtime host.

Examples:
  gooi lock check gooi.lock.yaml --bundle bundle.json --catalog catalog.yaml
  gooi lock check gooi.lock.json --bundle bundle.json --catalog catalog.yaml --runtime-host edge`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockCheck(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Bundle, "bundle", "", "compiled bundle (required)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "provider catalog (required)")
	cmd.Flags().StringVar(&opts.HostAPIVersion, "host-api", ir.HostAPIVersion, "runtime host API version")
	cmd.Flags().StringVar(&opts.RuntimeHost, "runtime-host", binding.HostNode, "host the runtime executes on")

	return cmd
}

func runLockCheck(ctx context.Context, opts *LockCheckOptions, lockPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Bundle == "" || opts.Catalog == "" {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, "--bundle and --catalog are required", nil)
	}

	b, err := loadBundle(opts.Bundle)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), err.Error(), nil)
	}
	lock, err := binding.LoadLockfile(lockPath)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}
	catalog, err := binding.LoadCatalog(opts.Catalog)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}

	plan, err := binding.Activate(ctx, binding.Activation{
		Bundle:         b,
		Lockfile:       lock,
		Catalog:        catalog,
		RuntimeHost:    opts.RuntimeHost,
		HostAPIVersion: opts.HostAPIVersion,
	})
	if err != nil {
		e := ir.AsError(err, ir.ErrCodeBinding)
		_ = formatter.Error(string(e.Code), e.Message, e.Details)
		return WrapExitError(ExitFailure, "lockfile check failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(plan)
	}
	return outputPlanText(formatter, plan)
}

func outputPlanText(formatter *OutputFormatter, plan *binding.Plan) error {
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Lockfile aligned (host API %s, runtime %s)\n\n", plan.HostAPIVersion, plan.RuntimeHost)

	if len(plan.Resolutions) == 0 {
		fmt.Fprintln(w, "No capability requirements.")
		return nil
	}

	fmt.Fprintln(w, "Resolutions:")
	for _, r := range plan.Resolutions {
		port := fmt.Sprintf("%s@%s", r.PortID, r.PortVersion)
		switch res := r.Resolution.(type) {
		case binding.Local:
			fmt.Fprintf(w, "  %s: local %s on %s\n", port, res.ProviderID, res.TargetHost)
		case binding.Delegated:
			fmt.Fprintf(w, "  %s: delegated to %s on %s via %s\n", port, res.ProviderID, res.TargetHost, res.DelegateRouteID)
		case binding.Unreachable:
			fmt.Fprintf(w, "  %s: unreachable (%s)\n", port, res.Reason)
		}
	}

	if n := len(plan.Unreachable()); n > 0 {
		fmt.Fprintf(w, "\n%d requirement(s) unreachable; calls to them fail with %s\n", n, ir.ErrCodeCapabilityDelegation)
	}
	return nil
}

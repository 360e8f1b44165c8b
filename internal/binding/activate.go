package binding

import (
	"context"

	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// Activation is everything needed to bind a bundle for one deployment.
type Activation struct {
	Bundle         *ir.Bundle
	Lockfile       *ir.Lockfile
	Catalog        *Catalog
	RuntimeHost    string
	HostAPIVersion string

	// Modules, when set, verifies locked module integrity.
	Modules hostport.ModuleLoader
}

// Activate validates the lockfile, checks host API alignment, resolves
// every capability requirement, and returns the binding plan.
func Activate(ctx context.Context, a Activation) (*Plan, error) {
	if err := ValidateLockfile(a.Lockfile); err != nil {
		return nil, err
	}
	if err := CheckAlignment(a.HostAPIVersion, nil, a.Lockfile); err != nil {
		return nil, err
	}
	if a.Catalog != nil {
		if err := a.Catalog.Validate(); err != nil {
			return nil, bindingError("invalid catalog: %v", err)
		}
	}

	resolutions, err := Resolve(Requirements(a.Bundle), a.Lockfile, a.Catalog, a.RuntimeHost)
	if err != nil {
		return nil, err
	}

	if a.Modules != nil {
		if err := VerifyModules(ctx, a.Modules, a.Lockfile); err != nil {
			return nil, err
		}
	}

	plan := &Plan{
		HostAPIVersion: a.Lockfile.HostAPIVersion,
		ArtifactHash:   a.Bundle.ArtifactHash,
		RuntimeHost:    a.RuntimeHost,
		Resolutions:    resolutions,
	}
	if err := plan.Validate(); err != nil {
		return nil, bindingError("%v", err)
	}
	return plan, nil
}

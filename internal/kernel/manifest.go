package kernel

import (
	"fmt"
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/binding"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// verifyManifest recomputes the bundle and lane hashes and checks the
// cross-lane references before any compiled content is trusted.
func verifyManifest(b *ir.Bundle, plan *binding.Plan, hostAPIVersion string) error {
	if b == nil {
		return ir.NewError(ir.ErrCodeArtifactIntegrity, "no bundle is loaded")
	}
	if b.ArtifactVersion != ir.ArtifactVersion {
		return ir.NewError(ir.ErrCodeArtifactAlignment, "bundle artifactVersion %q, runtime supports %q", b.ArtifactVersion, ir.ArtifactVersion)
	}
	if err := ir.VerifyBundleHash(b); err != nil {
		return ir.NewError(ir.ErrCodeArtifactIntegrity, "%v", err)
	}
	if err := ir.VerifyLanes(b); err != nil {
		return ir.NewError(ir.ErrCodeArtifactIntegrity, "%v", err)
	}
	if err := checkReferences(b); err != nil {
		return ir.NewError(ir.ErrCodeArtifactIntegrity, "%v", err)
	}

	if plan != nil {
		if plan.ArtifactHash != b.ArtifactHash {
			return ir.NewError(ir.ErrCodeArtifactAlignment, "binding plan was resolved for artifact %s, bundle is %s", plan.ArtifactHash, b.ArtifactHash).
				WithDetail("planArtifactHash", plan.ArtifactHash).
				WithDetail("bundleArtifactHash", b.ArtifactHash)
		}
		if err := binding.CheckAlignment(hostAPIVersion, plan, nil); err != nil {
			return err
		}
	}
	return nil
}

// checkReferences verifies the lanes agree with each other.
func checkReferences(b *ir.Bundle) error {
	keys := make(map[string]ir.Entrypoint, len(b.Entrypoints))
	for id, ep := range b.Entrypoints {
		if ep.ID != id {
			return fmt.Errorf("entrypoint %q is stored under id %q", ep.ID, id)
		}
		keys[ep.Key()] = ep
		if _, ok := b.SchemaArtifacts.InputSchemas[ep.Key()]; !ok {
			return fmt.Errorf("entrypoint %s has no input schema", ep.Key())
		}
	}

	for _, sb := range b.Bindings {
		ep, ok := keys[sb.EntrypointKey]
		if !ok {
			return fmt.Errorf("surface %q binds unknown entrypoint %s", sb.Surface, sb.EntrypointKey)
		}
		for field := range sb.Fields {
			if _, ok := ep.Inputs[field]; !ok {
				return fmt.Errorf("surface %q binds undeclared field %q of %s", sb.Surface, field, sb.EntrypointKey)
			}
		}
	}

	for key, roles := range b.AccessPlan.EntrypointRoles {
		if _, ok := keys[key]; !ok {
			return fmt.Errorf("access plan names unknown entrypoint %s", key)
		}
		for _, role := range roles {
			if _, ok := b.AccessPlan.RoleDefinitions[role]; !ok {
				return fmt.Errorf("entrypoint %s requires undefined role %q", key, role)
			}
		}
	}
	for id, def := range b.AccessPlan.RoleDefinitions {
		for _, parent := range def.Extends {
			if _, ok := b.AccessPlan.RoleDefinitions[parent]; !ok {
				return fmt.Errorf("role %q extends undefined role %q", id, parent)
			}
		}
	}

	for queryID, signals := range b.RefreshSubscriptions {
		ep, ok := b.Entrypoints[queryID]
		if !ok || ep.Kind != ir.KindQuery {
			return fmt.Errorf("refresh subscription names unknown query %q", queryID)
		}
		if !slices.IsSorted(signals) {
			return fmt.Errorf("refresh subscription of %q is not sorted", queryID)
		}
	}
	return nil
}

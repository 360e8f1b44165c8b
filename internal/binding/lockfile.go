package binding

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// ValidateLockfile checks lockfile structure: integrity digests, semver
// provider versions, unique provider ids, and complete capability entries.
func ValidateLockfile(lock *ir.Lockfile) error {
	if lock.AppID == "" {
		return bindingError("lockfile appId is required")
	}
	if lock.HostAPIVersion == "" {
		return bindingError("lockfile hostApiVersion is required")
	}

	seen := make(map[string]bool, len(lock.Providers))
	for i, p := range lock.Providers {
		if p.ProviderID == "" {
			return bindingError("providers[%d]: providerId is required", i)
		}
		if seen[p.ProviderID] {
			return bindingError("providers[%d]: duplicate providerId %q", i, p.ProviderID)
		}
		seen[p.ProviderID] = true

		if _, err := semver.StrictNewVersion(p.ProviderVersion); err != nil {
			return bindingError("providers[%d]: providerVersion %q is not a semantic version: %v", i, p.ProviderVersion, err)
		}
		if !ir.IsIntegrityDigest(p.Integrity) {
			return ir.NewError(ir.ErrCodeModuleIntegrity,
				"providers[%d]: integrity %q must be sha256:<64 lowercase hex>", i, p.Integrity).
				WithDetail("providerId", p.ProviderID)
		}
		for j, c := range p.Capabilities {
			if c.PortID == "" || c.PortVersion == "" {
				return bindingError("providers[%d].capabilities[%d]: portId and portVersion are required", i, j)
			}
			if !ir.IsHexDigest(c.ContractHash) {
				return bindingError("providers[%d].capabilities[%d]: contractHash must be a sha256 hex digest", i, j)
			}
		}
	}
	return nil
}

// LoadLockfile reads a lockfile from JSON or YAML. A recorded lockHash is
// verified in either format.
func LoadLockfile(path string) (*ir.Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}
	if !isYAML(path) {
		return ir.ParseLockfile(data)
	}

	var lock ir.Lockfile
	if err := decodeStrict(path, data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lockfile: %w", err)
	}
	if lock.LockHash != "" {
		h, err := ir.ComputeLockHash(&lock)
		if err != nil {
			return nil, err
		}
		if h != lock.LockHash {
			return nil, fmt.Errorf("parse lockfile: %w: recorded %s, computed %s", ir.ErrArtifactHashMismatch, lock.LockHash, h)
		}
	}
	return &lock, nil
}

// CheckAlignment requires the runtime, binding plan, and lockfile host API
// versions to be exactly equal strings.
func CheckAlignment(runtimeHostAPI string, plan *Plan, lock *ir.Lockfile) error {
	versions := map[string]any{"runtime": runtimeHostAPI}
	aligned := true
	if plan != nil {
		versions["bindingPlan"] = plan.HostAPIVersion
		aligned = aligned && plan.HostAPIVersion == runtimeHostAPI
	}
	if lock != nil {
		versions["lockfile"] = lock.HostAPIVersion
		aligned = aligned && lock.HostAPIVersion == runtimeHostAPI
	}
	if !aligned {
		return ir.NewError(ir.ErrCodeArtifactAlignment, "host API versions are not aligned").
			WithDetail("hostApiVersions", versions)
	}
	return nil
}

func bindingError(format string, args ...any) *ir.Error {
	return ir.NewError(ir.ErrCodeBinding, format, args...)
}

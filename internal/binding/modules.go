package binding

import (
	"context"
	"fmt"

	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// VerifyModules loads every locked provider module and compares its SHA-256
// to the lockfile integrity. The first mismatch is a module_integrity_failed
// error; loader failures are wrapped and returned as-is.
func VerifyModules(ctx context.Context, loader hostport.ModuleLoader, lock *ir.Lockfile) error {
	for _, p := range lock.Providers {
		data, err := loader.LoadModule(ctx, p.ProviderID, p.ProviderVersion)
		if err != nil {
			return fmt.Errorf("load module %s@%s: %w", p.ProviderID, p.ProviderVersion, err)
		}
		if got := ir.IntegrityDigest(data); got != p.Integrity {
			return ir.NewError(ir.ErrCodeModuleIntegrity,
				"module %s@%s checksum rejected", p.ProviderID, p.ProviderVersion).
				WithDetail("expected", p.Integrity).
				WithDetail("actual", got)
		}
	}
	return nil
}

// ModuleMap is an in-memory ModuleLoader keyed by "providerId@version".
type ModuleMap map[string][]byte

func (m ModuleMap) LoadModule(_ context.Context, providerID, version string) ([]byte, error) {
	data, ok := m[providerID+"@"+version]
	if !ok {
		return nil, fmt.Errorf("module %s@%s not found", providerID, version)
	}
	return data, nil
}

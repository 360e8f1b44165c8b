package binding

import (
	"context"
	"sync"

	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// MemoryProviderID is the provider id LocalPlan binds every port to.
const MemoryProviderID = "memory"

// LocalPlan binds every capability requirement of b to the in-memory
// provider on runtimeHost. It skips lockfile and catalog checks and is meant
// for development runs and conformance scenarios.
func LocalPlan(b *ir.Bundle, runtimeHost string) *Plan {
	reqs := Requirements(b)
	resolutions := make([]PortResolution, 0, len(reqs))
	for _, r := range reqs {
		resolutions = append(resolutions, PortResolution{
			PortID:       r.PortID,
			PortVersion:  r.PortVersion,
			ContractHash: r.ContractHash,
			Resolution:   Local{TargetHost: runtimeHost, ProviderID: MemoryProviderID},
		})
	}
	return &Plan{
		HostAPIVersion: ir.HostAPIVersion,
		ArtifactHash:   b.ArtifactHash,
		RuntimeHost:    runtimeHost,
		Resolutions:    resolutions,
	}
}

// MemoryProvider is a LocalProvider that keeps the last value written per
// port. "put" stores the call input and returns {"version": n}; "get"
// returns the stored value or null. Other operations fail.
//
// Thread-safety: safe for concurrent use.
type MemoryProvider struct {
	mu       sync.Mutex
	values   map[string]any
	versions map[string]int
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		values:   make(map[string]any),
		versions: make(map[string]int),
	}
}

// Invoke implements LocalProvider.
func (m *MemoryProvider) Invoke(_ context.Context, call hostport.CapabilityCall) (hostport.CapabilityOutcome, error) {
	key := call.PortID + "@" + call.PortVersion

	m.mu.Lock()
	defer m.mu.Unlock()

	switch call.Operation {
	case "put":
		m.versions[key]++
		m.values[key] = call.Input
		return hostport.CapabilityOutcome{OK: true, Output: map[string]any{"version": m.versions[key]}}, nil
	case "get":
		return hostport.CapabilityOutcome{OK: true, Output: m.values[key]}, nil
	default:
		return hostport.CapabilityOutcome{
			OK: false,
			Error: &ir.ErrorInfo{
				Code:    ir.ErrCodeCapabilityDelegation,
				Message: "memory provider does not support operation " + call.Operation,
			},
		}, nil
	}
}

// Writes returns how many puts a port has received.
func (m *MemoryProvider) Writes(portID, portVersion string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[portID+"@"+portVersion]
}

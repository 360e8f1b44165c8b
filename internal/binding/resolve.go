package binding

import (
	"cmp"
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// Requirement is one capability port a bundle needs.
type Requirement struct {
	PortID       string `json:"portId"`
	PortVersion  string `json:"portVersion"`
	ContractHash string `json:"contractHash"`
}

// Requirements collects the distinct capability requirements of a bundle,
// sorted by (portId, portVersion, contractHash).
func Requirements(b *ir.Bundle) []Requirement {
	seen := make(map[Requirement]bool)
	var out []Requirement
	for _, id := range b.SortedEntrypointIDs() {
		for _, c := range b.Entrypoints[id].Capabilities {
			r := Requirement{PortID: c.PortID, PortVersion: c.PortVersion, ContractHash: c.ContractHash}
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	slices.SortFunc(out, func(a, b Requirement) int {
		return cmp.Or(
			cmp.Compare(a.PortID, b.PortID),
			cmp.Compare(a.PortVersion, b.PortVersion),
			cmp.Compare(a.ContractHash, b.ContractHash),
		)
	})
	return out
}

// Resolve matches each requirement to exactly one locked provider and
// classifies how it is reached from runtimeHost.
//
// A port implemented by no locked provider is a binding_error; a provider
// whose contract hash differs is an artifact_alignment_error; two
// requirements with the same (portId, portVersion) but different contract
// hashes are an artifact_alignment_error.
func Resolve(reqs []Requirement, lock *ir.Lockfile, catalog *Catalog, runtimeHost string) ([]PortResolution, error) {
	if !ValidHosts[runtimeHost] {
		return nil, bindingError("unknown runtime host %q", runtimeHost)
	}

	byPort := make(map[string]Requirement, len(reqs))
	out := make([]PortResolution, 0, len(reqs))
	for _, req := range reqs {
		key := req.PortID + "@" + req.PortVersion
		if prev, ok := byPort[key]; ok {
			if prev.ContractHash != req.ContractHash {
				return nil, ir.NewError(ir.ErrCodeArtifactAlignment,
					"port %s is required with two different contract hashes", key)
			}
			continue
		}
		byPort[key] = req

		provider, err := matchProvider(req, lock)
		if err != nil {
			return nil, err
		}
		out = append(out, PortResolution{
			PortID:       req.PortID,
			PortVersion:  req.PortVersion,
			ContractHash: req.ContractHash,
			Resolution:   reach(provider, catalog, runtimeHost),
		})
	}
	return out, nil
}

func matchProvider(req Requirement, lock *ir.Lockfile) (ir.LockedProvider, error) {
	var (
		matched    []ir.LockedProvider
		mismatched []string
	)
	for _, p := range lock.Providers {
		for _, c := range p.Capabilities {
			if c.PortID != req.PortID || c.PortVersion != req.PortVersion {
				continue
			}
			if c.ContractHash == req.ContractHash {
				matched = append(matched, p)
			} else {
				mismatched = append(mismatched, p.ProviderID)
			}
		}
	}

	switch {
	case len(matched) == 1:
		return matched[0], nil
	case len(matched) > 1:
		ids := make([]string, len(matched))
		for i, p := range matched {
			ids[i] = p.ProviderID
		}
		return ir.LockedProvider{}, bindingError("port %s@%s is provided by more than one locked provider", req.PortID, req.PortVersion).
			WithDetail("providers", ids)
	case len(mismatched) > 0:
		return ir.LockedProvider{}, ir.NewError(ir.ErrCodeArtifactAlignment,
			"locked contract hash for %s@%s does not match the compiled contract", req.PortID, req.PortVersion).
			WithDetail("providers", mismatched).
			WithDetail("contractHash", req.ContractHash)
	default:
		return ir.LockedProvider{}, bindingError("no locked provider implements %s@%s", req.PortID, req.PortVersion)
	}
}

// reach classifies a provider as local, delegated, or unreachable.
func reach(p ir.LockedProvider, catalog *Catalog, runtimeHost string) Resolution {
	if catalog == nil {
		return Unreachable{Reason: "no provider catalog"}
	}
	entry, ok := catalog.Provider(p.ProviderID, p.ProviderVersion)
	if !ok {
		return Unreachable{Reason: "provider " + p.ProviderID + "@" + p.ProviderVersion + " is not in the catalog"}
	}
	if slices.Contains(entry.Hosts, runtimeHost) {
		return Local{TargetHost: runtimeHost, ProviderID: p.ProviderID}
	}
	hosts := slices.Clone(entry.Hosts)
	slices.Sort(hosts)
	for _, h := range hosts {
		if route, ok := catalog.Route(runtimeHost, h); ok {
			return Delegated{TargetHost: h, ProviderID: p.ProviderID, DelegateRouteID: route.ID}
		}
	}
	return Unreachable{Reason: "no route from " + runtimeHost + " to a host supported by " + p.ProviderID}
}

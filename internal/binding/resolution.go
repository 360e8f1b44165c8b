package binding

import (
	"encoding/json"
	"fmt"
)

// Execution hosts.
const (
	HostBrowser = "browser"
	HostNode    = "node"
	HostEdge    = "edge"
	HostWorker  = "worker"
)

// ValidHosts lists every known execution host.
var ValidHosts = map[string]bool{
	HostBrowser: true,
	HostNode:    true,
	HostEdge:    true,
	HostWorker:  true,
}

// Reachability modes.
const (
	ModeLocal       = "local"
	ModeDelegated   = "delegated"
	ModeUnreachable = "unreachable"
)

// Resolution is how a capability is fulfilled. Implementations are Local,
// Delegated, and Unreachable.
type Resolution interface {
	Mode() string
	isResolution()
}

// Local runs the provider on the runtime host.
type Local struct {
	TargetHost string `json:"targetHost"`
	ProviderID string `json:"providerId"`
}

// Delegated forwards calls to the provider on TargetHost via a route.
type Delegated struct {
	TargetHost      string `json:"targetHost"`
	ProviderID      string `json:"providerId"`
	DelegateRouteID string `json:"delegateRouteId"`
}

// Unreachable means no supported host of the provider can be reached.
type Unreachable struct {
	Reason string `json:"reason,omitempty"`
}

func (Local) Mode() string       { return ModeLocal }
func (Delegated) Mode() string   { return ModeDelegated }
func (Unreachable) Mode() string { return ModeUnreachable }

func (Local) isResolution()       {}
func (Delegated) isResolution()   {}
func (Unreachable) isResolution() {}

// PortResolution binds one (portId, portVersion) to its resolution.
type PortResolution struct {
	PortID       string
	PortVersion  string
	ContractHash string
	Resolution   Resolution
}

type portResolutionJSON struct {
	PortID          string `json:"portId"`
	PortVersion     string `json:"portVersion"`
	ContractHash    string `json:"contractHash"`
	Mode            string `json:"mode"`
	TargetHost      string `json:"targetHost,omitempty"`
	ProviderID      string `json:"providerId,omitempty"`
	DelegateRouteID string `json:"delegateRouteId,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// MarshalJSON flattens the resolution with a "mode" discriminator.
func (p PortResolution) MarshalJSON() ([]byte, error) {
	out := portResolutionJSON{
		PortID:       p.PortID,
		PortVersion:  p.PortVersion,
		ContractHash: p.ContractHash,
	}
	switch r := p.Resolution.(type) {
	case Local:
		out.Mode, out.TargetHost, out.ProviderID = ModeLocal, r.TargetHost, r.ProviderID
	case Delegated:
		out.Mode, out.TargetHost, out.ProviderID, out.DelegateRouteID = ModeDelegated, r.TargetHost, r.ProviderID, r.DelegateRouteID
	case Unreachable:
		out.Mode, out.Reason = ModeUnreachable, r.Reason
	default:
		return nil, fmt.Errorf("port %s@%s: unknown resolution %T", p.PortID, p.PortVersion, p.Resolution)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes by "mode" and rejects fields that do not belong to it.
func (p *PortResolution) UnmarshalJSON(data []byte) error {
	var in portResolutionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.PortID, p.PortVersion, p.ContractHash = in.PortID, in.PortVersion, in.ContractHash

	switch in.Mode {
	case ModeLocal:
		if in.DelegateRouteID != "" || in.Reason != "" {
			return fmt.Errorf("local resolution for %s@%s carries delegated fields", in.PortID, in.PortVersion)
		}
		p.Resolution = Local{TargetHost: in.TargetHost, ProviderID: in.ProviderID}
	case ModeDelegated:
		if in.DelegateRouteID == "" {
			return fmt.Errorf("delegated resolution for %s@%s is missing delegateRouteId", in.PortID, in.PortVersion)
		}
		p.Resolution = Delegated{TargetHost: in.TargetHost, ProviderID: in.ProviderID, DelegateRouteID: in.DelegateRouteID}
	case ModeUnreachable:
		if in.ProviderID != "" || in.TargetHost != "" {
			return fmt.Errorf("unreachable resolution for %s@%s names a provider", in.PortID, in.PortVersion)
		}
		p.Resolution = Unreachable{Reason: in.Reason}
	default:
		return fmt.Errorf("unknown resolution mode %q for %s@%s", in.Mode, in.PortID, in.PortVersion)
	}
	return nil
}

// Plan is the binding plan of one deployment.
type Plan struct {
	HostAPIVersion string           `json:"hostApiVersion"`
	ArtifactHash   string           `json:"artifactHash"`
	RuntimeHost    string           `json:"runtimeHost"`
	Resolutions    []PortResolution `json:"resolutions"`
}

// Lookup returns the resolution for (portID, portVersion).
func (p *Plan) Lookup(portID, portVersion string) (PortResolution, bool) {
	for _, r := range p.Resolutions {
		if r.PortID == portID && r.PortVersion == portVersion {
			return r, true
		}
	}
	return PortResolution{}, false
}

// Unreachable returns the resolutions that cannot be fulfilled.
func (p *Plan) Unreachable() []PortResolution {
	var out []PortResolution
	for _, r := range p.Resolutions {
		if _, ok := r.Resolution.(Unreachable); ok {
			out = append(out, r)
		}
	}
	return out
}

// Validate checks the one-resolution-per-port invariant.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Resolutions))
	for _, r := range p.Resolutions {
		key := r.PortID + "@" + r.PortVersion
		if seen[key] {
			return fmt.Errorf("binding plan has more than one resolution for %s", key)
		}
		seen[key] = true
		if r.Resolution == nil {
			return fmt.Errorf("binding plan entry %s has no resolution", key)
		}
	}
	return nil
}

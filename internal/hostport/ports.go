// Package hostport defines the pluggable boundary between the kernel and its
// host: clock, identity, principal, capability delegation, and the optional
// replay store and module loader.
//
// Every port is passed to the kernel explicitly. Nothing in the kernel reads
// a system clock or a random source inline.
package hostport

import (
	"context"

	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// Clock reports the current time as an ISO-8601 string. Implementations
// must not block.
type Clock interface {
	NowISO() string
}

// Identity mints trace and invocation ids. Implementations must not block.
type Identity interface {
	NewTraceID() string
	NewInvocationID() string
}

// Principal validates untrusted principal payloads and derives roles.
type Principal interface {
	ValidatePrincipal(raw any) (ir.PrincipalContext, error)
	DeriveRoles(p ir.PrincipalContext, plan ir.AccessPlan) ([]string, error)
}

// CapabilityCall is a capability invocation issued by the domain layer.
type CapabilityCall struct {
	PortID      string `json:"portId"`
	PortVersion string `json:"portVersion"`
	Operation   string `json:"operation"`
	Input       any    `json:"input,omitempty"`
}

// DelegatedCall is a CapabilityCall routed to another execution host.
type DelegatedCall struct {
	CapabilityCall
	TargetHost      string `json:"targetHost"`
	ProviderID      string `json:"providerId"`
	DelegateRouteID string `json:"delegateRouteId"`
	TraceID         string `json:"traceId,omitempty"`
	InvocationID    string `json:"invocationId,omitempty"`
}

// CapabilityOutcome is the typed result of a capability call. A failed
// outcome carries its error; Retryable on that error is decided by the
// provider.
type CapabilityOutcome struct {
	OK     bool          `json:"ok"`
	Output any           `json:"output,omitempty"`
	Error  *ir.ErrorInfo `json:"error,omitempty"`
}

// CapabilityDelegation forwards calls to providers on other hosts. Calls
// may cross a process or network boundary.
type CapabilityDelegation interface {
	InvokeDelegated(ctx context.Context, call DelegatedCall) (CapabilityOutcome, error)
}

// ModuleLoader fetches provider module bytes for integrity verification.
type ModuleLoader interface {
	LoadModule(ctx context.Context, providerID, version string) ([]byte, error)
}

// Set is the complete host port set handed to the kernel.
type Set struct {
	Clock      Clock
	Identity   Identity
	Principal  Principal
	Delegation CapabilityDelegation

	// Replay is required only for mutations invoked with an idempotency key.
	Replay idempotency.Store

	// Modules is optional; when set, locked module integrity can be verified.
	Modules ModuleLoader
}

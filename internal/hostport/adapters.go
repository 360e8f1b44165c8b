package hostport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// ClockFunc adapts a function to Clock.
type ClockFunc func() string

func (f ClockFunc) NowISO() string { return f() }

// IdentityFuncs adapts two functions to Identity. Nil members are reported
// by Set.Validate.
type IdentityFuncs struct {
	TraceID      func() string
	InvocationID func() string
}

func (f IdentityFuncs) NewTraceID() string      { return f.TraceID() }
func (f IdentityFuncs) NewInvocationID() string { return f.InvocationID() }

func (f IdentityFuncs) MissingMembers() []string {
	var out []string
	if f.TraceID == nil {
		out = append(out, "newTraceId")
	}
	if f.InvocationID == nil {
		out = append(out, "newInvocationId")
	}
	return out
}

// PrincipalFuncs adapts two functions to Principal.
type PrincipalFuncs struct {
	Validate func(raw any) (ir.PrincipalContext, error)
	Derive   func(p ir.PrincipalContext, plan ir.AccessPlan) ([]string, error)
}

func (f PrincipalFuncs) ValidatePrincipal(raw any) (ir.PrincipalContext, error) {
	return f.Validate(raw)
}

func (f PrincipalFuncs) DeriveRoles(p ir.PrincipalContext, plan ir.AccessPlan) ([]string, error) {
	return f.Derive(p, plan)
}

func (f PrincipalFuncs) MissingMembers() []string {
	var out []string
	if f.Validate == nil {
		out = append(out, "validatePrincipal")
	}
	if f.Derive == nil {
		out = append(out, "deriveRoles")
	}
	return out
}

// DelegationFunc adapts a function to CapabilityDelegation.
type DelegationFunc func(ctx context.Context, call DelegatedCall) (CapabilityOutcome, error)

func (f DelegationFunc) InvokeDelegated(ctx context.Context, call DelegatedCall) (CapabilityOutcome, error) {
	return f(ctx, call)
}

// ISOMillis is the timestamp layout produced by SystemClock.
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

// SystemClock reads wall-clock time in UTC with millisecond precision.
type SystemClock struct{}

func (SystemClock) NowISO() string {
	return time.Now().UTC().Format(ISOMillis)
}

// UUIDIdentity mints time-sortable UUIDv7 ids.
//
// Panics if UUID generation fails (should never happen in practice).
type UUIDIdentity struct{}

func (UUIDIdentity) NewTraceID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (UUIDIdentity) NewInvocationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NoDelegation is a CapabilityDelegation for single-host deployments. Every
// call fails with a non-retryable capability_delegation_error.
type NoDelegation struct{}

func (NoDelegation) InvokeDelegated(_ context.Context, call DelegatedCall) (CapabilityOutcome, error) {
	return CapabilityOutcome{
		OK: false,
		Error: ir.NewError(ir.ErrCodeCapabilityDelegation,
			"no delegation route handler for %s@%s via %q", call.PortID, call.PortVersion, call.DelegateRouteID).Info(),
	}, nil
}

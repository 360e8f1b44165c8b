package binding

import (
	"context"
	"errors"

	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// LocalProvider serves capability calls on the runtime host.
type LocalProvider interface {
	Invoke(ctx context.Context, call hostport.CapabilityCall) (hostport.CapabilityOutcome, error)
}

// LocalProviderFunc adapts a function to LocalProvider.
type LocalProviderFunc func(ctx context.Context, call hostport.CapabilityCall) (hostport.CapabilityOutcome, error)

func (f LocalProviderFunc) Invoke(ctx context.Context, call hostport.CapabilityCall) (hostport.CapabilityOutcome, error) {
	return f(ctx, call)
}

// Dispatcher routes capability calls according to a binding plan.
type Dispatcher struct {
	plan         *Plan
	locals       map[string]LocalProvider
	delegation   hostport.CapabilityDelegation
	traceID      string
	invocationID string
}

// NewDispatcher creates a dispatcher. locals is keyed by provider id.
func NewDispatcher(plan *Plan, delegation hostport.CapabilityDelegation, locals map[string]LocalProvider) *Dispatcher {
	if locals == nil {
		locals = map[string]LocalProvider{}
	}
	return &Dispatcher{plan: plan, locals: locals, delegation: delegation}
}

// ForInvocation returns a copy that stamps delegated calls with the ids.
func (d *Dispatcher) ForInvocation(traceID, invocationID string) *Dispatcher {
	cp := *d
	cp.traceID, cp.invocationID = traceID, invocationID
	return &cp
}

// Call dispatches one capability call. Failures are capability_delegation_error
// values; the retryable flag of a failed outcome is carried through.
func (d *Dispatcher) Call(ctx context.Context, call hostport.CapabilityCall) (hostport.CapabilityOutcome, error) {
	if d.plan == nil {
		return hostport.CapabilityOutcome{}, delegationError(call, false, "no binding plan is active")
	}
	pr, ok := d.plan.Lookup(call.PortID, call.PortVersion)
	if !ok {
		return hostport.CapabilityOutcome{}, delegationError(call, false, "port is not bound in the active plan")
	}

	switch r := pr.Resolution.(type) {
	case Local:
		provider, ok := d.locals[r.ProviderID]
		if !ok {
			return hostport.CapabilityOutcome{}, delegationError(call, false, "local provider "+r.ProviderID+" is not registered")
		}
		out, err := provider.Invoke(ctx, call)
		return checkOutcome(call, out, err)
	case Delegated:
		if d.delegation == nil {
			return hostport.CapabilityOutcome{}, delegationError(call, false, "no capability delegation port")
		}
		out, err := d.delegation.InvokeDelegated(ctx, hostport.DelegatedCall{
			CapabilityCall:  call,
			TargetHost:      r.TargetHost,
			ProviderID:      r.ProviderID,
			DelegateRouteID: r.DelegateRouteID,
			TraceID:         d.traceID,
			InvocationID:    d.invocationID,
		})
		return checkOutcome(call, out, err)
	case Unreachable:
		return hostport.CapabilityOutcome{}, delegationError(call, false, "capability is unreachable: "+r.Reason)
	default:
		return hostport.CapabilityOutcome{}, delegationError(call, false, "unknown resolution")
	}
}

func checkOutcome(call hostport.CapabilityCall, out hostport.CapabilityOutcome, err error) (hostport.CapabilityOutcome, error) {
	if err != nil {
		var typed *ir.Error
		if errors.As(err, &typed) {
			return out, err
		}
		// Untyped errors are transport failures, worth retrying unchanged.
		return out, delegationError(call, true, err.Error())
	}
	if !out.OK {
		retryable := false
		msg := "capability call failed"
		if out.Error != nil {
			retryable = out.Error.Retryable
			msg = out.Error.Message
		}
		return out, delegationError(call, retryable, msg)
	}
	return out, nil
}

func delegationError(call hostport.CapabilityCall, retryable bool, msg string) *ir.Error {
	return ir.NewError(ir.ErrCodeCapabilityDelegation, "%s@%s %s: %s", call.PortID, call.PortVersion, call.Operation, msg).
		WithRetryable(retryable).
		WithDetail("portId", call.PortID).
		WithDetail("portVersion", call.PortVersion)
}

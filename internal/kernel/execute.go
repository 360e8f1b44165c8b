package kernel

import (
	"context"
	"slices"

	"github.com/ngalluzzo/gooi-sub004/internal/binding"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/policy"
	"github.com/ngalluzzo/gooi-sub004/internal/refresh"
)

func (k *Kernel) evaluatePolicy(r *run) error {
	p, err := r.ports.Principal.ValidatePrincipal(r.inv.Principal)
	if err != nil {
		return ir.AsError(err, ir.ErrCodePrincipalValidation)
	}
	roles, err := r.ports.Principal.DeriveRoles(p, k.bundle.AccessPlan)
	if err != nil {
		return ir.AsError(err, ir.ErrCodePrincipalValidation)
	}

	decision := policy.Evaluate(k.bundle.AccessPlan, r.ep.Key(), roles)
	if !decision.Allowed {
		return ir.NewError(ir.ErrCodeAccessDenied, "access to %s denied: %s", r.ep.Key(), decision.Reason).
			WithDetail("requiredRoles", decision.Required).
			WithDetail("effectiveRoles", roles)
	}
	r.principal = p
	r.roles = roles
	return nil
}

// execute calls the semantic engine. Cancellation of ctx reaches the
// engine; a cancelled execution is a retryable semantic_error.
func (k *Kernel) execute(ctx context.Context, r *run) error {
	ectx := ExecutionContext{
		InvocationID: r.env.InvocationID,
		TraceID:      r.env.TraceID,
		Now:          r.ports.Clock.NowISO(),
		Mode:         r.ep.Kind,
	}
	if k.plan != nil {
		ectx.Capabilities = binding.NewDispatcher(k.plan, r.ports.Delegation, k.locals).
			ForInvocation(r.env.TraceID, r.env.InvocationID)
	}
	req := SemanticRequest{
		Entrypoint: r.ep,
		Input:      r.input,
		Principal:  r.principal,
		Context:    ectx,
	}

	var (
		res SemanticResult
		err error
	)
	if r.ep.Kind == ir.KindQuery {
		res, err = k.semantic.ExecuteQuery(ctx, req)
	} else {
		res, err = k.semantic.ExecuteMutation(ctx, req)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ir.NewError(ir.ErrCodeSemantic, "execution cancelled: %v", ctxErr).WithRetryable(true)
		}
		return ir.AsError(err, ir.ErrCodeSemantic)
	}
	r.result = &res

	if !res.OK {
		if res.Error == nil {
			return ir.NewError(ir.ErrCodeSemantic, "semantic engine reported failure without an error")
		}
		code := res.Error.Code
		if code == "" {
			code = ir.ErrCodeSemantic
		}
		return &ir.Error{
			Code:      code,
			Message:   res.Error.Message,
			Retryable: res.Error.Retryable,
			Details:   res.Error.Details,
		}
	}

	if r.ep.Kind == ir.KindMutation {
		for _, s := range res.EmittedSignals {
			if !slices.Contains(r.ep.EmitsSignals, s.SignalID) {
				return ir.NewError(ir.ErrCodeSemantic, "%s emitted undeclared signal %q", r.ep.Key(), s.SignalID).
					WithRetryable(false).
					WithDetail("signalId", s.SignalID)
			}
		}
	}
	return nil
}

// checkQueryEffects rejects queries that emitted signals or wrote.
func checkQueryEffects(res *SemanticResult) error {
	if res == nil {
		return nil
	}
	if len(res.EmittedSignals) > 0 {
		ids := make([]string, 0, len(res.EmittedSignals))
		for _, s := range res.EmittedSignals {
			ids = append(ids, s.SignalID)
		}
		return ir.NewError(ir.ErrCodeQueryEffect, "queries cannot emit signals").
			WithDetail("signals", ids)
	}
	for _, e := range res.ObservedEffects {
		if e.Kind == ir.EffectWrite || e.Kind == ir.EffectEmit {
			return ir.NewError(ir.ErrCodeQueryEffect, "queries cannot have %s effects (target %q)", e.Kind, e.Target).
				WithDetail("effect", map[string]any{"kind": e.Kind, "target": e.Target})
		}
	}
	return nil
}

// emitResult completes the envelope: output, effects, stamped signals, and
// the affected query ids.
func (k *Kernel) emitResult(r *run) error {
	completedAt := r.ports.Clock.NowISO()
	res := r.result

	output, err := jsonValue(res.Output)
	if err != nil {
		return ir.NewError(ir.ErrCodeSemantic, "output is not JSON-like: %v", err).WithRetryable(false)
	}

	signals := make([]ir.Signal, 0, len(res.EmittedSignals))
	for _, draft := range res.EmittedSignals {
		s, err := stampSignal(draft, completedAt)
		if err != nil {
			return ir.NewError(ir.ErrCodeSemantic, "signal %q: %v", draft.SignalID, err).WithRetryable(false)
		}
		signals = append(signals, s)
	}

	r.env.OK = true
	r.env.Output = output
	r.env.EmittedSignals = signals
	r.env.ObservedEffects = append([]ir.Effect{}, res.ObservedEffects...)
	r.env.Meta.AffectedQueryIDs = refresh.AffectedQueries(k.bundle.RefreshSubscriptions, signals)
	r.env.Timings.CompletedAt = completedAt
	return nil
}

func stampSignal(draft SignalDraft, emittedAt string) (ir.Signal, error) {
	payload, err := jsonValue(draft.Payload)
	if err != nil {
		return ir.Signal{}, err
	}
	hash, err := ir.DomainHash(ir.DomainSignalPayload, payload)
	if err != nil {
		return ir.Signal{}, err
	}
	version := draft.SignalVersion
	if version == 0 {
		version = 1
	}
	return ir.Signal{
		SignalID:      draft.SignalID,
		SignalVersion: version,
		Payload:       payload,
		PayloadHash:   hash,
		EmittedAt:     emittedAt,
	}, nil
}

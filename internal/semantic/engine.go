// Package semantic provides a fixture-driven semantic engine.
//
// The engine answers kernel.Semantic calls from canned YAML fixtures. It is
// the domain runtime behind `gooi invoke` and the conformance harness, and
// stands in for real domain logic wherever a deterministic one is needed.
//
// Fixtures may issue capability calls through the execution context, so a
// fixture run exercises the active binding plan end to end.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/kernel"
)

// Engine implements kernel.Semantic over a fixture file.
//
// Thread-safety: safe for concurrent use. Only the execution counters are
// mutable.
type Engine struct {
	byKey  map[string][]Fixture
	logger *slog.Logger

	mu         sync.Mutex
	executions map[string]int
}

var _ kernel.Semantic = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine serving f.
func New(f *File, opts ...Option) *Engine {
	e := &Engine{
		byKey:      make(map[string][]Fixture),
		logger:     slog.New(slog.DiscardHandler),
		executions: make(map[string]int),
	}
	if f != nil {
		for _, fx := range f.Fixtures {
			e.byKey[fx.Entrypoint] = append(e.byKey[fx.Entrypoint], fx)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Executions reports how many times entrypointKey was executed.
func (e *Engine) Executions(entrypointKey string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executions[entrypointKey]
}

// ExecuteQuery implements kernel.Semantic.
func (e *Engine) ExecuteQuery(ctx context.Context, req kernel.SemanticRequest) (kernel.SemanticResult, error) {
	return e.execute(ctx, req)
}

// ExecuteMutation implements kernel.Semantic.
func (e *Engine) ExecuteMutation(ctx context.Context, req kernel.SemanticRequest) (kernel.SemanticResult, error) {
	return e.execute(ctx, req)
}

func (e *Engine) execute(ctx context.Context, req kernel.SemanticRequest) (kernel.SemanticResult, error) {
	if err := ctx.Err(); err != nil {
		return kernel.SemanticResult{}, err
	}
	key := req.Entrypoint.Key()

	e.mu.Lock()
	e.executions[key]++
	e.mu.Unlock()

	fx, err := e.match(key, req.Input)
	if err != nil {
		return kernel.SemanticResult{}, err
	}
	e.logger.Debug("fixture matched", "entrypoint", key, "invocation_id", req.Context.InvocationID)

	s := scope{input: req.Input, principal: req.Principal, ctx: req.Context}
	effects := make([]ir.Effect, 0, len(fx.Effects)+len(fx.Calls))

	for i, c := range fx.Calls {
		out, failure, err := e.call(ctx, req.Context, c, s)
		if err != nil {
			return kernel.SemanticResult{}, fmt.Errorf("%s: calls[%d]: %w", key, i, err)
		}
		effects = append(effects, ir.Effect{Kind: ir.EffectCall, Target: c.Port + "." + c.Operation})
		if failure != nil {
			return kernel.SemanticResult{OK: false, Error: failure, ObservedEffects: effects}, nil
		}
		s.calls = append(s.calls, out)
	}

	for _, fe := range fx.Effects {
		effects = append(effects, ir.Effect{Kind: fe.Kind, Target: fe.Target})
	}

	if fx.Error != nil {
		return kernel.SemanticResult{OK: false, Error: fx.Error.info(), ObservedEffects: effects}, nil
	}

	output, err := expand(fx.Output, s)
	if err != nil {
		return kernel.SemanticResult{}, fmt.Errorf("%s: output: %w", key, err)
	}
	signals := make([]kernel.SignalDraft, 0, len(fx.Signals))
	for _, sd := range fx.Signals {
		payload, err := expand(sd.Payload, s)
		if err != nil {
			return kernel.SemanticResult{}, fmt.Errorf("%s: signal %s: %w", key, sd.SignalID, err)
		}
		signals = append(signals, kernel.SignalDraft{
			SignalID:      sd.SignalID,
			SignalVersion: sd.SignalVersion,
			Payload:       payload,
		})
	}

	return kernel.SemanticResult{
		OK:              true,
		Output:          output,
		ObservedEffects: effects,
		EmittedSignals:  signals,
	}, nil
}

// match returns the first fixture for key whose When is a subset of input.
func (e *Engine) match(key string, input map[string]any) (Fixture, error) {
	for _, fx := range e.byKey[key] {
		ok, err := subset(fx.When, input)
		if err != nil {
			return Fixture{}, err
		}
		if ok {
			return fx, nil
		}
	}
	return Fixture{}, ir.NewError(ir.ErrCodeSemantic, "no fixture matches %s", key).
		WithRetryable(false).
		WithDetail("entrypointKey", key)
}

func subset(when, input map[string]any) (bool, error) {
	for field, want := range when {
		got, ok := input[field]
		if !ok {
			return false, nil
		}
		a, err := ir.StableStringify(want)
		if err != nil {
			return false, fmt.Errorf("fixture when.%s: %w", field, err)
		}
		b, err := ir.StableStringify(got)
		if err != nil {
			return false, fmt.Errorf("input %s: %w", field, err)
		}
		if string(a) != string(b) {
			return false, nil
		}
	}
	return true, nil
}

// call issues one capability call. A failed outcome is returned as a domain
// failure; dispatcher errors become capability_delegation_error failures.
func (e *Engine) call(ctx context.Context, ectx kernel.ExecutionContext, c Call, s scope) (any, *ir.ErrorInfo, error) {
	if ectx.Capabilities == nil {
		return nil, ir.NewError(ir.ErrCodeCapabilityDelegation,
			"capability %s@%s requested but no binding plan is active", c.Port, c.Version).Info(), nil
	}
	input, err := expand(c.Input, s)
	if err != nil {
		return nil, nil, err
	}
	out, err := ectx.Capabilities.Call(ctx, hostport.CapabilityCall{
		PortID:      c.Port,
		PortVersion: c.Version,
		Operation:   c.Operation,
		Input:       input,
	})
	if err != nil {
		return nil, ir.AsError(err, ir.ErrCodeCapabilityDelegation).Info(), nil
	}
	if !out.OK {
		if out.Error == nil {
			return nil, ir.NewError(ir.ErrCodeCapabilityDelegation, "capability %s@%s failed", c.Port, c.Version).Info(), nil
		}
		return nil, out.Error, nil
	}
	return out.Output, nil, nil
}

package kernel

import (
	"context"
	"log/slog"

	"github.com/ngalluzzo/gooi-sub004/internal/binding"
	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// Invocation is one bound request against the bundle.
type Invocation struct {
	Kind         ir.EntrypointKind
	EntrypointID string

	// Surface selects a compiled surface binding. When set, Request is
	// bound onto the entrypoint inputs; otherwise Input is used directly.
	Surface string
	Request SurfaceRequest
	Input   map[string]any

	// Principal is the untrusted principal payload, validated by the
	// principal port.
	Principal any

	// IdempotencyKey enables replay semantics for mutations.
	IdempotencyKey string

	// TraceID continues an existing trace; a new one is minted when empty.
	TraceID string

	// Ports overrides the kernel's host port set for this invocation.
	Ports *hostport.Set
}

// Key returns "<kind>:<id>".
func (inv Invocation) Key() string {
	return ir.EntrypointKey(inv.Kind, inv.EntrypointID)
}

// SurfaceRequest carries the native request buckets of a surface.
type SurfaceRequest struct {
	Path  map[string]any `json:"path,omitempty" yaml:"path,omitempty"`
	Query map[string]any `json:"query,omitempty" yaml:"query,omitempty"`
	Body  map[string]any `json:"body,omitempty" yaml:"body,omitempty"`
	Args  map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Flags map[string]any `json:"flags,omitempty" yaml:"flags,omitempty"`
}

func (r SurfaceRequest) bucket(name string) map[string]any {
	switch name {
	case ir.BucketPath:
		return r.Path
	case ir.BucketQuery:
		return r.Query
	case ir.BucketBody:
		return r.Body
	case ir.BucketArgs:
		return r.Args
	case ir.BucketFlags:
		return r.Flags
	default:
		return nil
	}
}

// Observer receives pipeline events. Implementations must be safe for
// concurrent use.
type Observer interface {
	StageFinished(entrypointKey, stage string, err *ir.Error)
	InvocationFinished(entrypointKey string, env *ir.ResultEnvelope)
}

// SignalBatch is what a SignalSink receives after a fresh mutation.
type SignalBatch struct {
	EntrypointKey    string
	TraceID          string
	InvocationID     string
	Signals          []ir.Signal
	AffectedQueryIDs []string
}

// SignalSink is notified of emitted signals. Replays are not re-delivered.
type SignalSink interface {
	PublishSignals(ctx context.Context, batch SignalBatch) error
}

// EnvelopeLog records every envelope the kernel returns.
type EnvelopeLog interface {
	AppendEnvelope(ctx context.Context, entrypointKey string, env *ir.ResultEnvelope) error
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithReplayTTL sets the idempotency replay window in seconds. The value is
// validated on every invocation by replay_ttl.validate.
func WithReplayTTL(seconds int64) Option {
	return func(k *Kernel) {
		k.replayTTL = seconds
	}
}

// WithBindingPlan activates capability dispatch through plan.
func WithBindingPlan(plan *binding.Plan) Option {
	return func(k *Kernel) {
		k.plan = plan
	}
}

// WithCapabilities registers local providers by provider id.
func WithCapabilities(locals map[string]binding.LocalProvider) Option {
	return func(k *Kernel) {
		k.locals = locals
	}
}

// WithHostAPIVersion sets the runtime host API version checked against
// the binding plan. Default: ir.HostAPIVersion.
func WithHostAPIVersion(v string) Option {
	return func(k *Kernel) {
		k.hostAPIVersion = v
	}
}

// WithObserver adds a pipeline observer.
func WithObserver(o Observer) Option {
	return func(k *Kernel) {
		k.observers = append(k.observers, o)
	}
}

// WithSignalSink sets the sink notified after fresh mutations.
func WithSignalSink(s SignalSink) Option {
	return func(k *Kernel) {
		k.sink = s
	}
}

// WithEnvelopeLog records returned envelopes.
func WithEnvelopeLog(l EnvelopeLog) Option {
	return func(k *Kernel) {
		k.envelopeLog = l
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) {
		k.logger = l
	}
}

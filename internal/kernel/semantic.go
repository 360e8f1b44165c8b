package kernel

import (
	"context"

	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// ExecutionContext is handed to the semantic engine with every call.
type ExecutionContext struct {
	InvocationID string            `json:"invocationId"`
	TraceID      string            `json:"traceId"`
	Now          string            `json:"now"`
	Mode         ir.EntrypointKind `json:"mode"`

	// Capabilities routes capability calls through the active binding plan.
	// Nil when the kernel has no plan.
	Capabilities CapabilityInvoker `json:"-"`
}

// CapabilityInvoker issues capability calls on behalf of the domain layer.
type CapabilityInvoker interface {
	Call(ctx context.Context, call hostport.CapabilityCall) (hostport.CapabilityOutcome, error)
}

// SemanticRequest is one call into the semantic engine.
type SemanticRequest struct {
	Entrypoint ir.Entrypoint
	Input      map[string]any
	Principal  ir.PrincipalContext
	Context    ExecutionContext
}

// SignalDraft is a signal as produced by the semantic engine, before the
// kernel stamps its payload hash and emission time.
type SignalDraft struct {
	SignalID      string `json:"signalId" yaml:"signalId"`
	SignalVersion int64  `json:"signalVersion,omitempty" yaml:"signalVersion,omitempty"`
	Payload       any    `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// SemanticResult is the opaque outcome of domain execution.
type SemanticResult struct {
	OK              bool
	Output          any
	Error           *ir.ErrorInfo
	ObservedEffects []ir.Effect
	EmittedSignals  []SignalDraft
}

// Semantic is the external domain runtime. The kernel never interprets
// domain semantics; it only reads effects and signals back.
type Semantic interface {
	ExecuteQuery(ctx context.Context, req SemanticRequest) (SemanticResult, error)
	ExecuteMutation(ctx context.Context, req SemanticRequest) (SemanticResult, error)
}

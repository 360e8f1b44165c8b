package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResultEnvelope is the outcome of one invocation. The kernel constructs it
// exactly once; callers only read it.
type ResultEnvelope struct {
	EnvelopeVersion string       `json:"envelopeVersion"`
	TraceID         string       `json:"traceId"`
	InvocationID    string       `json:"invocationId"`
	OK              bool         `json:"ok"`
	Output          any          `json:"output,omitempty"`
	Error           *ErrorInfo   `json:"error,omitempty"`
	EmittedSignals  []Signal     `json:"emittedSignals"`
	ObservedEffects []Effect     `json:"observedEffects"`
	Timings         Timings      `json:"timings"`
	Meta            EnvelopeMeta `json:"meta"`
}

// ErrorInfo is the wire form of a failure: {code, message, retryable, details?}.
type ErrorInfo struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Stage     string         `json:"stage,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Timings records clock-port timestamps for the invocation.
type Timings struct {
	StartedAt   string `json:"startedAt"`
	CompletedAt string `json:"completedAt"`
}

// EnvelopeMeta carries replay and refresh metadata.
type EnvelopeMeta struct {
	Replayed         bool     `json:"replayed"`
	ArtifactHash     string   `json:"artifactHash"`
	AffectedQueryIDs []string `json:"affectedQueryIds"`
}

// Signal is an emitted domain signal.
type Signal struct {
	SignalID      string `json:"signalId"`
	SignalVersion int64  `json:"signalVersion"`
	Payload       any    `json:"payload,omitempty"`
	PayloadHash   string `json:"payloadHash"`
	EmittedAt     string `json:"emittedAt"`
}

// Effect kinds reported by the semantic engine.
const (
	EffectRead  = "read"
	EffectWrite = "write"
	EffectEmit  = "emit"
	EffectCall  = "call"
)

// Effect is an observed side effect of semantic execution.
type Effect struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// Clone returns a deep copy of the envelope so stored envelopes can be
// handed out without exposing them to mutation.
func (e *ResultEnvelope) Clone() (*ResultEnvelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("clone envelope: %w", err)
	}
	return ParseEnvelope(data)
}

// MarshalEnvelope serializes an envelope as canonical JSON, the form used
// for storage and golden comparison.
func MarshalEnvelope(e *ResultEnvelope) ([]byte, error) {
	return StableStringify(e)
}

// ParseEnvelope decodes an envelope, requiring an exact envelopeVersion match.
func ParseEnvelope(data []byte) (*ResultEnvelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var e ResultEnvelope
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if e.EnvelopeVersion != EnvelopeVersion {
		return nil, fmt.Errorf("parse envelope: envelopeVersion %q does not match %q", e.EnvelopeVersion, EnvelopeVersion)
	}
	if e.EmittedSignals == nil {
		e.EmittedSignals = []Signal{}
	}
	if e.ObservedEffects == nil {
		e.ObservedEffects = []Effect{}
	}
	if e.Meta.AffectedQueryIDs == nil {
		e.Meta.AffectedQueryIDs = []string{}
	}
	return &e, nil
}

package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequenceIdentity is an Identity port that mints numbered ids.
//
// The same scenario run with a fresh SequenceIdentity produces
// byte-identical envelopes, which is what golden comparison relies on.
//
// If TraceID is set, every invocation shares that trace id; otherwise
// trace ids are numbered like invocation ids.
//
// Thread-safety: SequenceIdentity is safe for concurrent use.
type SequenceIdentity struct {
	TraceID string

	traces      atomic.Int64
	invocations atomic.Int64
}

// NewSequenceIdentity creates an identity port. traceID may be empty.
func NewSequenceIdentity(traceID string) *SequenceIdentity {
	return &SequenceIdentity{TraceID: traceID}
}

// NewTraceID returns the fixed trace id or "trace-0001", "trace-0002", ...
func (s *SequenceIdentity) NewTraceID() string {
	if s.TraceID != "" {
		return s.TraceID
	}
	return fmt.Sprintf("trace-%04d", s.traces.Add(1))
}

// NewInvocationID returns "inv-0001", "inv-0002", ...
func (s *SequenceIdentity) NewInvocationID() string {
	return fmt.Sprintf("inv-%04d", s.invocations.Add(1))
}

// Reset restarts both sequences.
func (s *SequenceIdentity) Reset() {
	s.traces.Store(0)
	s.invocations.Store(0)
}

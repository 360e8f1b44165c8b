package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEnvelope creates an envelope with minimal required fields.
func createTestEnvelope(invocationID, traceID string, ok bool) *ir.ResultEnvelope {
	env := &ir.ResultEnvelope{
		EnvelopeVersion: ir.EnvelopeVersion,
		TraceID:         traceID,
		InvocationID:    invocationID,
		OK:              ok,
		EmittedSignals:  []ir.Signal{},
		ObservedEffects: []ir.Effect{},
		Timings:         ir.Timings{StartedAt: "2026-01-01T00:00:00.000Z", CompletedAt: "2026-01-01T00:00:00.000Z"},
		Meta:            ir.EnvelopeMeta{ArtifactHash: "abc", AffectedQueryIDs: []string{}},
	}
	if ok {
		env.Output = map[string]any{"count": 2}
	} else {
		env.Error = ir.NewError(ir.ErrCodeAccessDenied, "denied").Info()
	}
	return env
}

// createTestRecord creates an idempotency record created at createdAt.
func createTestRecord(inputHash, createdAt string, ttl int64) idempotency.Record {
	return idempotency.Record{
		InputHash:      inputHash,
		ResultEnvelope: createTestEnvelope("inv-"+inputHash, "trace-1", true),
		CreatedAt:      createdAt,
		TTLSeconds:     ttl,
	}
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

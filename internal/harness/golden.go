package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// TraceSnapshot captures the observable outcome of every step of a run.
// Content hashes are left out, so a golden file survives spec edits that
// do not change behavior.
type TraceSnapshot struct {
	Scenario string          `json:"scenario"`
	Trace    []SnapshotEvent `json:"trace"`
}

// SnapshotEvent is the golden view of one envelope.
type SnapshotEvent struct {
	Step            int            `json:"step"`
	Name            string         `json:"name,omitempty"`
	Entrypoint      string         `json:"entrypoint"`
	TraceID         string         `json:"traceId"`
	InvocationID    string         `json:"invocationId"`
	OK              bool           `json:"ok"`
	Replayed        bool           `json:"replayed"`
	Error           *SnapshotError `json:"error,omitempty"`
	Output          any            `json:"output,omitempty"`
	Signals         []string       `json:"signals"`
	AffectedQueries []string       `json:"affectedQueryIds"`
	StartedAt       string         `json:"startedAt"`
	CompletedAt     string         `json:"completedAt"`
}

// SnapshotError is the golden view of an envelope error.
type SnapshotError struct {
	Code      ir.ErrorCode `json:"code"`
	Stage     string       `json:"stage"`
	Retryable bool         `json:"retryable"`
}

// NewTraceSnapshot builds the snapshot of a result.
func NewTraceSnapshot(scenarioName string, result *Result) *TraceSnapshot {
	events := make([]SnapshotEvent, 0, len(result.Trace))
	for _, ev := range result.Trace {
		env := ev.Envelope
		se := SnapshotEvent{
			Step:            ev.Step,
			Name:            ev.Name,
			Entrypoint:      ev.Entrypoint,
			TraceID:         env.TraceID,
			InvocationID:    env.InvocationID,
			OK:              env.OK,
			Replayed:        env.Meta.Replayed,
			Output:          env.Output,
			Signals:         make([]string, 0, len(env.EmittedSignals)),
			AffectedQueries: append([]string{}, env.Meta.AffectedQueryIDs...),
			StartedAt:       env.Timings.StartedAt,
			CompletedAt:     env.Timings.CompletedAt,
		}
		for _, s := range env.EmittedSignals {
			se.Signals = append(se.Signals, s.SignalID)
		}
		if env.Error != nil {
			se.Error = &SnapshotError{Code: env.Error.Code, Stage: env.Error.Stage, Retryable: env.Error.Retryable}
		}
		events = append(events, se)
	}
	return &TraceSnapshot{Scenario: scenarioName, Trace: events}
}

// Canonical serializes the snapshot as canonical JSON, so golden files are
// byte-stable across runs and platforms.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	data, err := ir.StableStringify(s)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file stored in testdata/scenarios/golden/{scenario.Name}.golden, the
// same layout `gooi test` uses next to scenario files.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot run. A trace that differs from
// the golden file fails t via goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewTraceSnapshot(scenarioName, result).Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "scenarios", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// GoldenPath returns the golden file of a scenario inside dir.
func GoldenPath(dir, scenarioName string) string {
	return filepath.Join(dir, scenarioName+".golden")
}

// WriteGolden stores the trace snapshot of result as its golden file,
// creating dir if needed.
func WriteGolden(dir string, result *Result) error {
	data, err := NewTraceSnapshot(result.Scenario, result).Canonical()
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(GoldenPath(dir, result.Scenario), data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether result matches its golden file byte for
// byte. A missing golden file yields an error satisfying os.IsNotExist.
func CompareGolden(dir string, result *Result) (bool, error) {
	want, err := os.ReadFile(GoldenPath(dir, result.Scenario))
	if err != nil {
		return false, err
	}
	got, err := NewTraceSnapshot(result.Scenario, result).Canonical()
	if err != nil {
		return false, fmt.Errorf("failed to marshal trace: %w", err)
	}
	return bytes.Equal(want, got), nil
}

package harness

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngalluzzo/gooi-sub004/internal/kernel"
	"github.com/ngalluzzo/gooi-sub004/internal/telemetry"
)

var (
	chatSpec     = filepath.Join("..", "compiler", "testdata", "chat")
	chatFixtures = filepath.Join("testdata", "fixtures", "chat.yaml")
)

func boolPtr(b bool) *bool { return &b }

func chatScenario(steps ...Step) *Scenario {
	return &Scenario{
		Name:        "inline",
		Description: "inline scenario",
		Spec:        chatSpec,
		Fixtures:    chatFixtures,
		Principal:   map[string]any{"subject": "alice"},
		Steps:       steps,
	}
}

func postStep(body, key string) Step {
	return Step{
		Invoke:         "mutation:submit_message",
		Surface:        "http",
		Request:        &kernel.SurfaceRequest{Path: map[string]any{"channel": "general"}, Body: map[string]any{"text": body}},
		IdempotencyKey: key,
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(context.Background(), chatScenario(Step{
		Invoke: "query:list_messages",
		Input:  map[string]any{"channel": "general"},
	}))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "query:list_messages", result.Trace[0].Entrypoint)
	assert.Equal(t, "trace-0001", result.Trace[0].Envelope.TraceID)
	assert.Equal(t, map[string]int{"query:list_messages": 1}, result.Executions)
}

func TestRun_ExpectClause(t *testing.T) {
	step := postStep("hello", "")
	step.Expect = &Expect{
		OK:              boolPtr(true),
		Output:          map[string]any{"author": "alice", "stored": map[string]any{"version": 1}},
		Signals:         []string{"message.created"},
		AffectedQueries: []string{"list_messages"},
	}

	result, err := Run(context.Background(), chatScenario(step))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	step := postStep("hello", "")
	step.Name = "post"
	step.Expect = &Expect{
		Code:    "access_denied_error",
		Output:  map[string]any{"author": "bob"},
		Signals: []string{},
	}

	result, err := Run(context.Background(), chatScenario(step))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "steps[0] (post)")
	assert.Contains(t, result.Errors[0], "expected error access_denied_error")
	assert.Contains(t, result.Errors[1], "output.author: expected bob, got alice")
	assert.Contains(t, result.Errors[2], "expected signals []")
}

func TestRun_MissingExpectRequiresSuccess(t *testing.T) {
	result, err := Run(context.Background(), chatScenario(Step{
		Invoke:    "query:list_messages",
		Input:     map[string]any{"channel": "general"},
		Anonymous: true,
	}))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "access_denied_error at policy_gate.evaluate")
}

func TestRun_PrincipalOverride(t *testing.T) {
	step := postStep("hello", "")
	step.Principal = map[string]any{"subject": "bob"}
	step.Expect = &Expect{Output: map[string]any{"author": "bob"}}

	result, err := Run(context.Background(), chatScenario(step))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Deterministic(t *testing.T) {
	scenario := chatScenario(postStep("hello", "k1"), postStep("hello", "k1"))

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := NewTraceSnapshot("det", first).Canonical()
	require.NoError(t, err)
	b, err := NewTraceSnapshot("det", second).Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

// TestRun_FreshStorePerRun tests that replay records do not leak between
// runs of the same scenario.
func TestRun_FreshStorePerRun(t *testing.T) {
	scenario := chatScenario(postStep("hello", "k1"))

	for range 2 {
		result, err := Run(context.Background(), scenario)
		require.NoError(t, err)
		require.Len(t, result.Trace, 1)
		assert.False(t, result.Trace[0].Envelope.Meta.Replayed)
	}
}

func TestRun_AdvanceCrossesReplayWindow(t *testing.T) {
	retry := postStep("hello", "k1")
	retry.Advance = "2m"
	retry.Expect = &Expect{Replayed: boolPtr(false), Output: map[string]any{"stored": map[string]any{"version": 2}}}

	scenario := chatScenario(postStep("hello", "k1"), retry)
	scenario.ReplayTTL = 60

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "2026-01-01T00:02:00.003Z", result.Trace[1].Envelope.Timings.StartedAt)
}

func TestRun_FixedTraceID(t *testing.T) {
	scenario := chatScenario(postStep("a", ""), postStep("b", ""))
	scenario.TraceID = "trace-fixed"

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	for _, ev := range result.Trace {
		assert.Equal(t, "trace-fixed", ev.Envelope.TraceID)
	}
	assert.Equal(t, "inv-0002", result.Trace[1].Envelope.InvocationID)
}

func TestRun_SetupFailures(t *testing.T) {
	t.Run("spec does not compile", func(t *testing.T) {
		scenario := chatScenario(Step{Invoke: "query:list_messages"})
		scenario.Spec = filepath.Join(t.TempDir(), "missing")
		_, err := Run(context.Background(), scenario)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read spec")
	})

	t.Run("fixtures missing", func(t *testing.T) {
		scenario := chatScenario(Step{Invoke: "query:list_messages"})
		scenario.Fixtures = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := Run(context.Background(), scenario)
		require.Error(t, err)
	})
}

func TestRun_Observer(t *testing.T) {
	metrics := telemetry.NewCollector("test")
	result, err := Run(context.Background(), chatScenario(postStep("hello", "k1"), postStep("hello", "k1")), WithObserver(metrics))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	var buf bytes.Buffer
	require.NoError(t, metrics.WriteText(&buf))
	assert.Contains(t, buf.String(), `outcome="replayed"`)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_AddTrace(t *testing.T) {
	r := NewResult()
	r.AddTrace(0, "first", "query:q", nil)
	require.Len(t, r.Trace, 1)
	assert.Equal(t, TraceEvent{Step: 0, Name: "first", Entrypoint: "query:q"}, r.Trace[0])
}

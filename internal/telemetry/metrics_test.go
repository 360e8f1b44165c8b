package telemetry

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

func okEnvelope() *ir.ResultEnvelope {
	return &ir.ResultEnvelope{
		OK: true,
		EmittedSignals: []ir.Signal{
			{SignalID: "message.created"},
			{SignalID: "message.created"},
		},
		Meta: ir.EnvelopeMeta{AffectedQueryIDs: []string{"list_messages"}},
	}
}

func TestCollector_StageResults(t *testing.T) {
	c := NewCollector("test")

	c.StageFinished("query:list_messages", "policy_gate.evaluate", nil)
	c.StageFinished("query:list_messages", "policy_gate.evaluate", nil)
	c.StageFinished("query:list_messages", "policy_gate.evaluate", ir.NewError(ir.ErrCodeAccessDenied, "denied"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.stages.WithLabelValues("policy_gate.evaluate", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stages.WithLabelValues("policy_gate.evaluate", "access_denied_error")))
}

func TestCollector_InvocationOutcomes(t *testing.T) {
	c := NewCollector("")

	c.InvocationFinished("mutation:submit_message", okEnvelope())

	replayed := okEnvelope()
	replayed.Meta.Replayed = true
	c.InvocationFinished("mutation:submit_message", replayed)

	c.InvocationFinished("mutation:submit_message", &ir.ResultEnvelope{
		Error: &ir.ErrorInfo{Code: ir.ErrCodeIdempotencyConflict},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocations.WithLabelValues("mutation:submit_message", OutcomeOK, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocations.WithLabelValues("mutation:submit_message", OutcomeReplayed, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocations.WithLabelValues("mutation:submit_message", OutcomeError, "idempotency_conflict_error")))

	// Replays do not count signals or refreshes a second time.
	assert.Equal(t, 2.0, testutil.ToFloat64(c.signals.WithLabelValues("message.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues("list_messages")))
}

func TestCollector_WriteText(t *testing.T) {
	c := NewCollector("gooi")
	c.InvocationFinished("query:list_messages", &ir.ResultEnvelope{OK: true})

	var buf bytes.Buffer
	require.NoError(t, c.WriteText(&buf))
	assert.Contains(t, buf.String(), "gooi_kernel_invocations_total")
	assert.Contains(t, buf.String(), `entrypoint="query:list_messages"`)
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector("test")
	c.StageFinished("k", "entrypoint.resolve", nil)
	c.Reset()
	assert.Equal(t, 0, testutil.CollectAndCount(c.stages))
}

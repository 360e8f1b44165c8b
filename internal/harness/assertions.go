package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/semantic"
	"github.com/ngalluzzo/gooi-sub004/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Step+1, event.Entrypoint, outcome(event.Envelope))
	}

	return buf.String()
}

func outcome(env *ir.ResultEnvelope) string {
	switch {
	case env == nil:
		return "<no envelope>"
	case env.Meta.Replayed:
		return "replayed"
	case env.OK:
		return "ok"
	case env.Error != nil:
		return string(env.Error.Code) + " at " + env.Error.Stage
	default:
		return "failed"
	}
}

// AssertionContext provides what assertions evaluate against.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Engine *semantic.Engine
	Trace  []TraceEvent
}

// EvaluateAssertions runs every assertion and returns the failures.
func EvaluateAssertions(actx *AssertionContext, assertions []Assertion) []error {
	var errs []error
	for _, a := range assertions {
		if err := evaluateAssertion(actx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func evaluateAssertion(actx *AssertionContext, a Assertion) error {
	switch a.Type {
	case AssertInvocationCount:
		return assertInvocationCount(actx.Trace, a)
	case AssertInvocationOrder:
		return assertInvocationOrder(actx.Trace, a)
	case AssertExecutionCount:
		return assertExecutionCount(actx, a)
	case AssertSignalEmitted:
		return assertSignalEmitted(actx.Trace, a)
	case AssertEnvelopeLog:
		return assertEnvelopeLog(actx, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertInvocationCount checks that an entrypoint was invoked exactly N times.
func assertInvocationCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Entrypoint == a.Entrypoint {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertInvocationCount,
		Expected: fmt.Sprintf("%s invoked %d times", a.Entrypoint, a.Count),
		Actual:   fmt.Sprintf("invoked %d times", count),
		Trace:    trace,
	}
}

// assertInvocationOrder checks that entrypoints first appear in the given
// order. Intervening invocations are allowed.
func assertInvocationOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int, len(a.Entrypoints))
	for i, event := range trace {
		if _, seen := positions[event.Entrypoint]; !seen {
			positions[event.Entrypoint] = i
		}
	}

	for _, key := range a.Entrypoints {
		if _, ok := positions[key]; !ok {
			return &AssertionError{
				Type:     AssertInvocationOrder,
				Expected: fmt.Sprintf("order %v", a.Entrypoints),
				Actual:   fmt.Sprintf("%s not found in trace", key),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Entrypoints); i++ {
		prev, cur := a.Entrypoints[i-1], a.Entrypoints[i]
		if positions[prev] > positions[cur] {
			return &AssertionError{
				Type:     AssertInvocationOrder,
				Expected: fmt.Sprintf("%s before %s", prev, cur),
				Actual:   fmt.Sprintf("%s at position %d, %s at position %d", prev, positions[prev], cur, positions[cur]),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertExecutionCount checks how often the domain layer actually ran an
// entrypoint. Replays and pipeline failures do not execute.
func assertExecutionCount(actx *AssertionContext, a Assertion) error {
	got := actx.Engine.Executions(a.Entrypoint)
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertExecutionCount,
		Expected: fmt.Sprintf("%s executed %d times", a.Entrypoint, a.Count),
		Actual:   fmt.Sprintf("executed %d times", got),
		Trace:    actx.Trace,
	}
}

// assertSignalEmitted counts a signal across fresh envelopes only.
func assertSignalEmitted(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Envelope == nil || event.Envelope.Meta.Replayed {
			continue
		}
		for _, s := range event.Envelope.EmittedSignals {
			if s.SignalID == a.Signal {
				count++
			}
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertSignalEmitted,
		Expected: fmt.Sprintf("signal %s emitted %d times", a.Signal, a.Count),
		Actual:   fmt.Sprintf("emitted %d times", count),
		Trace:    trace,
	}
}

// assertEnvelopeLog counts envelope log rows for an entrypoint.
func assertEnvelopeLog(actx *AssertionContext, a Assertion) error {
	rows, err := actx.Store.ReadEnvelopes(actx.Ctx, store.EnvelopeFilter{EntrypointKey: a.Entrypoint})
	if err != nil {
		return fmt.Errorf("envelope_log: %w", err)
	}
	if len(rows) == a.Count {
		return nil
	}
	target := a.Entrypoint
	if target == "" {
		target = "all entrypoints"
	}
	return &AssertionError{
		Type:     AssertEnvelopeLog,
		Expected: fmt.Sprintf("%d logged envelopes for %s", a.Count, target),
		Actual:   fmt.Sprintf("%d logged envelopes", len(rows)),
		Trace:    actx.Trace,
	}
}

// checkExpect compares an envelope with a step's expect clause. A nil
// clause expects success.
func checkExpect(exp *Expect, env *ir.ResultEnvelope) []string {
	if exp == nil {
		if !env.OK {
			return []string{fmt.Sprintf("expected ok, got %s", outcome(env))}
		}
		return nil
	}

	var msgs []string
	if exp.OK != nil && env.OK != *exp.OK {
		msgs = append(msgs, fmt.Sprintf("expected ok=%t, got %s", *exp.OK, outcome(env)))
	}
	if exp.Code != "" || exp.Stage != "" {
		if env.Error == nil {
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %s", exp.Code, outcome(env)))
		} else {
			if exp.Code != "" && string(env.Error.Code) != exp.Code {
				msgs = append(msgs, fmt.Sprintf("expected error code %s, got %s", exp.Code, env.Error.Code))
			}
			if exp.Stage != "" && env.Error.Stage != exp.Stage {
				msgs = append(msgs, fmt.Sprintf("expected failing stage %s, got %s", exp.Stage, env.Error.Stage))
			}
		}
	}
	if exp.Replayed != nil && env.Meta.Replayed != *exp.Replayed {
		msgs = append(msgs, fmt.Sprintf("expected replayed=%t, got %t", *exp.Replayed, env.Meta.Replayed))
	}
	if exp.Output != nil {
		if mismatch := matchSubset("output", exp.Output, env.Output); mismatch != "" {
			msgs = append(msgs, mismatch)
		}
	}
	if exp.Signals != nil {
		got := make([]string, len(env.EmittedSignals))
		for i, s := range env.EmittedSignals {
			got[i] = s.SignalID
		}
		if !slices.Equal(exp.Signals, got) {
			msgs = append(msgs, fmt.Sprintf("expected signals %v, got %v", exp.Signals, got))
		}
	}
	if exp.AffectedQueries != nil && !slices.Equal(exp.AffectedQueries, env.Meta.AffectedQueryIDs) {
		msgs = append(msgs, fmt.Sprintf("expected affected queries %v, got %v", exp.AffectedQueries, env.Meta.AffectedQueryIDs))
	}
	return msgs
}

// matchSubset checks that every field of want appears in got with an equal
// value. Nested objects are matched as subsets; other values compare by
// canonical JSON, so YAML ints match JSON numbers.
func matchSubset(path string, want map[string]any, got any) string {
	obj, ok := got.(map[string]any)
	if !ok {
		return fmt.Sprintf("%s: expected an object, got %T", path, got)
	}
	for _, field := range slices.Sorted(maps.Keys(want)) {
		fieldPath := path + "." + field
		g, present := obj[field]
		if !present {
			return fmt.Sprintf("%s: missing", fieldPath)
		}
		if nested, isMap := want[field].(map[string]any); isMap {
			if mismatch := matchSubset(fieldPath, nested, g); mismatch != "" {
				return mismatch
			}
			continue
		}
		if !valuesEqual(want[field], g) {
			return fmt.Sprintf("%s: expected %v, got %v", fieldPath, want[field], g)
		}
	}
	return ""
}

func valuesEqual(want, got any) bool {
	a, err := ir.StableStringify(want)
	if err != nil {
		return false
	}
	b, err := ir.StableStringify(got)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

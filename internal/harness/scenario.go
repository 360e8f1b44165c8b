package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/kernel"
)

// Scenario defines a conformance scenario.
// A scenario compiles one app spec, scripts the domain layer with semantic
// fixtures, drives a sequence of invocations through the kernel, and asserts
// on each result envelope and on the run as a whole.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Spec is the CUE app spec: a package directory or a single file.
	// Relative paths are resolved against the scenario file location.
	Spec string `yaml:"spec"`

	// Fixtures is the semantic fixture file scripting the domain layer.
	// Relative paths are resolved against the scenario file location.
	Fixtures string `yaml:"fixtures"`

	// Principal is the default principal payload for every step.
	Principal map[string]any `yaml:"principal,omitempty"`

	// TraceID pins the trace id of every invocation. If empty, ids come
	// from a sequence starting at trace-0001.
	TraceID string `yaml:"trace_id,omitempty"`

	// ReplayTTL is the idempotency replay window in seconds.
	// If zero, the kernel default applies.
	ReplayTTL int64 `yaml:"replay_ttl,omitempty"`

	// Steps are the invocations, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the run as a whole.
	// Supported types: invocation_count, invocation_order, execution_count,
	// signal_emitted, envelope_log
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one invocation.
type Step struct {
	// Name labels the step in failures and golden output.
	Name string `yaml:"name,omitempty"`

	// Invoke is the entrypoint key, "<kind>:<id>".
	Invoke string `yaml:"invoke"`

	// Surface selects a compiled surface binding; Request is bound through
	// it. Without a surface, Input is passed directly.
	Surface string                 `yaml:"surface,omitempty"`
	Request *kernel.SurfaceRequest `yaml:"request,omitempty"`
	Input   map[string]any         `yaml:"input,omitempty"`

	// Principal overrides the scenario principal for this step.
	Principal map[string]any `yaml:"principal,omitempty"`

	// Anonymous invokes without any principal payload.
	Anonymous bool `yaml:"anonymous,omitempty"`

	// IdempotencyKey enables replay semantics for mutations.
	IdempotencyKey string `yaml:"idempotency_key,omitempty"`

	// Advance moves the deterministic clock forward before the step
	// (a Go duration such as "90s").
	Advance string `yaml:"advance,omitempty"`

	// Expect validates the step's envelope. If nil, the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected result envelope of a step.
// Unset fields are not checked.
type Expect struct {
	OK       *bool  `yaml:"ok,omitempty"`
	Code     string `yaml:"code,omitempty"`
	Stage    string `yaml:"stage,omitempty"`
	Replayed *bool  `yaml:"replayed,omitempty"`

	// Output is a subset match against the envelope output.
	Output map[string]any `yaml:"output,omitempty"`

	// Signals lists the emitted signal ids, in order.
	Signals []string `yaml:"signals,omitempty"`

	// AffectedQueries lists meta.affectedQueryIds, in order.
	AffectedQueries []string `yaml:"affected_queries,omitempty"`
}

// Assertion validates the whole run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "invocation_count": Entrypoint was invoked exactly Count times
	// - "invocation_order": Entrypoints first appear in the given order
	// - "execution_count": The domain layer executed Entrypoint Count times
	// - "signal_emitted": Signal was emitted Count times by fresh executions
	// - "envelope_log": The envelope log holds Count rows for Entrypoint
	Type string `yaml:"type"`

	// Entrypoint is the entrypoint key (invocation_count, execution_count,
	// envelope_log). Empty matches every entrypoint for envelope_log.
	Entrypoint string `yaml:"entrypoint,omitempty"`

	// Entrypoints is the expected order (invocation_order).
	Entrypoints []string `yaml:"entrypoints,omitempty"`

	// Signal is the signal id (signal_emitted).
	Signal string `yaml:"signal,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertInvocationCount = "invocation_count"
	AssertInvocationOrder = "invocation_order"
	AssertExecutionCount  = "execution_count"
	AssertSignalEmitted   = "signal_emitted"
	AssertEnvelopeLog     = "envelope_log"
)

// ParseScenario decodes scenario YAML. Unknown fields are rejected (catches
// typos like "assertion:" vs "assertions:"). Paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// LoadScenario reads and parses a scenario YAML file, resolving the spec and
// fixture paths relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	scenario.Spec = resolvePath(base, scenario.Spec)
	scenario.Fixtures = resolvePath(base, scenario.Fixtures)

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Spec == "" {
		return fmt.Errorf("spec is required")
	}
	if s.Fixtures == "" {
		return fmt.Errorf("fixtures is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.ReplayTTL < 0 {
		return fmt.Errorf("replay_ttl must be non-negative")
	}

	for _, p := range []string{s.Spec, s.Fixtures} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", p)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	if st.Invoke == "" {
		return fmt.Errorf("steps[%d]: invoke is required", index)
	}
	if _, _, err := ir.ParseEntrypointKey(st.Invoke); err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}
	if st.Surface == "" && st.Request != nil {
		return fmt.Errorf("steps[%d]: request requires a surface", index)
	}
	if st.Surface != "" && st.Input != nil {
		return fmt.Errorf("steps[%d]: input and surface are mutually exclusive", index)
	}
	if st.Anonymous && st.Principal != nil {
		return fmt.Errorf("steps[%d]: anonymous and principal are mutually exclusive", index)
	}
	if st.Advance != "" {
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must be non-negative", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertInvocationCount, AssertExecutionCount:
		if a.Entrypoint == "" {
			return fmt.Errorf("assertions[%d]: entrypoint is required for %s", index, a.Type)
		}
	case AssertInvocationOrder:
		if len(a.Entrypoints) == 0 {
			return fmt.Errorf("assertions[%d]: entrypoints list is required for invocation_order", index)
		}
	case AssertSignalEmitted:
		if a.Signal == "" {
			return fmt.Errorf("assertions[%d]: signal is required for signal_emitted", index)
		}
	case AssertEnvelopeLog:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package harness

import "github.com/ngalluzzo/gooi-sub004/internal/ir"

// TraceEvent is one invocation of a scenario run and the envelope the
// kernel returned for it.
type TraceEvent struct {
	Step       int                `json:"step"`
	Name       string             `json:"name,omitempty"`
	Entrypoint string             `json:"entrypoint"`
	Envelope   *ir.ResultEnvelope `json:"envelope"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Scenario is the name of the scenario that produced the result.
	Scenario string `json:"scenario,omitempty"`

	// Pass indicates overall success: every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every invocation in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Executions counts domain-layer executions per entrypoint key.
	Executions map[string]int `json:"executions,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Executions: make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an invocation to the trace.
func (r *Result) AddTrace(step int, name, entrypoint string, env *ir.ResultEnvelope) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:       step,
		Name:       name,
		Entrypoint: entrypoint,
		Envelope:   env,
	})
}

package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ngalluzzo/gooi-sub004/internal/binding"
	"github.com/ngalluzzo/gooi-sub004/internal/compiler"
	"github.com/ngalluzzo/gooi-sub004/internal/hostport"
	"github.com/ngalluzzo/gooi-sub004/internal/ir"
	"github.com/ngalluzzo/gooi-sub004/internal/kernel"
	"github.com/ngalluzzo/gooi-sub004/internal/semantic"
	"github.com/ngalluzzo/gooi-sub004/internal/store"
	"github.com/ngalluzzo/gooi-sub004/internal/testutil"
)

// Harness is the scenario execution environment.
// It wires one kernel to deterministic host ports, a fresh in-memory SQLite
// replay store and envelope log, and the scenario's semantic fixtures.
type Harness struct {
	scenario *Scenario
	kernel   *kernel.Kernel
	engine   *semantic.Engine
	store    *store.Store
	clock    *testutil.DeterministicClock
	logger   *slog.Logger
}

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger    *slog.Logger
	observers []kernel.Observer
}

// WithLogger sets the logger passed to the kernel and the fixture engine.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithObserver adds a kernel observer, such as a metrics collector.
func WithObserver(o kernel.Observer) Option {
	return func(c *runConfig) {
		c.observers = append(c.observers, o)
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database for isolation, and
// deterministic clock and identity ports make envelopes reproducible.
//
// Execution flow:
//  1. Compile the spec and load the semantic fixtures
//  2. Build the kernel with a local binding plan
//  3. Invoke each step, checking its expect clause
//  4. Evaluate assertions against the trace, the fixture engine, and the
//     envelope log
//
// Expectation and assertion failures are reported on the Result. The error
// return is reserved for setup failures and replay store faults.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(scenario, opts...)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	result.Scenario = scenario.Name
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	for _, key := range h.kernel.Bundle().SortedEntrypointIDs() {
		ep := h.kernel.Bundle().Entrypoints[key]
		if n := h.engine.Executions(ep.Key()); n > 0 {
			result.Executions[ep.Key()] = n
		}
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Store:  h.store,
		Engine: h.engine,
		Trace:  result.Trace,
	}
	for _, err := range EvaluateAssertions(actx, scenario.Assertions) {
		result.AddError(err.Error())
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"steps", len(scenario.Steps),
		"pass", result.Pass)

	return result, nil
}

func newHarness(scenario *Scenario, opts ...Option) (*Harness, error) {
	cfg := runConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	bundle, err := compileSpec(scenario.Spec)
	if err != nil {
		return nil, err
	}

	fixtures, err := semantic.Load(scenario.Fixtures)
	if err != nil {
		return nil, err
	}
	engine := semantic.New(fixtures, semantic.WithLogger(cfg.logger))

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	clock := testutil.NewDeterministicClock()
	ports := hostport.Set{
		Clock:      clock,
		Identity:   testutil.NewSequenceIdentity(scenario.TraceID),
		Principal:  hostport.ClaimsPrincipal{},
		Delegation: hostport.NoDelegation{},
		Replay:     st,
	}

	kopts := []kernel.Option{
		kernel.WithBindingPlan(binding.LocalPlan(bundle, binding.HostNode)),
		kernel.WithCapabilities(map[string]binding.LocalProvider{
			binding.MemoryProviderID: binding.NewMemoryProvider(),
		}),
		kernel.WithEnvelopeLog(st),
		kernel.WithLogger(cfg.logger),
	}
	if scenario.ReplayTTL > 0 {
		kopts = append(kopts, kernel.WithReplayTTL(scenario.ReplayTTL))
	}
	for _, o := range cfg.observers {
		kopts = append(kopts, kernel.WithObserver(o))
	}

	return &Harness{
		scenario: scenario,
		kernel:   kernel.New(bundle, ports, engine, kopts...),
		engine:   engine,
		store:    st,
		clock:    clock,
		logger:   cfg.logger,
	}, nil
}

// compileSpec compiles a CUE package directory or a single CUE file.
func compileSpec(path string) (*ir.Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec: %w", err)
	}

	var res *compiler.Result
	if info.IsDir() {
		res = compiler.CompileDir(path)
	} else {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read spec: %w", err)
		}
		res = compiler.CompileSource(path, src)
	}

	if !res.OK {
		for _, d := range res.Diagnostics {
			if d.Severity == compiler.SeverityError {
				return nil, fmt.Errorf("failed to compile %s: %s", path, d)
			}
		}
		return nil, fmt.Errorf("failed to compile %s", path)
	}
	return res.Bundle, nil
}

// runStep invokes one step and checks its expect clause.
func (h *Harness) runStep(ctx context.Context, index int, step Step, result *Result) error {
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		h.clock.Advance(d)
	}

	inv, err := h.invocation(step)
	if err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}

	env, err := h.kernel.Invoke(ctx, inv)
	if err != nil {
		return fmt.Errorf("steps[%d] %s: %w", index, step.Invoke, err)
	}
	result.AddTrace(index, step.Name, step.Invoke, env)

	for _, msg := range checkExpect(step.Expect, env) {
		result.AddError(fmt.Sprintf("%s: %s", stepLabel(index, step), msg))
	}
	return nil
}

func (h *Harness) invocation(step Step) (kernel.Invocation, error) {
	kind, id, err := ir.ParseEntrypointKey(step.Invoke)
	if err != nil {
		return kernel.Invocation{}, err
	}

	inv := kernel.Invocation{
		Kind:           kind,
		EntrypointID:   id,
		Surface:        step.Surface,
		Input:          step.Input,
		IdempotencyKey: step.IdempotencyKey,
	}
	if step.Request != nil {
		inv.Request = *step.Request
	}
	if inv.Surface == "" && inv.Input == nil {
		inv.Input = map[string]any{}
	}

	switch {
	case step.Anonymous:
	case step.Principal != nil:
		inv.Principal = step.Principal
	case h.scenario.Principal != nil:
		inv.Principal = h.scenario.Principal
	}
	return inv, nil
}

func stepLabel(index int, step Step) string {
	if step.Name != "" {
		return fmt.Sprintf("steps[%d] (%s)", index, step.Name)
	}
	return fmt.Sprintf("steps[%d] %s", index, step.Invoke)
}

package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ExprEngine compiles and caches claim_expr programs. Expressions see three
// variables: subject (string, "" when anonymous), claims (map), tags (list).
type ExprEngine struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewExprEngine creates an engine with the claim expression environment.
func NewExprEngine() (*ExprEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tags", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &ExprEngine{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Check compiles expr and verifies it yields a bool.
func (e *ExprEngine) Check(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *ExprEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile claim expression: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("claim expression must evaluate to bool, got %s", out)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build claim expression program: %w", err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}

// Eval runs expr against the activation. Evaluation errors (for example a
// missing claim key) count as a non-match.
func (e *ExprEngine) Eval(expr string, subject string, claims map[string]any, tags []string) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	if tags == nil {
		tags = []string{}
	}
	out, _, err := prg.Eval(map[string]any{
		"subject": subject,
		"claims":  claims,
		"tags":    tags,
	})
	if err != nil {
		return false, nil
	}
	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

var (
	defaultEngine     *ExprEngine
	defaultEngineErr  error
	defaultEngineOnce sync.Once
)

// DefaultExprEngine returns the process-wide expression engine.
func DefaultExprEngine() (*ExprEngine, error) {
	defaultEngineOnce.Do(func() {
		defaultEngine, defaultEngineErr = NewExprEngine()
	})
	return defaultEngine, defaultEngineErr
}

// CheckExpr validates a claim expression with the default engine.
func CheckExpr(expr string) error {
	eng, err := DefaultExprEngine()
	if err != nil {
		return err
	}
	return eng.Check(expr)
}

package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates a boolean rule condition against an environment.
type Evaluator interface {
	Evaluate(condition string, env map[string]any) (bool, error)
}

// ExprEvaluator implements Evaluator with expr-lang/expr. Compiled programs
// are cached per condition string.
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator creates an ExprEvaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate compiles (once) and runs condition. Conditions that do not
// produce a boolean fail at compile time.
func (e *ExprEvaluator) Evaluate(condition string, env map[string]any) (bool, error) {
	e.mu.RLock()
	program, ok := e.cache[condition]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[condition]; !ok {
			var err error
			program, err = expr.Compile(condition, expr.Env(env), expr.AsBool())
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile condition %q: %w", condition, err)
			}
			e.cache[condition] = program
		}
		e.mu.Unlock()
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run condition %q: %w", condition, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean, got %T", condition, out)
	}
	return result, nil
}

// Validate reports whether condition compiles to a boolean over the
// variables a Subject exposes.
func Validate(condition string) error {
	if _, err := expr.Compile(condition, expr.Env(Subject{}.Env()), expr.AsBool()); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	return nil
}

package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// maxConditionLength bounds edge conditions so a hostile graph payload
// cannot feed arbitrarily large expressions into the compiler.
const maxConditionLength = 4096

// Evaluator evaluates edge-gating conditions against simulation variables.
// Compiled programs are cached per expression and reused across waves.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{programs: make(map[string]*vm.Program)}
}

// Bool evaluates a condition and coerces the result to a boolean.
// Numbers are truthy when non-zero, strings when non-empty; nil is false.
func (ev *Evaluator) Bool(condition string, env map[string]any) (bool, error) {
	if len(condition) > maxConditionLength {
		return false, fmt.Errorf("condition exceeds maximum length of %d characters", maxConditionLength)
	}

	ev.mu.RLock()
	prog, ok := ev.programs[condition]
	ev.mu.RUnlock()

	if !ok {
		var err error
		prog, err = expr.Compile(condition)
		if err != nil {
			return false, fmt.Errorf("compile condition %q: %w", condition, err)
		}
		ev.mu.Lock()
		ev.programs[condition] = prog
		ev.mu.Unlock()
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", condition, err)
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("condition %q returned %T, expected bool", condition, result)
	}
}

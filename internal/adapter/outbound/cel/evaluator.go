// Package cel provides a CEL-based evaluator for message rule conditions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/tapgate/internal/domain/interceptor"
	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL expressions over intercepted messages.
type Evaluator struct {
	env *cel.Env
}

// Compile-time check that Evaluator implements interceptor.ConditionCompiler.
var _ interceptor.ConditionCompiler = (*Evaluator)(nil)

// NewEvaluator creates a new CEL evaluator with the message environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewMessageEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create message environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Program parses and type-checks a CEL expression, returning a compiled program.
func (e *Evaluator) Program(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum allowed
// nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a CEL expression is syntactically valid and
// within the length and nesting limits.
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	if _, err := e.Program(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}

	return nil
}

// Compile validates expr and returns it as a rule condition.
func (e *Evaluator) Compile(expr string) (interceptor.Condition, error) {
	if err := e.ValidateExpression(expr); err != nil {
		return nil, err
	}
	prg, err := e.Program(expr)
	if err != nil {
		return nil, err
	}
	return &condition{eval: e, prg: prg}, nil
}

// Evaluate runs a compiled CEL program against msg.
func (e *Evaluator) Evaluate(prg cel.Program, msg *intercept.Message) (bool, error) {
	activation := BuildActivation(msg)

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}

type condition struct {
	eval *Evaluator
	prg  cel.Program
}

func (c *condition) Match(msg *intercept.Message) (bool, error) {
	return c.eval.Evaluate(c.prg, msg)
}

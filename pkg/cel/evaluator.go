package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Variables available to condition expressions. They mirror the top level
// keys of a policy evaluation context.
const (
	VarDeclaration = "declaration"
	VarRiskScores  = "riskScores"
	VarItems       = "items"
	VarUser        = "user"
	VarTimestamp   = "timestamp"
)

// Evaluator compiles boolean CEL conditions over a declaration context and
// caches the resulting programs per expression text.
type Evaluator struct {
	env      *cel.Env
	programs sync.Map
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarDeclaration, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarRiskScores, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarItems, cel.ListType(cel.DynType)),
		cel.Variable(VarUser, cel.DynType),
		cel.Variable(VarTimestamp, cel.TimestampType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (cel.Program, error) {
	if cached, ok := e.programs.Load(expression); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return nil, fmt.Errorf("condition expression must return bool, got %v", t)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	actual, _ := e.programs.LoadOrStore(expression, program)
	return actual.(cel.Program), nil
}

// EvaluateCondition runs expression against vars. Missing variables are
// bound to empty values so that has() checks behave predictably.
func (e *Evaluator) EvaluateCondition(ctx context.Context, expression string, vars map[string]interface{}) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	activation := map[string]interface{}{
		VarDeclaration: map[string]interface{}{},
		VarRiskScores:  map[string]interface{}{},
		VarItems:       []interface{}{},
		VarUser:        nil,
	}
	for k, v := range vars {
		if v != nil {
			activation[k] = v
		}
	}

	result, _, err := program.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return matched, nil
}

package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"workfeed/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds an environment exposing work item fields under the
// item map, e.g. item.priority == "High".
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.CompileFilter(expression)
	return err
}

// Filter is a compiled boolean expression over work item fields.
type Filter struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) String() string {
	return f.expression
}

func (f *Filter) Match(ctx context.Context, item models.WorkItem) (bool, error) {
	fields := map[string]interface{}{
		"id":               item.ID,
		"owner":            item.Owner,
		"type":             item.Type,
		"priority":         item.Priority,
		"gwpcStatus":       item.GWPCStatus,
		"status":           item.Status,
		"indicated":        item.Indicated,
		"automationStatus": item.AutomationStatus,
		"exposureStatus":   item.ExposureStatus,
		"submissionId":     item.SubmissionID,
	}
	vars := map[string]interface{}{"item": fields}

	result, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

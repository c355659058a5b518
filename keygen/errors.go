package keygen

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyExpression = errors.New("keygen: expression must not be empty")
	ErrNoEvaluator     = errors.New("keygen: evaluator not configured")
	ErrNilKey          = errors.New("keygen: expression produced a nil key")
)

// EvaluationError captures evaluator metadata alongside the originating error.
type EvaluationError struct {
	Engine string
	Expr   string
	Table  string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("keygen: %s evaluator %s table=%s: %v", e.Engine, describeExpression(e.Expr), e.Table, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}
	if strings.HasPrefix(err.Error(), "keygen:") {
		return err
	}
	return fmt.Errorf("keygen: %s evaluator: %w", engine, err)
}

func wrapEvaluationError(engine, expr, table string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Table == "" {
			evalErr.Table = table
		}
		return evalErr
	}
	return &EvaluationError{
		Engine: engine,
		Expr:   expr,
		Table:  table,
		Err:    err,
	}
}

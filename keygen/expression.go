package keygen

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ExpressionOption configures an expression generator.
type ExpressionOption func(*ExpressionGenerator)

// WithArgs exposes args to the expression under the args variable.
func WithArgs(args map[string]any) ExpressionOption {
	return func(g *ExpressionGenerator) {
		g.args = args
	}
}

// WithLogger records each evaluation with its engine, table and duration.
func WithLogger(logger zerolog.Logger) ExpressionOption {
	return func(g *ExpressionGenerator) {
		g.logger = logger
	}
}

// ExpressionGenerator derives keys by evaluating a compiled rule against the
// record being inserted.
type ExpressionGenerator struct {
	engine     string
	expression string
	rule       CompiledRule
	args       map[string]any
	logger     zerolog.Logger
}

// Expression compiles expression with evaluator. Evaluators built with
// NewExprEvaluator, NewCELEvaluator or NewJSEvaluator see the prototype's
// fields as variables, alongside entity, table, seq, now and args.
func Expression(evaluator Evaluator, expression string, opts ...ExpressionOption) (*ExpressionGenerator, error) {
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	rule, err := evaluator.Compile(expression)
	if err != nil {
		return nil, err
	}
	g := &ExpressionGenerator{
		engine:     engineName(evaluator),
		expression: expression,
		rule:       rule,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Next implements Generator.
func (g *ExpressionGenerator) Next(ctx context.Context, in Input) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	key, err := g.rule.Evaluate(contextFromInput(in, g.args))
	if err == nil && key == nil {
		err = ErrNilKey
	}
	err = wrapEvaluationError(g.engine, g.expression, in.Table, err)

	event := g.logger.Debug()
	if err != nil {
		event = g.logger.Warn().Err(err)
	}
	event.Str("engine", g.engine).
		Str("expr", g.expression).
		Str("table", in.Table).
		Dur("duration", time.Since(start)).
		Msg("key expression evaluated")

	if err != nil {
		return nil, err
	}
	return key, nil
}

// Expression returns the source expression.
func (g *ExpressionGenerator) Expression() string {
	return g.expression
}

func engineName(e Evaluator) string {
	switch e.(type) {
	case *exprEvaluator:
		return "expr"
	case *celEvaluator:
		return "cel"
	default:
		return "custom"
	}
}

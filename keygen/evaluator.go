package keygen

import "time"

// RuleContext carries the inputs an expression sees when it runs.
type RuleContext struct {
	Table     string
	Prototype map[string]any
	Sequence  int64
	Now       *time.Time
	Args      map[string]any
}

// Evaluator runs key expressions.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule is an expression prepared once and evaluated per key.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// ProgramCache stores compiled programs keyed by engine and expression.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

func contextFromInput(in Input, args map[string]any) RuleContext {
	ctx := RuleContext{
		Table:     in.Table,
		Prototype: in.Prototype,
		Sequence:  in.Sequence,
		Args:      args,
	}
	if !in.Now.IsZero() {
		now := in.Now
		ctx.Now = &now
	}
	return ctx
}

func (ctx RuleContext) withDefaults() RuleContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Prototype == nil {
		ctx.Prototype = map[string]any{}
	}
	return ctx
}

// reserved names win over prototype fields; the full prototype stays
// reachable as entity.
var reservedNames = map[string]struct{}{
	"entity": {},
	"table":  {},
	"seq":    {},
	"now":    {},
	"args":   {},
	"call":   {},
}

// bindings flattens ctx into the variable set shared by every engine.
func (ctx RuleContext) bindings() map[string]any {
	ctx = ctx.withDefaults()
	env := make(map[string]any, len(ctx.Prototype)+len(reservedNames))
	for key, value := range ctx.Prototype {
		if _, reserved := reservedNames[key]; reserved {
			continue
		}
		env[key] = value
	}
	env["entity"] = ctx.Prototype
	env["table"] = ctx.Table
	env["seq"] = ctx.Sequence
	env["now"] = *ctx.Now
	env["args"] = ctx.Args
	return env
}

func cacheKey(engine, expression string) string {
	return engine + ":" + expression
}

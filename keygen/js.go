//go:build js_eval

package keygen

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// ErrJSTimeout is returned when a key script exceeds its run timeout.
var ErrJSTimeout = errors.New("keygen: js key script timed out")

type jsEvaluator struct {
	cfg jsKeyConfig
}

// NewJSEvaluator constructs an Evaluator that computes keys with goja.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	return &jsEvaluator{cfg: newJSKeyConfig(opts)}
}

// JSAvailable reports whether key scripts can run in this binary.
func JSAvailable() bool { return true }

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *jsEvaluator) Compile(expression string) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError("js", ErrEmptyExpression)
	}
	key := cacheKey("js", expression)
	if e.cfg.cache != nil {
		if cached, ok := e.cfg.cache.Get(key); ok {
			if script, ok := cached.(*goja.Program); ok {
				return &jsKeyScript{evaluator: e, source: expression, script: script}, nil
			}
		}
	}
	script, err := goja.Compile("key.js", fmt.Sprintf("(function(){ return (%s); })()", expression), e.cfg.strict)
	if err != nil {
		return nil, wrapEvaluationError("js", expression, "", err)
	}
	if e.cfg.cache != nil {
		e.cfg.cache.Set(key, script)
	}
	return &jsKeyScript{evaluator: e, source: expression, script: script}, nil
}

// runtime builds a fresh goja runtime per key; runtimes are not safe for
// concurrent inserts.
func (e *jsEvaluator) runtime(ctx RuleContext) (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	for name, value := range ctx.bindings() {
		if err := vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("bind %q: %w", name, err)
		}
	}
	registry := e.cfg.registry
	if registry == nil {
		return vm, nil
	}
	if err := vm.Set("call", func(name string, arguments ...any) (any, error) {
		return registry.Call(name, arguments...)
	}); err != nil {
		return nil, err
	}
	for _, name := range registry.Names() {
		fn := name
		if err := vm.Set(fn, func(arguments ...any) (any, error) {
			return registry.Call(fn, arguments...)
		}); err != nil {
			return nil, err
		}
	}
	return vm, nil
}

type jsKeyScript struct {
	evaluator *jsEvaluator
	source    string
	script    *goja.Program
}

func (s *jsKeyScript) Evaluate(ctx RuleContext) (any, error) {
	vm, err := s.evaluator.runtime(ctx)
	if err != nil {
		return nil, wrapEvaluationError("js", s.source, ctx.Table, err)
	}
	timer := time.AfterFunc(s.evaluator.cfg.timeout, func() {
		vm.Interrupt(ErrJSTimeout)
	})
	defer timer.Stop()

	value, err := vm.RunProgram(s.script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			err = fmt.Errorf("%w after %s", ErrJSTimeout, s.evaluator.cfg.timeout)
		}
		return nil, wrapEvaluationError("js", s.source, ctx.Table, err)
	}
	return value.Export(), nil
}

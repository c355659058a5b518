package keygen

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type account struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func TestUUIDGeneratorProducesDistinctKeys(t *testing.T) {
	gen := UUID()
	first, err := gen.Next(context.Background(), Input{})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	second, _ := gen.Next(context.Background(), Input{})
	if first == second {
		t.Fatalf("expected distinct keys, got %v twice", first)
	}
	if _, err := uuid.Parse(first.(string)); err != nil {
		t.Fatalf("expected uuid, got %v: %v", first, err)
	}
}

func TestSequenceGeneratorIsMonotonic(t *testing.T) {
	gen := Sequence(10)
	for want := int64(10); want < 13; want++ {
		got, err := gen.Next(context.Background(), Input{})
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %v", want, got)
		}
	}
}

func TestGeneratorsHonourCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, gen := range map[string]Generator{"uuid": UUID(), "sequence": Sequence(1)} {
		if _, err := gen.Next(ctx, Input{}); !errors.Is(err, context.Canceled) {
			t.Fatalf("%s: expected context.Canceled, got %v", name, err)
		}
	}
}

func TestSnapshotUsesJSONNames(t *testing.T) {
	snap := Snapshot(account{ID: "a1", Name: "John"})
	if snap["id"] != "a1" || snap["name"] != "John" {
		t.Fatalf("unexpected snapshot %#v", snap)
	}
	if got := Snapshot(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty map for nil, got %#v", got)
	}
	var missing *account
	if got := Snapshot(missing); got == nil || len(got) != 0 {
		t.Fatalf("expected empty map for nil pointer, got %#v", got)
	}
	if got := Snapshot("scalar"); len(got) != 0 {
		t.Fatalf("expected empty map for scalar, got %#v", got)
	}
}

func TestExpressionGenerators(t *testing.T) {
	input := Input{
		Table:     "users",
		Prototype: Snapshot(account{Name: "John", Email: "John@Example.com"}),
		Sequence:  3,
		Now:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	cases := []struct {
		name       string
		evaluator  Evaluator
		expression string
		want       any
	}{
		{
			name:       "expr field and sequence",
			evaluator:  NewExprEvaluator(ExprWithFunctionRegistry(DefaultFunctions())),
			expression: `lower(email) + "#" + string(seq)`,
			want:       "john@example.com#3",
		},
		{
			name:       "expr table and entity map",
			evaluator:  NewExprEvaluator(),
			expression: `table + ":" + entity.name`,
			want:       "users:John",
		},
		{
			name:       "cel upper",
			evaluator:  NewCELEvaluator(CELWithFunctionRegistry(DefaultFunctions())),
			expression: `upper(name) + "-" + string(seq)`,
			want:       "JOHN-3",
		},
		{
			name:       "cel call dispatch",
			evaluator:  NewCELEvaluator(CELWithFunctionRegistry(DefaultFunctions())),
			expression: `call("lower", name)`,
			want:       "john",
		},
		{
			name:       "cel timestamp",
			evaluator:  NewCELEvaluator(),
			expression: `table + "-" + string(now.getFullYear())`,
			want:       "users-2024",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen, err := Expression(tc.evaluator, tc.expression)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := gen.Next(context.Background(), input)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestExpressionUUIDFunction(t *testing.T) {
	gen, err := Expression(NewExprEvaluator(ExprWithFunctionRegistry(DefaultFunctions())), `"usr_" + uuid()`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	key, err := gen.Next(context.Background(), Input{Table: "users"})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	text, _ := key.(string)
	if !strings.HasPrefix(text, "usr_") {
		t.Fatalf("expected usr_ prefix, got %v", key)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(text, "usr_")); err != nil {
		t.Fatalf("expected uuid suffix: %v", err)
	}
}

func TestExpressionRejectsInvalidSetup(t *testing.T) {
	if _, err := Expression(nil, "seq"); !errors.Is(err, ErrNoEvaluator) {
		t.Fatalf("expected ErrNoEvaluator, got %v", err)
	}
	if _, err := Expression(NewExprEvaluator(), "  "); !errors.Is(err, ErrEmptyExpression) {
		t.Fatalf("expected ErrEmptyExpression, got %v", err)
	}
	if _, err := Expression(NewExprEvaluator(), "table +"); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestExpressionNilKeyIsAnError(t *testing.T) {
	gen, err := Expression(NewExprEvaluator(), "nil")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = gen.Next(context.Background(), Input{Table: "users"})
	if !errors.Is(err, ErrNilKey) {
		t.Fatalf("expected ErrNilKey, got %v", err)
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.Engine != "expr" || evalErr.Table != "users" {
		t.Fatalf("unexpected error metadata %+v", evalErr)
	}
}

func TestFunctionRegistry(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("Prefix", func(args ...any) (any, error) {
		return "p_" + args[0].(string), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("prefix", func(...any) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := registry.Register("nil", nil); err == nil {
		t.Fatalf("expected nil function error")
	}

	clone := registry.Clone()
	_ = clone.Register("extra", func(...any) (any, error) { return 1, nil })
	if len(registry.Names()) != 1 {
		t.Fatalf("clone mutated source: %v", registry.Names())
	}

	got, err := registry.Call("PREFIX", "x")
	if err != nil || got != "p_x" {
		t.Fatalf("unexpected call result %v, %v", got, err)
	}
	if _, err := registry.Call("missing"); err == nil {
		t.Fatalf("expected unknown function error")
	}
	if _, err := callByName(registry, []any{42}); err == nil {
		t.Fatalf("expected non-string name error")
	}
}

func TestEvaluationErrorWrapping(t *testing.T) {
	base := errors.New("boom")
	err := wrapEvaluationError("cel", "seq + 1", "users", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error")
	}
	if !strings.Contains(err.Error(), `expr="seq + 1"`) || !strings.Contains(err.Error(), "table=users") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	again := wrapEvaluationError("expr", "other", "orders", err)
	var evalErr *EvaluationError
	if !errors.As(again, &evalErr) || evalErr.Engine != "cel" || evalErr.Table != "users" {
		t.Fatalf("expected existing metadata preserved, got %v", again)
	}
	if wrapEvaluatorError("expr", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if got := wrapEvaluatorError("expr", base); !strings.HasPrefix(got.Error(), "keygen: expr evaluator:") {
		t.Fatalf("unexpected evaluator error %q", got)
	}
}

func TestJSEvaluatorStubWithoutTag(t *testing.T) {
	if JSAvailable() {
		t.Skip("built with js_eval")
	}
	if NewJSEvaluator() != nil {
		t.Fatalf("expected nil evaluator without js_eval")
	}
}

func TestExpressionArgsAndLogging(t *testing.T) {
	var buf bytes.Buffer
	gen, err := Expression(NewExprEvaluator(), `args.prefix + string(seq)`,
		WithArgs(map[string]any{"prefix": "ord-"}),
		WithLogger(zerolog.New(&buf)),
	)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	key, err := gen.Next(context.Background(), Input{Table: "orders", Sequence: 12})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if key != "ord-12" {
		t.Fatalf("expected ord-12, got %v", key)
	}
	if !strings.Contains(buf.String(), "key expression evaluated") || !strings.Contains(buf.String(), `"table":"orders"`) {
		t.Fatalf("expected evaluation log, got %q", buf.String())
	}
}

package programcache

import (
	"context"
	"testing"

	"github.com/goliatone/go-entity/keygen"
)

var _ keygen.ProgramCache = (*Cache)(nil)

func TestCacheStoresCompiledPrograms(t *testing.T) {
	cache, err := New(Config{MaxPrograms: 16})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	cache.Set("expr:table", "program")
	cache.Wait()

	value, ok := cache.Get("expr:table")
	if !ok {
		t.Fatalf("expected cached value")
	}
	if value != "program" {
		t.Fatalf("unexpected cached value %v", value)
	}
	if _, ok := cache.Get("missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var cache *Cache
	cache.Set("k", 1)
	cache.Wait()
	if _, ok := cache.Get("k"); ok {
		t.Fatalf("expected nil cache miss")
	}
	cache.Close()
}

func TestCacheBacksExpressionGenerator(t *testing.T) {
	cache, err := New(Config{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	evaluator := keygen.NewExprEvaluator(keygen.ExprWithProgramCache(cache))
	gen, err := keygen.Expression(evaluator, `table + "-" + string(seq)`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	key, err := gen.Next(context.Background(), keygen.Input{Table: "users", Sequence: 7})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if key != "users-7" {
		t.Fatalf("expected users-7, got %v", key)
	}

	cache.Wait()
	if _, ok := cache.Get("expr:" + gen.Expression()); !ok {
		t.Fatalf("expected compiled program in cache")
	}
}

// Package keygen assigns primary keys for connectors that own key
// generation. Generators range from plain UUIDs and counters to expression
// rules evaluated with expr, CEL or (behind the js_eval tag) JavaScript.
package keygen

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Input describes the record a key is being generated for.
type Input struct {
	Table     string
	Prototype map[string]any
	Sequence  int64
	Now       time.Time
}

// Generator produces the next primary key for a table.
type Generator interface {
	Next(ctx context.Context, in Input) (any, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, in Input) (any, error)

// Next implements Generator.
func (f GeneratorFunc) Next(ctx context.Context, in Input) (any, error) {
	if f == nil {
		return nil, fmt.Errorf("keygen: generator func is nil")
	}
	return f(ctx, in)
}

// UUID returns a generator of random version 4 UUID strings.
func UUID() Generator {
	return GeneratorFunc(func(ctx context.Context, _ Input) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return uuid.NewString(), nil
	})
}

// SequenceGenerator hands out monotonically increasing int64 keys.
type SequenceGenerator struct {
	mu   sync.Mutex
	next int64
}

// Sequence returns a generator whose first key is start.
func Sequence(start int64) *SequenceGenerator {
	return &SequenceGenerator{next: start}
}

// Next implements Generator. Keys are shared across tables.
func (s *SequenceGenerator) Next(ctx context.Context, _ Input) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.next
	s.next++
	return key, nil
}

// Snapshot renders v as the map view expression rules see, using the
// value's JSON field names. Values that do not encode to a JSON object yield
// an empty map.
func Snapshot(v any) map[string]any {
	out := map[string]any{}
	if v == nil {
		return out
	}
	if m, ok := v.(map[string]any); ok {
		for key, value := range m {
			out[key] = value
		}
		return out
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

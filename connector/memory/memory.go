// Package memory provides an in-memory entity.Connector intended for tests,
// examples and processes that want the Manager's database path without a
// real store. Tables only exist after GetConnection.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	entity "github.com/goliatone/go-entity"
	"github.com/goliatone/go-entity/keygen"
	"github.com/rs/zerolog"
)

// Option configures a Connector.
type Option[T any] func(*Connector[T])

// WithKeyGenerator makes the connector assign keys on insert. Without a
// generator Insert returns a nil key and callers must supply one.
func WithKeyGenerator[T any](generator keygen.Generator) Option[T] {
	return func(c *Connector[T]) {
		c.generator = generator
	}
}

// WithKeyField names the field generated keys are written to.
func WithKeyField[T any](field string) Option[T] {
	return func(c *Connector[T]) {
		c.keyField = field
	}
}

// WithLogger sets the connector logger.
func WithLogger[T any](logger zerolog.Logger) Option[T] {
	return func(c *Connector[T]) {
		c.logger = logger
	}
}

// Connector stores records per table in memory.
type Connector[T any] struct {
	mu        sync.RWMutex
	tables    map[string][]T
	sequence  int64
	closed    bool
	generator keygen.Generator
	keyField  string
	logger    zerolog.Logger
}

// New constructs an empty Connector.
func New[T any](opts ...Option[T]) *Connector[T] {
	c := &Connector[T]{
		tables:   map[string][]T{},
		keyField: "id",
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetConnection creates table when missing and reopens a closed connector.
func (c *Connector[T]) GetConnection(_ context.Context, table string) (bool, error) {
	if table == "" {
		return false, fmt.Errorf("memory: table name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
	if _, ok := c.tables[table]; !ok {
		c.tables[table] = []T{}
	}
	return true, nil
}

// HealthCheck reports whether the connector is open and table exists.
func (c *Connector[T]) HealthCheck(_ context.Context, table string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	_, ok := c.tables[table]
	return ok
}

// Insert appends a copy of prototype to table. When a key generator is
// configured the generated key is written to the key field and returned.
func (c *Connector[T]) Insert(ctx context.Context, prototype T, table string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.tables[table]
	if !ok || c.closed {
		return nil, nil
	}

	record := entity.Clone(prototype)
	var key any
	if c.generator != nil {
		c.sequence++
		generated, err := c.generator.Next(ctx, keygen.Input{
			Table:     table,
			Prototype: keygen.Snapshot(prototype),
			Sequence:  c.sequence,
			Now:       time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("memory: generate key for %q: %w", table, err)
		}
		if err := entity.SetField(&record, c.keyField, generated); err != nil {
			return nil, fmt.Errorf("memory: assign key for %q: %w", table, err)
		}
		key = generated
	}

	c.tables[table] = append(rows, record)
	c.logger.Debug().Str("table", table).Interface("key", key).Msg("memory record inserted")
	return key, nil
}

// Remove deletes the first record matching key.
func (c *Connector[T]) Remove(_ context.Context, key entity.KeyPair, table string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.tables[table]
	if !ok {
		return false, nil
	}
	index := find(rows, key)
	if index < 0 {
		return false, nil
	}
	c.tables[table] = append(rows[:index:index], rows[index+1:]...)
	c.logger.Debug().Str("table", table).Str("key", key.String()).Msg("memory record removed")
	return true, nil
}

// Get returns a copy of the first record matching key.
func (c *Connector[T]) Get(_ context.Context, key entity.KeyPair, table string) (T, bool, error) {
	var zero T
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows, ok := c.tables[table]
	if !ok {
		return zero, false, nil
	}
	index := find(rows, key)
	if index < 0 {
		return zero, false, nil
	}
	return entity.Clone(rows[index]), true, nil
}

// CloseConnection marks the connector closed. Records are kept so a later
// GetConnection resumes where the connector left off.
func (c *Connector[T]) CloseConnection(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Len returns the number of records stored in table.
func (c *Connector[T]) Len(table string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables[table])
}

func find[T any](rows []T, key entity.KeyPair) int {
	for i, row := range rows {
		value, ok := entity.FieldValue(row, key.Field)
		if ok && entity.KeyEqual(value, key.Value) {
			return i
		}
	}
	return -1
}

package entity

import (
	"context"
	"fmt"
)

// KeyPair names a primary-key field and its value.
type KeyPair struct {
	Field string
	Value any
}

// Key builds a KeyPair.
func Key(field string, value any) KeyPair {
	return KeyPair{Field: field, Value: value}
}

func (k KeyPair) String() string {
	return fmt.Sprintf("%s=%v", k.Field, k.Value)
}

// Connector is the storage boundary a Manager delegates persistence to. Any
// backing store implements it directly; the Manager only probes health, calls
// the CRUD operations and asks for the connection to be closed on Clean.
type Connector[T any] interface {
	// HealthCheck reports whether the store is reachable and table exists.
	HealthCheck(ctx context.Context, table string) bool
	// Insert persists the prototype and returns the key the store assigned,
	// or nil when the store does not assign keys.
	Insert(ctx context.Context, prototype T, table string) (any, error)
	// Remove deletes the record matching key and reports whether one existed.
	Remove(ctx context.Context, key KeyPair, table string) (bool, error)
	// Get loads the record matching key.
	Get(ctx context.Context, key KeyPair, table string) (T, bool, error)
	// GetConnection opens or creates whatever table context is required.
	// Calling it repeatedly is safe.
	GetConnection(ctx context.Context, table string) (bool, error)
	// CloseConnection must not return before the connection is released.
	CloseConnection(ctx context.Context) error
}

// DatabaseBinding pairs a Connector with table and key metadata.
type DatabaseBinding[T any] struct {
	Connector     Connector[T]
	TableName     string
	PrimaryKey    string
	AutoGenerated bool
}

// LocalStore configures the local-only primary-key policy.
type LocalStore struct {
	PrimaryKey string
}

// Mode identifies the primary-key policy a Manager applies.
type Mode int

const (
	// ModeUnconstrained applies no primary-key checks.
	ModeUnconstrained Mode = iota
	// ModeLocalKey requires a unique key per mirrored entity.
	ModeLocalKey
	// ModeDatabase delegates to a DatabaseBinding.
	ModeDatabase
)

func (m Mode) String() string {
	switch m {
	case ModeLocalKey:
		return "local_key"
	case ModeDatabase:
		return "database"
	default:
		return "unconstrained"
	}
}

package entity

import (
	"strings"

	"github.com/goliatone/go-entity/pkg/activity"
	"github.com/rs/zerolog"
)

// Option configures a Manager.
type Option[T any] func(*managerConfig[T])

type managerConfig[T any] struct {
	database    *DatabaseBinding[T]
	localKey    string
	logger      zerolog.Logger
	hooks       activity.Hooks
	activityCfg activity.Config
	objectType  string
}

// WithDatabase attaches a database binding. Every save, get and remove then
// routes through binding.Connector while it reports the table healthy.
func WithDatabase[T any](binding DatabaseBinding[T]) Option[T] {
	return func(cfg *managerConfig[T]) {
		if binding.Connector == nil {
			return
		}
		copied := binding
		cfg.database = &copied
	}
}

// WithLocalStore applies the local-only primary-key policy.
func WithLocalStore[T any](store LocalStore) Option[T] {
	return WithLocalPrimaryKey[T](store.PrimaryKey)
}

// WithLocalPrimaryKey requires every saved entity to carry a unique value
// under field.
func WithLocalPrimaryKey[T any](field string) Option[T] {
	return func(cfg *managerConfig[T]) {
		cfg.localKey = strings.TrimSpace(field)
	}
}

// WithLogger sets the structured logger. Defaults to zerolog.Nop().
func WithLogger[T any](logger zerolog.Logger) Option[T] {
	return func(cfg *managerConfig[T]) {
		cfg.logger = logger
	}
}

// WithActivityHooks enables lifecycle events fanned out to hooks.
func WithActivityHooks[T any](hooks ...activity.Hook) Option[T] {
	return func(cfg *managerConfig[T]) {
		cfg.hooks = append(cfg.hooks, hooks...)
		cfg.activityCfg.Enabled = true
	}
}

// WithActivityConfig overrides emitter defaults such as channel and actor.
// Emission stays enabled when hooks were already attached.
func WithActivityConfig[T any](config activity.Config) Option[T] {
	return func(cfg *managerConfig[T]) {
		config.Enabled = config.Enabled || cfg.activityCfg.Enabled
		cfg.activityCfg = config
	}
}

// WithObjectType sets the object type reported on lifecycle events.
func WithObjectType[T any](objectType string) Option[T] {
	return func(cfg *managerConfig[T]) {
		cfg.objectType = strings.TrimSpace(objectType)
	}
}

func applyManagerOptions[T any](opts []Option[T]) managerConfig[T] {
	cfg := managerConfig[T]{logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

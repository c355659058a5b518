package entity

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/goliatone/go-entity/pkg/activity"
	"github.com/rs/zerolog"
)

// Manager owns the entity lifecycle for one entity type: builders staged per
// handle, the local mirror of committed entities, and the primary-key policy.
//
// The mutex only protects map access. It is never held across a connector
// call, so a health check followed by the operation it gates is not atomic;
// callers coordinating the same handle from several goroutines must
// serialise those calls themselves.
type Manager[T any] struct {
	mu       sync.Mutex
	builders map[Handle]*Builder[T]
	mirror   map[Handle]T

	database   *DatabaseBinding[T]
	localKey   string
	logger     zerolog.Logger
	emitter    *activity.Emitter
	objectType string
}

// NewManager constructs a Manager. Without WithDatabase or
// WithLocalPrimaryKey it applies no primary-key policy.
func NewManager[T any](opts ...Option[T]) *Manager[T] {
	cfg := applyManagerOptions(opts)
	m := &Manager[T]{
		builders:   make(map[Handle]*Builder[T]),
		mirror:     make(map[Handle]T),
		database:   cfg.database,
		localKey:   cfg.localKey,
		emitter:    activity.NewEmitter(cfg.hooks, cfg.activityCfg),
		objectType: cfg.objectType,
	}
	m.logger = cfg.logger.With().Str("mode", m.Mode().String()).Str("table", m.table()).Logger()
	return m
}

// Mode reports the primary-key policy in effect.
func (m *Manager[T]) Mode() Mode {
	switch {
	case m.database != nil:
		return ModeDatabase
	case m.localKey != "":
		return ModeLocalKey
	default:
		return ModeUnconstrained
	}
}

// KeyField returns the primary-key field the Manager enforces, if any.
func (m *Manager[T]) KeyField() string {
	if m.database != nil {
		return m.database.PrimaryKey
	}
	return m.localKey
}

// Connect asks the connector to open the bound table. Local modes have
// nothing to open and report true.
func (m *Manager[T]) Connect(ctx context.Context) (bool, error) {
	if m.database == nil {
		return true, nil
	}
	ok, err := m.database.Connector.GetConnection(ctx, m.database.TableName)
	if err != nil {
		return false, fmt.Errorf("entity: connect %q: %w", m.database.TableName, err)
	}
	m.logger.Debug().Bool("ready", ok).Msg("entity connector connected")
	return ok, nil
}

// Create registers a Builder for h seeded by defaults and returns it.
func (m *Manager[T]) Create(h Handle, defaults func() T) (*Builder[T], error) {
	if h.IsZero() {
		return nil, wrapLifecycleError("create", h, ErrZeroHandle)
	}

	m.mu.Lock()
	if _, exists := m.builders[h]; exists {
		m.mu.Unlock()
		return nil, wrapLifecycleError("create", h, ErrDuplicateHandle)
	}
	builder := NewBuilder(defaults, WithKeyField[T](m.KeyField()))
	m.builders[h] = builder
	m.mu.Unlock()

	m.logger.Debug().Str("handle", h.String()).Msg("entity builder created")
	m.emit(context.Background(), activity.BuildEntityCreatedEvent(m.eventInput(h, nil)))
	return builder, nil
}

// Save commits the entity staged for h without supplying a primary key.
func (m *Manager[T]) Save(ctx context.Context, h Handle) (T, error) {
	return m.save(ctx, h, nil)
}

// SaveWithKey commits the entity staged for h under the supplied key.
func (m *Manager[T]) SaveWithKey(ctx context.Context, h Handle, key KeyPair) (T, error) {
	return m.save(ctx, h, &key)
}

func (m *Manager[T]) save(ctx context.Context, h Handle, supplied *KeyPair) (T, error) {
	var zero T

	if err := m.assertKeyValidity(supplied); err != nil {
		return zero, wrapLifecycleError("save", h, err)
	}

	builder, err := m.retrieveBuilder(h)
	if err != nil {
		return zero, wrapLifecycleError("save", h, err)
	}
	entity, err := builder.Compute()
	if err != nil {
		return zero, wrapLifecycleError("save", h, err)
	}

	var effective *KeyPair
	if supplied != nil {
		pair := *supplied
		effective = &pair
		if err := SetField(&entity, pair.Field, pair.Value); err != nil {
			return zero, wrapLifecycleError("save", h, err)
		}
	}

	if m.databaseReady(ctx) {
		if m.database.AutoGenerated {
			candidate := Clone(entity)
			if err := SetField(&candidate, m.database.PrimaryKey, nil); err != nil {
				return zero, wrapLifecycleError("save", h, err)
			}
		}
		created, err := m.database.Connector.Insert(ctx, Clone(entity), m.database.TableName)
		if err != nil {
			return zero, wrapLifecycleError("save", h, err)
		}
		if m.database.AutoGenerated {
			if isEmptyKey(created) {
				return zero, wrapLifecycleError("save", h, ErrInsertionFailed)
			}
			effective = &KeyPair{Field: m.database.PrimaryKey, Value: created}
			if err := SetField(&entity, effective.Field, effective.Value); err != nil {
				return zero, wrapLifecycleError("save", h, m.rollbackInsert(ctx, *effective, err))
			}
		}
	} else if m.localKey != "" && effective != nil {
		if err := m.assertUniqueKey(*effective); err != nil {
			return zero, wrapLifecycleError("save", h, err)
		}
	}

	m.mu.Lock()
	m.mirror[h] = Clone(entity)
	m.mu.Unlock()

	event := m.logger.Debug().Str("handle", h.String())
	if effective != nil {
		event = event.Str("key_field", effective.Field).Interface("key_value", effective.Value)
	}
	event.Msg("entity saved")
	m.emit(ctx, activity.BuildEntitySavedEvent(m.eventInput(h, effective)))

	return Clone(entity), nil
}

// Get resolves the entity committed for h. With a healthy database the
// record is fetched through the connector using the key held in the local
// mirror, so a handle that was never saved fails with ErrMissingEntity.
// Otherwise the mirror answers directly and an absent entity is not an error.
func (m *Manager[T]) Get(ctx context.Context, h Handle) (T, bool, error) {
	var zero T
	if m.databaseReady(ctx) {
		key, err := m.mirroredKey(h)
		if err != nil {
			return zero, false, wrapLifecycleError("get", h, err)
		}
		found, ok, err := m.database.Connector.Get(ctx, key, m.database.TableName)
		if err != nil {
			return zero, false, wrapLifecycleError("get", h, err)
		}
		return found, ok, nil
	}

	m.mu.Lock()
	found, ok := m.mirror[h]
	m.mu.Unlock()
	if !ok {
		return zero, false, nil
	}
	return Clone(found), true, nil
}

// Remove drops the entity committed for h. With a healthy database the
// connector removes the record first and its answer is returned; a failing
// connector leaves the mirror untouched.
func (m *Manager[T]) Remove(ctx context.Context, h Handle) (bool, error) {
	removed := false
	var key *KeyPair
	if m.databaseReady(ctx) {
		pair, err := m.mirroredKey(h)
		if err != nil {
			return false, wrapLifecycleError("remove", h, err)
		}
		removed, err = m.database.Connector.Remove(ctx, pair, m.database.TableName)
		if err != nil {
			return false, wrapLifecycleError("remove", h, err)
		}
		key = &pair
		m.dropMirrored(h)
	} else {
		removed = m.dropMirrored(h)
	}

	m.logger.Debug().Str("handle", h.String()).Bool("removed", removed).Msg("entity removed")
	if removed {
		m.emit(ctx, activity.BuildEntityRemovedEvent(m.eventInput(h, key)))
	}
	return removed, nil
}

// Clean drops every builder, removes every mirrored entity through the
// database when it is healthy, closes the connection and finally clears
// the mirror. Connector errors are joined and returned after the mirror has
// been cleared.
func (m *Manager[T]) Clean(ctx context.Context) error {
	m.mu.Lock()
	clear(m.builders)
	count := len(m.mirror)
	m.mu.Unlock()

	var errs []error
	if m.databaseReady(ctx) {
		for _, h := range m.Handles() {
			if _, err := m.Remove(ctx, h); err != nil {
				errs = append(errs, err)
			}
		}
		if err := m.database.Connector.CloseConnection(ctx); err != nil {
			errs = append(errs, fmt.Errorf("entity: close connection: %w", err))
		}
	}

	m.mu.Lock()
	clear(m.mirror)
	m.mu.Unlock()

	m.logger.Debug().Int("count", count).Msg("entity manager cleaned")
	if count > 0 {
		input := m.eventInput(Handle{}, nil)
		input.Count = count
		m.emit(ctx, activity.BuildManagerCleanedEvent(input))
	}
	return errors.Join(errs...)
}

// Len returns the number of entities in the local mirror.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mirror)
}

// Handles returns the handles with a committed entity, ordered by label.
func (m *Manager[T]) Handles() []Handle {
	m.mu.Lock()
	handles := make([]Handle, 0, len(m.mirror))
	for h := range m.mirror {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool {
		if handles[i].label == handles[j].label {
			return handles[i].id.String() < handles[j].id.String()
		}
		return handles[i].label < handles[j].label
	})
	return handles
}

func (m *Manager[T]) assertKeyValidity(supplied *KeyPair) error {
	if m.database != nil {
		if m.database.AutoGenerated {
			if supplied != nil {
				return ErrCannotOverrideAutoKey
			}
			return nil
		}
		if supplied == nil {
			return ErrMissingPrimaryKey
		}
		if !sameField(m.entityType(), supplied.Field, m.database.PrimaryKey) {
			return fmt.Errorf("%w: expected %q, got %q", ErrCannotOverrideExistingKey, m.database.PrimaryKey, supplied.Field)
		}
		return nil
	}
	if m.localKey != "" {
		if supplied == nil {
			return ErrMissingPrimaryKey
		}
		if !sameField(m.entityType(), supplied.Field, m.localKey) {
			return fmt.Errorf("%w: expected %q, got %q", ErrCannotOverrideExistingKey, m.localKey, supplied.Field)
		}
	}
	return nil
}

// assertUniqueKey scans every mirrored entity, including one previously
// saved under the same handle, for pair.Value under pair.Field.
func (m *Manager[T]) assertUniqueKey(pair KeyPair) error {
	if pair.Value == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.mirror {
		value, ok := FieldValue(existing, pair.Field)
		if ok && KeyEqual(value, pair.Value) {
			return duplicateKeyError(pair)
		}
	}
	return nil
}

// rollbackInsert removes a row whose generated key could not be written
// back into the entity, so the store and the mirror stay in step.
func (m *Manager[T]) rollbackInsert(ctx context.Context, key KeyPair, cause error) error {
	if _, err := m.database.Connector.Remove(ctx, key, m.database.TableName); err != nil {
		return errors.Join(cause, fmt.Errorf("entity: roll back insert %s: %w", key, err))
	}
	m.logger.Debug().Str("table", m.database.TableName).Str("key", key.String()).Msg("entity insert rolled back")
	return cause
}

func (m *Manager[T]) databaseReady(ctx context.Context) bool {
	if m.database == nil {
		return false
	}
	if m.database.Connector.HealthCheck(ctx, m.database.TableName) {
		return true
	}
	m.logger.Debug().Msg("entity database unhealthy, using local mirror")
	return false
}

func (m *Manager[T]) retrieveBuilder(h Handle) (*Builder[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	builder, ok := m.builders[h]
	if !ok {
		return nil, ErrMissingBuilder
	}
	return builder, nil
}

func (m *Manager[T]) mirroredKey(h Handle) (KeyPair, error) {
	m.mu.Lock()
	existing, ok := m.mirror[h]
	m.mu.Unlock()
	if !ok {
		return KeyPair{}, ErrMissingEntity
	}
	value, ok := FieldValue(existing, m.database.PrimaryKey)
	if !ok {
		return KeyPair{}, fmt.Errorf("%w: %s", ErrUnknownField, m.database.PrimaryKey)
	}
	return KeyPair{Field: m.database.PrimaryKey, Value: value}, nil
}

func (m *Manager[T]) dropMirrored(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mirror[h]
	delete(m.mirror, h)
	return ok
}

func (m *Manager[T]) table() string {
	if m.database == nil {
		return ""
	}
	return m.database.TableName
}

func (m *Manager[T]) entityType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (m *Manager[T]) eventInput(h Handle, key *KeyPair) activity.EntityEventInput {
	input := activity.EntityEventInput{
		ObjectType: m.objectType,
		Table:      m.table(),
		Mode:       m.Mode().String(),
		KeyField:   m.KeyField(),
	}
	if !h.IsZero() {
		input.Handle = h.String()
	}
	if key != nil {
		input.KeyField = key.Field
		input.KeyValue = key.Value
	}
	return input
}

func (m *Manager[T]) emit(ctx context.Context, event activity.Event) {
	if !m.emitter.Enabled() {
		return
	}
	if err := m.emitter.Emit(ctx, event); err != nil {
		m.logger.Warn().Err(err).Str("verb", event.Verb).Msg("entity activity hook failed")
	}
}

func isEmptyKey(key any) bool {
	if key == nil {
		return true
	}
	rv := reflect.ValueOf(key)
	return rv.IsZero()
}

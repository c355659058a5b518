// Package sqlite provides an entity.Connector persisting records in SQLite.
// Each table stores the primary key in a pk column and the rest of the record
// as a JSON body, so lookups on other fields go through json_extract.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	entity "github.com/goliatone/go-entity"
	"github.com/goliatone/go-entity/internal/hydrate"
	"github.com/goliatone/go-entity/keygen"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by record operations after CloseConnection.
var ErrClosed = errors.New("sqlite: connection is closed")

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Option configures a Connector.
type Option[T any] func(*Connector[T])

// WithKeyField names the entity field stored in the pk column. Defaults to
// "id".
func WithKeyField[T any](field string) Option[T] {
	return func(c *Connector[T]) {
		if field = strings.TrimSpace(field); field != "" {
			c.keyField = field
		}
	}
}

// WithAutoIncrement lets SQLite assign integer keys. Insert returns the new
// row id.
func WithAutoIncrement[T any]() Option[T] {
	return func(c *Connector[T]) {
		c.autoIncrement = true
	}
}

// WithKeyGenerator assigns keys with generator on insert. Ignored when
// auto-increment is enabled.
func WithKeyGenerator[T any](generator keygen.Generator) Option[T] {
	return func(c *Connector[T]) {
		c.generator = generator
	}
}

// RowHook adjusts a record after it is decoded from its row.
type RowHook[T any] func(table string, key any, record *T) error

// WithRowHook runs hook on every record loaded by Get.
func WithRowHook[T any](hook RowHook[T]) Option[T] {
	return func(c *Connector[T]) {
		if hook == nil {
			return
		}
		c.decoderOpts = append(c.decoderOpts, hydrate.WithPostHook[T](func(ctx hydrate.Context, record *T) error {
			return hook(ctx.Table, ctx.Key, record)
		}))
	}
}

// WithStrictDecoding rejects rows whose body carries fields T does not
// declare.
func WithStrictDecoding[T any]() Option[T] {
	return func(c *Connector[T]) {
		c.decoderOpts = append(c.decoderOpts, hydrate.WithDisallowUnknownFields[T]())
	}
}

// WithLogger sets the connector logger.
func WithLogger[T any](logger zerolog.Logger) Option[T] {
	return func(c *Connector[T]) {
		c.logger = logger
	}
}

// Connector implements entity.Connector[T] on a database/sql pool.
type Connector[T any] struct {
	cfg Config

	mu       sync.Mutex
	db       *sql.DB
	sequence int64

	keyField      string
	keyPath       string
	autoIncrement bool
	generator     keygen.Generator
	decoderOpts   []hydrate.DecoderOption[T]
	decoder       *hydrate.Decoder[T]
	logger        zerolog.Logger
}

// Open opens the database described by cfg and verifies it answers.
func Open[T any](cfg Config, opts ...Option[T]) (*Connector[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Connector[T]{
		cfg:      cfg,
		keyField: "id",
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.keyPath = entity.JSONPath[T](c.keyField)
	c.decoder = hydrate.NewDecoder[T](c.decoderOpts...)

	db, err := c.open(context.Background())
	if err != nil {
		return nil, err
	}
	c.db = db
	return c, nil
}

func (c *Connector[T]) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", c.cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", c.cfg.Path, err)
	}
	db.SetMaxOpenConns(c.cfg.maxOpenConns())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", c.cfg.Path, err)
	}
	c.logger.Debug().Str("path", c.cfg.Path).Msg("sqlite database opened")
	return db, nil
}

func (c *Connector[T]) handle() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, ErrClosed
	}
	return c.db, nil
}

// GetConnection creates table when missing, reopening the pool if it was
// closed.
func (c *Connector[T]) GetConnection(ctx context.Context, table string) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}
	c.mu.Lock()
	if c.db == nil {
		db, err := c.open(ctx)
		if err != nil {
			c.mu.Unlock()
			return false, err
		}
		c.db = db
	}
	db := c.db
	c.mu.Unlock()

	if _, err := db.ExecContext(ctx, c.createStatement(table)); err != nil {
		return false, fmt.Errorf("sqlite: create table %q: %w", table, err)
	}
	c.logger.Debug().Str("table", table).Msg("sqlite table ready")
	return true, nil
}

func (c *Connector[T]) createStatement(table string) string {
	if c.autoIncrement {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			pk INTEGER PRIMARY KEY AUTOINCREMENT,
			body TEXT NOT NULL
		)`, table)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		pk NOT NULL PRIMARY KEY,
		body TEXT NOT NULL
	)`, table)
}

// HealthCheck reports whether the pool answers and table exists.
func (c *Connector[T]) HealthCheck(ctx context.Context, table string) bool {
	if validateTable(table) != nil {
		return false
	}
	db, err := c.handle()
	if err != nil {
		return false
	}
	if err := db.PingContext(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("sqlite ping failed")
		return false
	}
	var found int
	err = db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`,
		table,
	).Scan(&found)
	return err == nil && found == 1
}

// Insert stores prototype and returns its key. The key comes from SQLite
// with auto-increment, from the key generator when one is set, and from
// the prototype's key field otherwise.
func (c *Connector[T]) Insert(ctx context.Context, prototype T, table string) (any, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	db, err := c.handle()
	if err != nil {
		return nil, err
	}

	payload := keygen.Snapshot(prototype)
	c.stripKey(payload)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode %q record: %w", table, err)
	}

	if c.autoIncrement {
		result, err := db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (body) VALUES (?)`, table), string(body))
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert into %q: %w", table, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert into %q: %w", table, err)
		}
		c.logger.Debug().Str("table", table).Int64("key", id).Msg("sqlite record inserted")
		return id, nil
	}

	key, err := c.nextKey(ctx, prototype, payload, table)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (pk, body) VALUES (?, ?)`, table), bindable(key), string(body)); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: value %v already exists for %q", entity.ErrDuplicateKey, key, c.keyField)
		}
		return nil, fmt.Errorf("sqlite: insert into %q: %w", table, err)
	}
	c.logger.Debug().Str("table", table).Interface("key", key).Msg("sqlite record inserted")
	return key, nil
}

func (c *Connector[T]) nextKey(ctx context.Context, prototype T, payload map[string]any, table string) (any, error) {
	if c.generator == nil {
		key, ok := entity.FieldValue(prototype, c.keyField)
		if !ok || isZero(key) {
			return nil, fmt.Errorf("sqlite: %w: %q", entity.ErrMissingPrimaryKey, c.keyField)
		}
		return key, nil
	}
	c.mu.Lock()
	c.sequence++
	sequence := c.sequence
	c.mu.Unlock()
	key, err := c.generator.Next(ctx, keygen.Input{
		Table:     table,
		Prototype: payload,
		Sequence:  sequence,
		Now:       time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: generate key for %q: %w", table, err)
	}
	return key, nil
}

// Remove deletes the first record matching key.
func (c *Connector[T]) Remove(ctx context.Context, key entity.KeyPair, table string) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}
	db, err := c.handle()
	if err != nil {
		return false, err
	}
	where, args := c.match(key)
	statement := fmt.Sprintf(`DELETE FROM %q WHERE pk = (SELECT pk FROM %q WHERE %s LIMIT 1)`, table, table, where)
	result, err := db.ExecContext(ctx, statement, args...)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete from %q: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: delete from %q: %w", table, err)
	}
	c.logger.Debug().Str("table", table).Str("key", key.String()).Int64("affected", affected).Msg("sqlite record removed")
	return affected > 0, nil
}

// Get loads the first record matching key.
func (c *Connector[T]) Get(ctx context.Context, key entity.KeyPair, table string) (T, bool, error) {
	var zero T
	if err := validateTable(table); err != nil {
		return zero, false, err
	}
	db, err := c.handle()
	if err != nil {
		return zero, false, err
	}
	where, args := c.match(key)
	var (
		pk   any
		body string
	)
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT pk, body FROM %q WHERE %s LIMIT 1`, table, where), args...).Scan(&pk, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("sqlite: select from %q: %w", table, err)
	}

	var extra map[string]any
	if !strings.Contains(c.keyPath, ".") {
		extra = map[string]any{c.keyPath: pk}
	}
	record, err := c.decoder.DecodeJSON(hydrate.Context{Table: table, Key: pk}, []byte(body), extra)
	if err != nil {
		return zero, false, err
	}
	return record, true, nil
}

// CloseConnection closes the pool. Later record operations fail with
// ErrClosed until GetConnection reopens it.
func (c *Connector[T]) CloseConnection(context.Context) error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("sqlite: close %q: %w", c.cfg.Path, err)
	}
	c.logger.Debug().Str("path", c.cfg.Path).Msg("sqlite database closed")
	return nil
}

// Close is CloseConnection without a context.
func (c *Connector[T]) Close() error {
	return c.CloseConnection(context.Background())
}

func (c *Connector[T]) stripKey(payload map[string]any) {
	if strings.Contains(c.keyPath, ".") {
		return
	}
	for name := range payload {
		if strings.EqualFold(name, c.keyPath) {
			delete(payload, name)
		}
	}
}

// match builds the WHERE clause for key. The key field compares against the
// pk column and any other field against its JSON body path.
func (c *Connector[T]) match(key entity.KeyPair) (string, []any) {
	path := entity.JSONPath[T](key.Field)
	if strings.EqualFold(path, c.keyPath) {
		return "pk = ?", []any{bindable(key.Value)}
	}
	return "json_extract(body, ?) = ?", []any{"$." + path, bindable(key.Value)}
}

func validateTable(table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("sqlite: invalid table name %q", table)
	}
	return nil
}

// bindable normalises key values to the types SQLite compares natively:
// integers as int64, bools as 0 or 1 and named string types as string.
func bindable(value any) any {
	if value == nil {
		return nil
	}
	if valuer, ok := value.(driver.Valuer); ok {
		return valuer
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		if rv.Bool() {
			return int64(1)
		}
		return int64(0)
	case reflect.String:
		return rv.String()
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return bindable(rv.Elem().Interface())
	default:
		return fmt.Sprint(value)
	}
}

func isZero(value any) bool {
	if value == nil {
		return true
	}
	return reflect.ValueOf(value).IsZero()
}

func isUniqueViolation(err error) bool {
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") || strings.Contains(message, "PRIMARY KEY must be unique")
}

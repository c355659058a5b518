package entity

import (
	"errors"
	"fmt"
	"reflect"
)

// BuilderOption configures a Builder instance.
type BuilderOption[T any] func(*Builder[T])

// WithKeyField names the primary-key field the Builder refuses to stage and
// strips from every computed prototype.
func WithKeyField[T any](field string) BuilderOption[T] {
	return func(b *Builder[T]) {
		b.keyField = field
	}
}

// Builder stages the non-key fields of one entity on top of the defaults
// produced by a factory. The staged value is owned by the Builder; Compute
// hands out independent copies.
type Builder[T any] struct {
	proto    T
	keyField string
	errs     []error
}

// NewBuilder seeds a Builder with the value returned by defaults. A nil
// factory starts from the zero value of T.
func NewBuilder[T any](defaults func() T, opts ...BuilderOption[T]) *Builder[T] {
	b := &Builder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if defaults != nil {
		b.proto = Clone(defaults())
	}
	if b.keyField != "" {
		if err := clearField(&b.proto, b.keyField); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	return b
}

// Set assigns value to field and returns the Builder for chaining. Staging
// the key field records ErrCannotOverrideExistingKey; unknown fields record
// ErrUnknownField. Recorded errors surface from Compute and Err.
func (b *Builder[T]) Set(field string, value any) *Builder[T] {
	if b.keyField != "" && sameField(b.entityType(), field, b.keyField) {
		b.errs = append(b.errs, fmt.Errorf("%w: field %q is the primary key", ErrCannotOverrideExistingKey, field))
		return b
	}
	if err := SetField(&b.proto, field, value); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Apply mutates the staged value through fn. The key field is still
// stripped when the prototype is computed.
func (b *Builder[T]) Apply(fn func(*T)) *Builder[T] {
	if fn != nil {
		fn(&b.proto)
	}
	return b
}

// Compute returns a copy of the staged prototype with the key field reset.
// It can be called repeatedly and leaves the Builder usable.
func (b *Builder[T]) Compute() (T, error) {
	proto := Clone(b.proto)
	if b.keyField != "" {
		if err := clearField(&proto, b.keyField); err != nil {
			var zero T
			return zero, err
		}
	}
	if err := b.Err(); err != nil {
		var zero T
		return zero, err
	}
	return proto, nil
}

// Err returns every staging error recorded so far, joined.
func (b *Builder[T]) Err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return errors.Join(b.errs...)
}

// KeyField returns the primary-key field excluded from the prototype.
func (b *Builder[T]) KeyField() string {
	return b.keyField
}

func (b *Builder[T]) entityType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

package entity

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateHandle           = errors.New("entity: duplicate builder for handle")
	ErrMissingBuilder            = errors.New("entity: missing builder for handle")
	ErrMissingEntity             = errors.New("entity: missing entity for handle")
	ErrMissingPrimaryKey         = errors.New("entity: missing primary key")
	ErrCannotOverrideAutoKey     = errors.New("entity: can not override auto generated primary key")
	ErrCannotOverrideExistingKey = errors.New("entity: can not override existing primary key")
	ErrDuplicateKey              = errors.New("entity: primary key constraint error")
	ErrInsertionFailed           = errors.New("entity: database insertion error: no new element created")
	ErrUnknownField              = errors.New("entity: unknown field")
	ErrZeroHandle                = errors.New("entity: zero handle")
)

// LifecycleError captures the Manager operation and handle alongside the
// originating error. Connector errors are carried untouched in Err.
type LifecycleError struct {
	Op     string
	Handle Handle
	Err    error
}

func (e *LifecycleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("entity: %s %s: %v", e.Op, e.Handle, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func wrapLifecycleError(op string, handle Handle, err error) error {
	if err == nil {
		return nil
	}
	var lifecycleErr *LifecycleError
	if errors.As(err, &lifecycleErr) && lifecycleErr.Handle == handle {
		return err
	}
	return &LifecycleError{Op: op, Handle: handle, Err: err}
}

func duplicateKeyError(pair KeyPair) error {
	return fmt.Errorf("%w: value %v already exists for %q", ErrDuplicateKey, pair.Value, pair.Field)
}

package chat

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Typed errors below unwrap to one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

// ValidationError reports invalid caller input for a specific logical field.
// Field is a stable wire name: "content", "receiverId", "itemId", ...
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an unknown conversation or message.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %v", e.Resource, ErrNotFound)
	}
	return fmt.Sprintf("%s %v: %s", e.Resource, ErrNotFound, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// ForbiddenError reports a caller that is not allowed to act on a resource.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return ErrForbidden.Error()
	}
	return fmt.Sprintf("%v: %s", ErrForbidden, e.Reason)
}

func (e ForbiddenError) Unwrap() error { return ErrForbidden }

// OpError wraps a store failure with the operation that produced it.
type OpError struct {
	Op  string
	Err error
}

func (e OpError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e OpError) Unwrap() error { return e.Err }

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		nf NotFoundError
		ve ValidationError
	)
	if errors.As(err, &nf) || errors.As(err, &ve) {
		return err
	}
	return OpError{Op: op, Err: err}
}

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

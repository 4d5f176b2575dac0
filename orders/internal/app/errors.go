package app

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindInfra      ErrorKind = "infra"
)

// Error is the only error type a use case returns. Transports switch on Kind.
type Error struct {
	Kind     ErrorKind
	Message  string
	Fields   map[string]string
	Resource string
	ID       string
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func ValidationError(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func NotFoundError(resource string, id string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found", Resource: resource, ID: id}
}

func ConflictError(message string, cause error) *Error {
	return &Error{Kind: KindConflict, Message: message, Err: cause}
}

func InfraError(message string, cause error) *Error {
	return &Error{Kind: KindInfra, Message: message, Err: cause}
}

func AsError(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Sentinels that adapters wrap so use cases can classify persistence failures.
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
	ErrDuplicateOrder   = errors.New("order already exists")
)

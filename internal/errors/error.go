package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// session errors
	ErrConnection     = errors.New("connection error")
	ErrInvalidState   = errors.New("invalid session state")
	ErrSessionClosing = errors.New("session is closing")

	// retrieval errors
	ErrNotFound            = errors.New("not found")
	ErrInvalidFetchOptions = errors.New("invalid fetch options")
	ErrInvalidPage         = errors.New("invalid page request")

	// account errors
	ErrAccountNotFound     = errors.New("account not found")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrInvalidAccount      = errors.New("invalid account")
)

// ConnectionError is a transport or authentication failure. It is fatal for the
// session that produced it and is never retried here.
type ConnectionError struct {
	Identity string
	Op       string
	Err      error
}

func NewConnectionError(identity, op string, err error) *ConnectionError {
	return &ConnectionError{Identity: identity, Op: op, Err: err}
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Identity, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// InvalidStateError reports an operation invoked in a session state that does not allow it.
type InvalidStateError struct {
	Op    string
	State string
}

func NewInvalidStateError(op, state string) *InvalidStateError {
	return &InvalidStateError{Op: op, State: state}
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NotFound wraps ErrNotFound with the resource that could not be matched.
func NotFound(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccountNotFound)
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrBadRequest      = errors.New("bad request")
	ErrInvalidTemplate = errors.New("invalid template")
	ErrMissingVariable = errors.New("missing variable")
	ErrInvalidVariable = errors.New("invalid variable")
	ErrAlreadyInFlight = errors.New("already in flight")

	// ErrVersionConflict is returned by stores when a conditional write loses
	// against a concurrent writer. It matches ErrConflict as well.
	ErrVersionConflict = fmt.Errorf("version changed: %w", ErrConflict)
)

// MissingVariableError names the required variable that was absent at render time.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing variable %q", e.Name)
}

func (e *MissingVariableError) Is(target error) bool { return target == ErrMissingVariable }

// SendError is returned by channel senders. Retryable marks transient transport
// failures (network, timeout, throttling); everything else is permanent.
type SendError struct {
	Channel   Channel
	Code      string
	Retryable bool
	Err       error
}

func (e *SendError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s send failed (%s, %s): %v", e.Channel, kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s send failed (%s): %v", e.Channel, kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Retryable builds a transient SendError.
func Retryable(ch Channel, code string, err error) *SendError {
	return &SendError{Channel: ch, Code: code, Retryable: true, Err: err}
}

// Permanent builds a non-retryable SendError.
func Permanent(ch Channel, code string, err error) *SendError {
	return &SendError{Channel: ch, Code: code, Retryable: false, Err: err}
}

// IsRetryable reports whether err should lead to a requeue. Errors that are not
// SendErrors (context deadline, panics recovered upstream) count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

package exception

import (
	"context"

	"github.com/yanun0323/errors"
)

// IsRetryable reports whether an exchange call may be attempted again with the
// same client order id.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanentExchange) {
		return false
	}
	return errors.Is(err, ErrTransientExchange) || errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether the error must stop the whole process.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrPersistenceFatal)
}

// Transient marks err as a retryable exchange error. The result matches both
// ErrTransientExchange and err.
func Transient(err error, text string) error {
	return classify(ErrTransientExchange, err, text)
}

// Permanent marks err as a non-retryable exchange error. The result matches
// both ErrPermanentExchange and err.
func Permanent(err error, text string) error {
	return classify(ErrPermanentExchange, err, text)
}

func classify(class, cause error, text string) error {
	if cause == nil {
		return errors.Wrap(class, text)
	}
	return &classified{class: class, cause: cause, text: text}
}

type classified struct {
	class error
	cause error
	text  string
}

func (e *classified) Error() string {
	return e.text + ": " + e.class.Error() + ": " + e.cause.Error()
}

func (e *classified) Unwrap() []error {
	return []error{e.class, e.cause}
}

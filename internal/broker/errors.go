package broker

import "errors"

// Error taxonomy for broker operations. InvalidPayload-class errors are
// rejected at submit and never retried; transient handler failures retry with
// backoff; permanent handler failures route straight to the dead-letter queue.
var (
	ErrInvalidPayload    = errors.New("broker: invalid payload")
	ErrUnknownRoutingKey = errors.New("broker: unknown routing key")
	ErrUnknownQueue      = errors.New("broker: unknown queue")
	ErrTaskNotFound      = errors.New("broker: task not found")
	ErrNoLease           = errors.New("broker: no active lease for task")
	ErrNotCancellable    = errors.New("broker: task is not in a cancellable state")
)

// PermanentError wraps a handler error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable. Workers route tasks failing with a
// permanent error directly to the dead-letter queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or any wrapped error) is permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

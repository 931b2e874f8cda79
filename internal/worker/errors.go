package worker

import "errors"

// transientError marks a failure the broker should redeliver: lock
// contention, an in-flight duplicate, infrastructure errors. Everything else
// is terminal and must be recorded rather than retried forever.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (anywhere in its chain) was marked
// transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

package chain

import (
	"errors"
	"fmt"
)

// TransientError marks an RPC failure the caller should back off and
// retry rather than treat as a verdict about the transaction or block
// being queried. Every error leaving this package that stems from the
// endpoint (as opposed to bad input) is wrapped in one.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("chain: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable endpoint failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

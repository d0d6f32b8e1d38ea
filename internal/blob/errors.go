package blob

import (
	"errors"
	"fmt"
)

// ErrObjectNotFound is returned by ObjectStore implementations when the
// bucket/key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// TransferError wraps any I/O or remote failure during Fetch/Store.
type TransferError struct {
	Op  string // fetch, store
	URI string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IsTransferError reports whether err is (or wraps) a TransferError.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool { return errors.Is(err, ErrObjectNotFound) }

package store

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups for rows that do not exist, where the operation
// contract calls for an explicit not-found signal rather than a nil result.
var ErrNotFound = errors.New("not found")

// StorageError wraps a persistence failure with a human-readable message
// and optional query context. It is the only error kind the stores produce
// besides ErrNotFound.
type StorageError struct {
	Op      string // operation, e.g. "save embedding"
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage: %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("storage: %s: %s", e.Op, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr builds a StorageError wrapping err.
func storageErr(op, message string, err error) *StorageError {
	return &StorageError{Op: op, Message: message, Err: err}
}

package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all storage backends. Callers match them with
// errors.Is; StorageError keeps them reachable through Unwrap.
var (
	// ErrNotFound is returned when no object exists at the requested key.
	ErrNotFound = errors.New("object not found")

	// ErrKeyExists is returned by Put when the key is already taken and
	// overwrite was not requested.
	ErrKeyExists = errors.New("object already exists at this key")

	// ErrInvalidKey is returned for empty keys or keys attempting path
	// traversal.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrTooLarge is returned when an object exceeds the size limit set in
	// PutOptions.
	ErrTooLarge = errors.New("object exceeds maximum size")

	// ErrAccessDenied is returned when the backend refuses the operation.
	ErrAccessDenied = errors.New("access denied")
)

// StorageError carries the failed operation and key alongside the underlying
// cause.
type StorageError struct {
	Op  string // "Put", "Get", "Delete", "URL", "Exists"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

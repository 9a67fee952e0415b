package cache

import "fmt"

// StorageError reports that the sqlite store could not be opened, written
// or read.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

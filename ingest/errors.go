package ingest

import "fmt"

// IngestionError reports that the raw dataset could not be obtained or
// parsed. Nothing is written to the cache when it occurs.
type IngestionError struct {
	Source string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %q: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

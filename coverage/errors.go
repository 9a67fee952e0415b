package coverage

import (
	"errors"
	"fmt"
)

var ErrNoCoverageColumns = errors.New("no coverage columns detected")

// SchemaError is returned when no raw column matches any technology.
type SchemaError struct {
	Technologies []string
	Columns      int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%v: none of %d columns match technologies %v", ErrNoCoverageColumns, e.Columns, e.Technologies)
}

func (e *SchemaError) Unwrap() error { return ErrNoCoverageColumns }

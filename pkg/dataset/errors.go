package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// Define static errors
var (
	// ErrSchema marks an unrecoverable schema mismatch
	ErrSchema = errors.New("schema mismatch")
	// ErrInvalidValue is returned when a field cannot be coerced
	ErrInvalidValue = errors.New("invalid value")
	// ErrMalformed is returned when input is not readable as delimited text
	ErrMalformed = errors.New("malformed csv")
	// ErrUnknownDataset is returned for a dataset name without a spec
	ErrUnknownDataset = errors.New("unknown dataset")
)

// SchemaError reports required columns missing from an input. It is fatal for
// the dataset's run.
type SchemaError struct {
	Dataset string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing required columns [%s]", e.Dataset, strings.Join(e.Missing, ", "))
}

// Unwrap lets callers match ErrSchema with errors.Is
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

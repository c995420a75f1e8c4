package weights

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrMalformed      = errors.New("malformed weight file")
	ErrTensorNotFound = errors.New("tensor not found")
	ErrShapeMismatch  = errors.New("tensor shape mismatch")
)

// FormatError reports where a weight file stopped making sense.
type FormatError struct {
	Offset int    // Byte offset of the failing field
	Tensor int    // Index of the tensor being read, -1 for the file header
	Field  string // Field name, e.g. "name length"
	Detail string
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Tensor < 0 {
		return fmt.Sprintf("malformed weight file: %s at offset %d: %s", e.Field, e.Offset, e.Detail)
	}
	return fmt.Sprintf("malformed weight file: tensor %d %s at offset %d: %s", e.Tensor, e.Field, e.Offset, e.Detail)
}

// Unwrap returns ErrMalformed.
func (e *FormatError) Unwrap() error {
	return ErrMalformed
}

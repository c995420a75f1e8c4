package arena

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNoBacking    = errors.New("arena has no backing memory")
	ErrInvalidSize  = errors.New("invalid allocation size")
	ErrOutOfMemory  = errors.New("arena exhausted")
	ErrOutOfBounds  = errors.New("handle outside arena bounds")
	ErrNotAllocated = errors.New("handle does not refer to a live block")
)

// AllocError describes a failed allocation. It wraps ErrOutOfMemory so callers
// can test with errors.Is and still report the sizes involved.
type AllocError struct {
	Requested   int // Payload bytes asked for
	Needed      int // Block bytes after alignment and header
	LargestFree int // Largest free block at the time of the failure
	Capacity    int
}

// Error implements the error interface.
func (e *AllocError) Error() string {
	return fmt.Sprintf("arena exhausted: requested %d bytes (block %d), largest free block %d of %d",
		e.Requested, e.Needed, e.LargestFree, e.Capacity)
}

// Unwrap returns ErrOutOfMemory.
func (e *AllocError) Unwrap() error {
	return ErrOutOfMemory
}

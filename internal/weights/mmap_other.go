//go:build !unix

package weights

import (
	"fmt"
	"io"
	"os"
)

// mapFile reads the whole file into an aligned heap buffer where mmap is not
// available.
func mapFile(f *os.File, size int) ([]byte, func() error, error) {
	data := alignedBytes(size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, fmt.Errorf("failed to read weights: %w", err)
	}
	return data, func() error { return nil }, nil
}

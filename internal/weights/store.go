package weights

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"slices"
	"unsafe"
)

// FallbackPrefix is prepended to a name that misses exactly. One export tool
// writes the model's state dict with an extra "model." level, e.g.
// "model.model.0.conv.weight" for "model.0.conv.weight".
const FallbackPrefix = "model."

// Store is a read-only, name-indexed set of tensors.
//
// A Store returned by Open may alias a memory-mapped file; tensor data must
// not be used after Close.
type Store struct {
	tensors     []Tensor
	index       map[string]int
	checksum    [32]byte
	compression Compression
	size        int
	closer      func() error
}

// NewStore indexes tensors. When two tensors share a name the first wins.
func NewStore(tensors []Tensor) *Store {
	s := &Store{
		tensors: tensors,
		index:   make(map[string]int, len(tensors)),
		closer:  func() error { return nil },
	}
	for i, t := range tensors {
		if _, dup := s.index[t.Name]; !dup {
			s.index[t.Name] = i
		}
		s.size += len(t.Data) * 4
	}
	return s
}

// Load parses an in-memory container, decompressing it first when it carries
// a zstd or lz4 frame header.
func Load(data []byte) (*Store, error) {
	comp := DetectCompression(data)
	raw := data
	if comp != CompressionNone {
		var err error
		if raw, err = decompress(comp, bytes.NewReader(data), MaxDecodedBytes); err != nil {
			return nil, err
		}
	}
	return newParsedStore(raw, comp, nil)
}

// Open loads a weight file from disk. Uncompressed files are memory-mapped
// where the platform supports it; compressed files are decoded into memory.
//
// Important: Always call Close() when done (use defer).
func Open(path string) (*Store, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat weights: %w", err)
	}
	size := int(stat.Size())
	if size < 4 {
		return nil, &FormatError{Tensor: -1, Field: "tensor count", Detail: fmt.Sprintf("file is %d bytes", size)}
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	comp := DetectCompression(head)
	if comp != CompressionNone {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek weights: %w", err)
		}
		raw, err := decompress(comp, f, MaxDecodedBytes)
		if err != nil {
			return nil, err
		}
		return newParsedStore(raw, comp, nil)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek weights: %w", err)
	}
	data, unmap, err := mapFile(f, size)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	s, err := newParsedStore(data, comp, unmap)
	if err != nil {
		_ = unmap()
		return nil, err
	}
	return s, nil
}

func newParsedStore(raw []byte, comp Compression, closer func() error) (*Store, error) {
	tensors, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	s := NewStore(tensors)
	s.checksum = sha256.Sum256(raw)
	s.compression = comp
	if closer != nil {
		s.closer = closer
	}
	return s, nil
}

// Close releases the backing mapping, if any.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer()
	s.closer = nil
	return err
}

// Len returns the number of tensors.
func (s *Store) Len() int {
	return len(s.tensors)
}

// Tensors returns the tensors in file order.
func (s *Store) Tensors() []Tensor {
	return s.tensors
}

// Names returns the tensor names sorted lexically.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.index))
	for name := range s.index {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Checksum returns the SHA-256 of the decoded container. Zero for stores
// built with NewStore.
func (s *Store) Checksum() [32]byte {
	return s.checksum
}

// Compression returns the outer encoding the store was loaded from.
func (s *Store) Compression() Compression {
	return s.compression
}

// DataBytes returns the total float payload size.
func (s *Store) DataBytes() int {
	return s.size
}

// Lookup resolves name exactly, then with FallbackPrefix prepended. Any other
// miss is ErrTensorNotFound.
func (s *Store) Lookup(name string) (Tensor, error) {
	if i, ok := s.index[name]; ok {
		return s.tensors[i], nil
	}
	if i, ok := s.index[FallbackPrefix+name]; ok {
		return s.tensors[i], nil
	}
	return Tensor{}, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
}

// Expect looks name up and checks that its shape equals shape exactly.
func (s *Store) Expect(name string, shape ...int) ([]float32, error) {
	t, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(t.Shape, shape) {
		return nil, fmt.Errorf("%w: %q has shape %v, expected %v", ErrShapeMismatch, name, t.Shape, shape)
	}
	return t.Data, nil
}

// WriteFile writes tensors to path with the given outer encoding.
func WriteFile(path string, tensors []Tensor, comp Compression) (err error) {
	//nolint:gosec // G304: output path is user supplied
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weights: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	w, err := compressWriter(comp, f)
	if err != nil {
		return err
	}
	if err := Write(w, tensors); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Encode returns the container bytes for tensors with the given encoding.
func Encode(tensors []Tensor, comp Compression) ([]byte, error) {
	var buf bytes.Buffer
	w, err := compressWriter(comp, &buf)
	if err != nil {
		return nil, err
	}
	if err := Write(w, tensors); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return alignedCopy(buf.Bytes()), nil
}

// alignedBytes returns a zeroed buffer whose base is 8-byte aligned.
func alignedBytes(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	words := make([]uint64, (size+7)/8)
	//nolint:gosec // unsafe.Slice over a []uint64 backing array, length bounded by allocation
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

func alignedCopy(b []byte) []byte {
	out := alignedBytes(len(b))
	copy(out, b)
	return out
}

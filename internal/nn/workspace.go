package nn

import (
	"errors"
	"fmt"

	"github.com/born-ml/yolo/internal/arena"
	"github.com/born-ml/yolo/internal/tensor"
)

// Workspace scopes scratch buffers for one block invocation. Buffers are
// released together, newest first, by Release.
//
//	ws := NewWorkspace(alloc)
//	defer ws.Release()
//	tmp, err := ws.Tensor(shape)
type Workspace struct {
	alloc Allocator
	held  []arena.Handle
}

// NewWorkspace binds a workspace to alloc.
func NewWorkspace(alloc Allocator) *Workspace {
	return &Workspace{alloc: alloc}
}

// Tensor allocates a view of the given shape. Contents are unspecified.
func (ws *Workspace) Tensor(shape tensor.Shape) (tensor.View, error) {
	h, data, err := ws.alloc.AllocFloats(shape.NumElements())
	if err != nil {
		return tensor.View{}, fmt.Errorf("scratch %v: %w", shape, err)
	}
	ws.held = append(ws.held, h)
	return tensor.MustView(shape, data), nil
}

// Tensors allocates one view per shape, stopping at the first failure.
func (ws *Workspace) Tensors(shapes ...tensor.Shape) ([]tensor.View, error) {
	out := make([]tensor.View, len(shapes))
	for i, s := range shapes {
		v, err := ws.Tensor(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Held returns the number of live scratch buffers.
func (ws *Workspace) Held() int {
	return len(ws.held)
}

// Release frees every buffer taken through ws in reverse order.
func (ws *Workspace) Release() error {
	var errs []error
	for i := len(ws.held) - 1; i >= 0; i-- {
		if err := ws.alloc.Free(ws.held[i]); err != nil {
			errs = append(errs, err)
		}
	}
	ws.held = ws.held[:0]
	return errors.Join(errs...)
}

// BlockBytes is the arena footprint of a float buffer of shape s, header
// included, used for scratch estimates.
func BlockBytes(s tensor.Shape) int {
	return (s.Bytes()+arena.Alignment-1)&^(arena.Alignment-1) + arena.HeaderSize
}

package pipeline

import (
	"errors"
	"fmt"
)

// ErrStaleOutput is returned by Output.Release after a later Forward has
// reset the arena.
var ErrStaleOutput = errors.New("output belongs to an earlier run")

// StageError reports the stage at which a run or a build failed.
type StageError struct {
	Stage int
	Name  string
	Op    Op
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s): %v", e.Name, e.Op, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(st PlannedStage, err error) error {
	return &StageError{Stage: st.Index, Name: st.Name, Op: st.Spec.Op, Err: err}
}

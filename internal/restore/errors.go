package restore

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// RestoreSizeMismatchError reports Σ DATA ≠ meta.dataSize for a stream file
// (spec.md §4.F step e, §7, §8 testable property 3).
type RestoreSizeMismatchError struct {
	error
}

func NewRestoreSizeMismatchError(file string, got, want uint64) RestoreSizeMismatchError {
	return RestoreSizeMismatchError{errors.Errorf(
		"restore: %s: sum of DATA lengths %d does not match metadata.dataSize %d", file, got, want,
	)}
}

func (err RestoreSizeMismatchError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// UntilCheckpointReached is not a failure: it is the control-flow signal a
// chain walk uses to stop after finishing the requested checkpoint's
// stream file (spec.md §4.F step f, §7 "Propagation").
type UntilCheckpointReached struct {
	Checkpoint string
}

func (u UntilCheckpointReached) Error() string {
	return fmt.Sprintf("restore: reached requested checkpoint %s", u.Checkpoint)
}

// IncompatibleStreamError reports a chain member whose diskName or
// virtualSize does not match the base stream (spec.md §4.F step a).
type IncompatibleStreamError struct {
	error
}

func NewIncompatibleStreamError(message string, args ...interface{}) IncompatibleStreamError {
	return IncompatibleStreamError{errors.Errorf(message, args...)}
}

func (err IncompatibleStreamError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

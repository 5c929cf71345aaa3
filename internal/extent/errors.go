package extent

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// NoExtentsError reports a block-status query that came back empty for a
// non-empty virtual disk, a signal of a broken NBD server rather than a
// legitimately empty incremental.
type NoExtentsError struct {
	error
}

func NewNoExtentsError(message string, args ...interface{}) NoExtentsError {
	return NoExtentsError{errors.Errorf(message, args...)}
}

func (err NoExtentsError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

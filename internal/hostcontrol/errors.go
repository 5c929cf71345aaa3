package hostcontrol

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// HostControlError reports a failure of the virtualization host control
// plane itself: domain not found, a required capability missing, or a
// dirty bitmap absent where one was expected (spec.md §7).
type HostControlError struct {
	error
}

func NewHostControlError(message string, args ...interface{}) HostControlError {
	return HostControlError{errors.Errorf(message, args...)}
}

func (err HostControlError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

package chunked

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// TrailerMismatchError reports a compression trailer entry whose chunk count
// doesn't match the number of maxRequestSize-bounded chunks the frame's
// logical length implies.
type TrailerMismatchError struct {
	error
}

func NewTrailerMismatchError(message string, args ...interface{}) TrailerMismatchError {
	return TrailerMismatchError{errors.Errorf(message, args...)}
}

func (err TrailerMismatchError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

package sparsestream

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// StreamFormatError reports a malformed frame, bad terminator, unknown frame
// kind, or a truncated payload while reading a sparse stream.
type StreamFormatError struct {
	error
}

func NewStreamFormatError(message string, args ...interface{}) StreamFormatError {
	return StreamFormatError{errors.Errorf(message, args...)}
}

func (err StreamFormatError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

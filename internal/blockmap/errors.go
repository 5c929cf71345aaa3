package blockmap

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// CompressionUnsupportedForMappingError reports a mapping attempt against a
// compressed or incremental stream file (spec.md §4.G "Applicability").
type CompressionUnsupportedForMappingError struct {
	error
}

func NewCompressionUnsupportedForMappingError(message string, args ...interface{}) CompressionUnsupportedForMappingError {
	return CompressionUnsupportedForMappingError{errors.Errorf(message, args...)}
}

func (err CompressionUnsupportedForMappingError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// UnexpectedBlockRangeError reports a pread whose [guestOffset, guestOffset+n)
// crosses a block boundary (spec.md §4.G step 5).
type UnexpectedBlockRangeError struct {
	error
}

func NewUnexpectedBlockRangeError(guestOffset, n, blockOffset, blockLength uint64) UnexpectedBlockRangeError {
	return UnexpectedBlockRangeError{errors.Errorf(
		"blockmap: read [%d, %d) crosses block boundary [%d, %d)",
		guestOffset, guestOffset+n, blockOffset, blockOffset+blockLength,
	)}
}

func (err UnexpectedBlockRangeError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

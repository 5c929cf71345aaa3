package backupset

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// NoSuchFileError reports a lookup for a file that does not exist in a Target.
type NoSuchFileError struct {
	error
}

func NewNoSuchFileError(filename string) NoSuchFileError {
	return NoSuchFileError{errors.Errorf("no such file in backup set: %s", filename)}
}

func (err NoSuchFileError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// PartialBackupPresentError reports a leftover .partial file blocking an
// incremental or differential backup from starting (spec.md §3, §7).
type PartialBackupPresentError struct {
	error
}

func NewPartialBackupPresentError(filename string) PartialBackupPresentError {
	return PartialBackupPresentError{errors.Errorf("partial backup file present, refusing to continue: %s", filename)}
}

func (err PartialBackupPresentError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// IoError wraps a generic underlying I/O failure (open/read/write/rename)
// per spec.md §7's Io taxonomy member.
type IoError struct {
	error
}

func NewIoError(message string, args ...interface{}) IoError {
	return IoError{errors.Errorf(message, args...)}
}

func (err IoError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

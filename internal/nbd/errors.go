package nbd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// NbdConnectError reports exceeded connect retries or a non-retryable dial
// failure, spec.md §7's NbdConnect taxonomy member.
type NbdConnectError struct {
	error
}

func NewNbdConnectError(message string, args ...interface{}) NbdConnectError {
	return NbdConnectError{errors.Errorf(message, args...)}
}

func (err NbdConnectError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// ProtocolError reports a malformed handshake or transmission-phase reply.
type ProtocolError struct {
	error
}

func NewProtocolError(message string, args ...interface{}) ProtocolError {
	return ProtocolError{errors.Errorf(message, args...)}
}

func (err ProtocolError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

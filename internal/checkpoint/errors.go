package checkpoint

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// ForeignCheckpointError reports a host checkpoint that does not carry this
// tool's naming prefix (spec.md §4.H validateForeign, §7, scenario S5).
type ForeignCheckpointError struct {
	error
}

func NewForeignCheckpointError(name string) ForeignCheckpointError {
	return ForeignCheckpointError{errors.Errorf("foreign checkpoint present on host: %s", name)}
}

func (err ForeignCheckpointError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// NoCheckpointsError reports an incremental/differential request against an
// empty chain (spec.md §7).
type NoCheckpointsError struct {
	error
}

func NewNoCheckpointsError(domain string) NoCheckpointsError {
	return NoCheckpointsError{errors.Errorf("no checkpoints recorded for domain %s, cannot take inc/diff backup", domain)}
}

func (err NoCheckpointsError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// RedefineCheckpointError reports the host refusing to re-register a
// checkpoint (spec.md §4.H, §7).
type RedefineCheckpointError struct {
	error
}

func NewRedefineCheckpointError(name string, cause error) RedefineCheckpointError {
	return RedefineCheckpointError{errors.Wrapf(cause, "host refused to redefine checkpoint %s", name)}
}

func (err RedefineCheckpointError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// ChainCorruptError reports an unparseable .cpt file; per spec.md §9
// ("Checkpoint chain as append-only log"), corruption on read is fatal and
// requires user intervention rather than best-effort recovery.
type ChainCorruptError struct {
	error
}

func NewChainCorruptError(path string, cause error) ChainCorruptError {
	return ChainCorruptError{errors.Wrapf(cause, "checkpoint chain file %s is corrupt", path)}
}

func (err ChainCorruptError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

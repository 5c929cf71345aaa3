package backup

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// RawIncrementalError reports a request for `--type raw` combined with an
// incremental or differential level; refused at flag-validation time
// (spec.md §9 "Open question: raw backup of incremental level" — raw
// cannot represent "no change" without loss, so refusal is correct).
type RawIncrementalError struct {
	error
}

func NewRawIncrementalError() RawIncrementalError {
	return RawIncrementalError{errors.New("raw output is not supported for incremental or differential backups")}
}

func (err RawIncrementalError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

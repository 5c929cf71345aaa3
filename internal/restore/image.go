package restore

import (
	"os"

	"github.com/pkg/errors"
)

// ImageCreator materializes an empty destination image of a given format
// before ReplayChain writes into it (spec.md §4.F step 1). Format
// conversion (qcow2 in particular) is host tooling spec.md §1 places out
// of the core's scope; RawImageCreator is the one format the core can
// build without an external tool, since a raw image is just a sparse file
// of the right size.
type ImageCreator interface {
	Create(path string, virtualSize uint64) error
}

// RawImageCreator creates a sparse raw file of exactly virtualSize bytes.
type RawImageCreator struct{}

func (RawImageCreator) Create(path string, virtualSize uint64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "restore: create raw image %s failed", path)
	}
	defer f.Close()
	if err := f.Truncate(int64(virtualSize)); err != nil {
		return errors.Wrapf(err, "restore: truncate raw image %s failed", path)
	}
	return nil
}

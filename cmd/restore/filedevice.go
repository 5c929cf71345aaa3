package restore

import (
	"bytes"
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
	"github.com/virtnbdbackup/virtnbdbackup/internal/ioextensions"
)

// fileDevice adapts a local *os.File to device.BlockDevice, so ReplayChain
// can write directly into a raw image file when no destination NBD export
// is given (--socketfile omitted). It has no meaningful concept of extents
// or a request-size limit, since it never has to negotiate either over a
// wire protocol.
type fileDevice struct {
	f    *os.File
	size uint64
}

func (d *fileDevice) VirtualSize() uint64    { return d.size }
func (d *fileDevice) MaxRequestSize() uint64 { return 32 * 1024 * 1024 }

func (d *fileDevice) Extents(_ context.Context, offset, length uint64, _ string) ([]device.Extent, error) {
	return []device.Extent{{Offset: offset, Length: length, Data: true}}, nil
}

func (d *fileDevice) ReadAt(_ context.Context, offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := d.f.ReadAt(buf, int64(offset)); err != nil {
		return nil, errors.Wrapf(err, "restore: read raw image at %d failed", offset)
	}
	return buf, nil
}

func (d *fileDevice) WriteAt(_ context.Context, offset uint64, p []byte) error {
	if _, err := d.f.WriteAt(p, int64(offset)); err != nil {
		return errors.Wrapf(err, "restore: write raw image at %d failed", offset)
	}
	return nil
}

// ZeroAt tries to deallocate the range with PunchHole first, so a restored
// hole stays a hole on filesystems that support it; on any failure (a
// non-Linux build, or a filesystem lacking FALLOC_FL_PUNCH_HOLE) it falls
// back to writing explicit zero bytes.
func (d *fileDevice) ZeroAt(_ context.Context, offset, length uint64) error {
	if err := ioextensions.PunchHole(d.f, int64(offset), int64(length)); err == nil {
		return nil
	}
	zeros := bytes.Repeat([]byte{0}, int(length))
	return d.WriteAt(context.Background(), offset, zeros)
}

func (d *fileDevice) Close() error { return d.f.Close() }

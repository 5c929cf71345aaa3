package zstd

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/virtnbdbackup/virtnbdbackup/internal/compression/computils"
)

type Decompressor struct{}

func (decompressor Decompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(computils.NewUntilEOFReader(src))
	if err != nil {
		return nil, err
	}
	return zr.IOReadCloser(), nil
}

func (decompressor Decompressor) FileExtension() string {
	return FileExtension
}

package lz4

import (
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/virtnbdbackup/virtnbdbackup/utility"
)

type ReaderFromWriter struct {
	*lz4.Writer
}

func NewReaderFromWriter(dst io.Writer) *ReaderFromWriter {
	lzWriter := lz4.NewWriter(dst)
	return &ReaderFromWriter{lzWriter}
}

func (writer *ReaderFromWriter) ReadFrom(reader io.Reader) (n int64, err error) {
	n, err = utility.FastCopy(writer, reader)
	return
}

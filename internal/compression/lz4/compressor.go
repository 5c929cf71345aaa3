package lz4

import (
	"io"
)

const (
	AlgorithmName = "lz4"
	FileExtension = "lz4"
)

type Compressor struct{}

func (compressor Compressor) NewWriter(writer io.Writer) io.WriteCloser {
	return NewReaderFromWriter(writer)
}

func (compressor Compressor) FileExtension() string {
	return FileExtension
}

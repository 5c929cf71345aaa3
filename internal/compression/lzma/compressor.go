package lzma

import (
	"io"
)

const (
	AlgorithmName = "lzma"
	FileExtension = "lzma"
)

type Compressor struct{}

func (compressor Compressor) NewWriter(writer io.Writer) io.WriteCloser {
	rfw, err := NewReaderFromWriter(writer)
	if err != nil {
		panic(err)
	}
	return rfw
}

func (compressor Compressor) FileExtension() string {
	return FileExtension
}

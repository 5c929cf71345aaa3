package compression

import (
	"io"

	"github.com/virtnbdbackup/virtnbdbackup/internal/compression/lz4"
	"github.com/virtnbdbackup/virtnbdbackup/internal/compression/lzma"
	"github.com/virtnbdbackup/virtnbdbackup/internal/compression/none"
	"github.com/virtnbdbackup/virtnbdbackup/internal/compression/zstd"
)

// CompressingAlgorithms lists the names accepted by the
// VIRTNBDBACKUP_COMPRESSION_METHOD setting (applied when --compress is
// given) and the compressionMethod metadata field, in preference order.
var CompressingAlgorithms = []string{lz4.AlgorithmName, zstd.AlgorithmName, lzma.AlgorithmName, none.AlgorithmName}

type Compressor interface {
	NewWriter(writer io.Writer) io.WriteCloser
	FileExtension() string
}

type Decompressor interface {
	Decompress(src io.Reader) (io.ReadCloser, error)
	FileExtension() string
}

var Compressors = map[string]Compressor{
	lz4.AlgorithmName:  lz4.Compressor{},
	zstd.AlgorithmName: zstd.Compressor{},
	lzma.AlgorithmName: lzma.Compressor{},
	none.AlgorithmName: none.Compressor{},
}

var Decompressors = []Decompressor{
	lz4.Decompressor{},
	zstd.Decompressor{},
	lzma.Decompressor{},
	none.Decompressor{},
}

func GetDecompressorByCompressor(compressor Compressor) Decompressor {
	return FindDecompressor(compressor.FileExtension())
}

func FindDecompressor(fileExtension string) Decompressor {
	for _, decompressor := range Decompressors {
		if decompressor.FileExtension() == fileExtension {
			return decompressor
		}
	}
	return nil
}

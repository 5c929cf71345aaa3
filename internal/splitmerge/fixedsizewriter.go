// Package splitmerge buffers arbitrary-sized writes into fixed-size blocks
// before forwarding them to an underlying writer, so a stream target that
// interleaves small frame headers with large DATA payloads (spec.md §4.D's
// sparse stream format) ends up performing uniformly-sized writes on the
// wire instead of one syscall per frame piece.
package splitmerge

import "io"

// FixedBlockSizeWriter accumulates writes into a fixed-size buffer,
// flushing to dst only when the buffer fills, and on Close.
type FixedBlockSizeWriter struct {
	dst       io.WriteCloser
	block     []byte
	offset    int
	blockSize int
}

var _ io.WriteCloser = &FixedBlockSizeWriter{}

// NewFixedBlockSizeWriter wraps dst so every write to it (except possibly
// the last, flushed on Close) is exactly blockSize bytes.
func NewFixedBlockSizeWriter(dst io.WriteCloser, blockSize int) *FixedBlockSizeWriter {
	return &FixedBlockSizeWriter{
		dst:       dst,
		block:     make([]byte, blockSize),
		blockSize: blockSize,
	}
}

func (fbsw *FixedBlockSizeWriter) Write(data []byte) (int, error) {
	dataOffset := 0

	for {
		n := copy(fbsw.block[fbsw.offset:], data[dataOffset:])
		fbsw.offset += n
		dataOffset += n

		if fbsw.offset == len(fbsw.block) {
			wlen, err := fbsw.dst.Write(fbsw.block)
			if err != nil {
				fbsw.offset = 0
				return dataOffset - fbsw.blockSize + wlen, err
			}
			// dst.Write must not retain the slice passed to it, so reusing
			// this buffer for the next block is safe.
			fbsw.offset = 0
		}
		if dataOffset == len(data) {
			return len(data), nil
		}
	}
}

// Close flushes any buffered partial block and closes dst.
func (fbsw *FixedBlockSizeWriter) Close() error {
	if fbsw.offset > 0 {
		if _, err := fbsw.dst.Write(fbsw.block[:fbsw.offset]); err != nil {
			return err
		}
	}
	return fbsw.dst.Close()
}

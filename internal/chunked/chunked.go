// Package chunked implements spec.md §4.D: splitting a single extent's
// worth of I/O into maxRequestSize-bounded pieces, with optional per-chunk
// compression whose sizes feed the stream's compression trailer.
package chunked

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/virtnbdbackup/virtnbdbackup/internal/compression"
	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
	"github.com/virtnbdbackup/virtnbdbackup/internal/sparsestream"
	"github.com/virtnbdbackup/virtnbdbackup/utility"
)

// Chunk is one maxRequestSize-bounded sub-range of an extent.
type Chunk struct {
	Offset uint64
	Length uint64
}

// Bounds splits [offset, offset+length) into chunks no larger than
// maxRequestSize.
func Bounds(offset, length, maxRequestSize uint64) []Chunk {
	if maxRequestSize == 0 {
		return []Chunk{{Offset: offset, Length: length}}
	}
	chunks := make([]Chunk, 0, length/maxRequestSize+1)
	for remaining := length; remaining > 0; {
		n := remaining
		if n > maxRequestSize {
			n = maxRequestSize
		}
		chunks = append(chunks, Chunk{Offset: offset, Length: n})
		offset += n
		remaining -= n
	}
	return chunks
}

// WriteDataFrame writes one DATA frame for a data extent: the frame header
// (whose length field is the extent's logical, uncompressed length),
// followed by each maxRequestSize chunk's bytes (compressed individually
// when compressor is non-nil), followed by the terminator. It returns the
// per-chunk physical byte counts for the stream's compression trailer; the
// slice is nil when compressor is nil, since the trailer is only present for
// compressed streams (spec.md §3).
func WriteDataFrame(
	ctx context.Context,
	w io.Writer,
	dev device.BlockDevice,
	offset, length, maxRequestSize uint64,
	compressor compression.Compressor,
) ([]uint64, error) {
	if err := sparsestream.WriteFrame(w, sparsestream.KindData, offset, length); err != nil {
		return nil, errors.Wrap(err, "chunked: write data frame header failed")
	}

	chunks := Bounds(offset, length, maxRequestSize)
	var sizes []uint64
	if compressor != nil {
		sizes = make([]uint64, 0, len(chunks))
	}

	for _, c := range chunks {
		raw, err := dev.ReadAt(ctx, c.Offset, c.Length)
		if err != nil {
			return nil, errors.Wrapf(err, "chunked: read at offset %d failed", c.Offset)
		}

		if compressor == nil {
			if _, err := w.Write(raw); err != nil {
				return nil, errors.Wrap(err, "chunked: write raw chunk failed")
			}
			continue
		}

		// A data extent's chunk is never supposed to read back empty; guard
		// against a misbehaving device silently doing so before it reaches
		// the compressor, where zero bytes in would otherwise pass through
		// as a validly-shaped but empty compressed chunk and corrupt the
		// trailer's byte accounting for this frame.
		protected, err := utility.NewEOFProtectorReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "chunked: chunk at offset %d read back empty from device", c.Offset)
		}

		var compressed bytes.Buffer
		cw := compressor.NewWriter(&compressed)
		if _, err := io.Copy(cw, protected); err != nil {
			return nil, errors.Wrap(err, "chunked: compress chunk failed")
		}
		if err := cw.Close(); err != nil {
			return nil, errors.Wrap(err, "chunked: close chunk compressor failed")
		}
		if _, err := w.Write(compressed.Bytes()); err != nil {
			return nil, errors.Wrap(err, "chunked: write compressed chunk failed")
		}
		sizes = append(sizes, uint64(compressed.Len()))
	}

	if err := sparsestream.WriteTerminator(w); err != nil {
		return nil, errors.Wrap(err, "chunked: write data frame terminator failed")
	}
	return sizes, nil
}

// ReadDataFrame reads a DATA frame's payload (as written by WriteDataFrame)
// and replays it onto dev via WriteAt, chunk by chunk. chunkSizes must be
// the trailer entry recorded for this frame when decompressor is non-nil;
// for an uncompressed stream pass a nil decompressor and nil chunkSizes.
func ReadDataFrame(
	ctx context.Context,
	r io.Reader,
	dev device.BlockDevice,
	offset, length, maxRequestSize uint64,
	decompressor compression.Decompressor,
	chunkSizes []uint64,
) error {
	chunks := Bounds(offset, length, maxRequestSize)
	if decompressor != nil && len(chunkSizes) != len(chunks) {
		return NewTrailerMismatchError(
			"chunked: trailer has %d chunk sizes for a frame with %d chunks at offset %d",
			len(chunkSizes), len(chunks), offset,
		)
	}

	for i, c := range chunks {
		physicalLen := c.Length
		if decompressor != nil {
			physicalLen = chunkSizes[i]
		}

		raw := make([]byte, physicalLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return errors.Wrapf(err, "chunked: read chunk at offset %d failed", c.Offset)
		}

		data := raw
		if decompressor != nil {
			rc, err := decompressor.Decompress(bytes.NewReader(raw))
			if err != nil {
				return errors.Wrapf(err, "chunked: decompress chunk at offset %d failed", c.Offset)
			}
			data, err = io.ReadAll(rc)
			closeErr := rc.Close()
			if err != nil {
				return errors.Wrapf(err, "chunked: read decompressed chunk at offset %d failed", c.Offset)
			}
			if closeErr != nil {
				return errors.Wrapf(closeErr, "chunked: close decompressor at offset %d failed", c.Offset)
			}
		}

		if err := dev.WriteAt(ctx, c.Offset, data); err != nil {
			return errors.Wrapf(err, "chunked: write at offset %d failed", c.Offset)
		}
	}

	if err := sparsestream.ReadTerminator(r); err != nil {
		return errors.Wrap(err, "chunked: read data frame terminator failed")
	}
	return nil
}

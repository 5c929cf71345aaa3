package chunked

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtnbdbackup/virtnbdbackup/internal/compression/lz4"
	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
	"github.com/virtnbdbackup/virtnbdbackup/internal/sparsestream"
)

type memDevice struct {
	data []byte
}

func (m *memDevice) VirtualSize() uint64    { return uint64(len(m.data)) }
func (m *memDevice) MaxRequestSize() uint64 { return 1 << 20 }
func (m *memDevice) Close() error           { return nil }

func (m *memDevice) ReadAt(_ context.Context, offset, length uint64) ([]byte, error) {
	out := make([]byte, length)
	copy(out, m.data[offset:offset+length])
	return out, nil
}

func (m *memDevice) WriteAt(_ context.Context, offset uint64, p []byte) error {
	copy(m.data[offset:], p)
	return nil
}

func (m *memDevice) ZeroAt(_ context.Context, offset, length uint64) error {
	for i := uint64(0); i < length; i++ {
		m.data[offset+i] = 0
	}
	return nil
}

func (m *memDevice) Extents(context.Context, uint64, uint64, string) ([]device.Extent, error) {
	return nil, nil
}

func TestBoundsSplitsAtMaxRequestSize(t *testing.T) {
	chunks := Bounds(1000, 2500, 1024)
	require.Len(t, chunks, 3)
	assert.Equal(t, Chunk{Offset: 1000, Length: 1024}, chunks[0])
	assert.Equal(t, Chunk{Offset: 2024, Length: 1024}, chunks[1])
	assert.Equal(t, Chunk{Offset: 3048, Length: 452}, chunks[2])
}

func TestWriteReadDataFrameRoundTripUncompressed(t *testing.T) {
	src := &memDevice{data: bytes.Repeat([]byte{0xAB}, 5000)}
	var buf bytes.Buffer

	sizes, err := WriteDataFrame(context.Background(), &buf, src, 0, 5000, 2048, nil)
	require.NoError(t, err)
	assert.Nil(t, sizes)

	kind, start, length, err := sparsestream.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, sparsestream.KindData, kind)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, uint64(5000), length)

	dst := &memDevice{data: make([]byte, 5000)}
	err = ReadDataFrame(context.Background(), &buf, dst, start, length, 2048, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, src.data, dst.data)
}

func TestWriteReadDataFrameRoundTripCompressed(t *testing.T) {
	src := &memDevice{data: bytes.Repeat([]byte("hello world "), 500)}
	var buf bytes.Buffer

	compressor := lz4.Compressor{}
	sizes, err := WriteDataFrame(context.Background(), &buf, src, 0, uint64(len(src.data)), 2048, compressor)
	require.NoError(t, err)
	require.NotEmpty(t, sizes)

	kind, start, length, err := sparsestream.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, sparsestream.KindData, kind)

	dst := &memDevice{data: make([]byte, len(src.data))}
	decompressor := lz4.Decompressor{}
	err = ReadDataFrame(context.Background(), &buf, dst, start, length, 2048, decompressor, sizes)
	require.NoError(t, err)
	assert.Equal(t, src.data, dst.data)
}

// emptyReadDevice always answers ReadAt with zero bytes regardless of the
// requested length, standing in for a misbehaving device.BlockDevice.
type emptyReadDevice struct{ size uint64 }

func (d *emptyReadDevice) VirtualSize() uint64    { return d.size }
func (d *emptyReadDevice) MaxRequestSize() uint64 { return 1 << 20 }
func (d *emptyReadDevice) Close() error           { return nil }
func (d *emptyReadDevice) ReadAt(context.Context, uint64, uint64) ([]byte, error) {
	return nil, nil
}
func (d *emptyReadDevice) WriteAt(context.Context, uint64, []byte) error { return nil }
func (d *emptyReadDevice) ZeroAt(context.Context, uint64, uint64) error  { return nil }
func (d *emptyReadDevice) Extents(context.Context, uint64, uint64, string) ([]device.Extent, error) {
	return nil, nil
}

func TestWriteDataFrameRejectsEmptyChunkFromDevice(t *testing.T) {
	src := &emptyReadDevice{size: 4096}
	var buf bytes.Buffer

	_, err := WriteDataFrame(context.Background(), &buf, src, 0, 4096, 2048, lz4.Compressor{})
	assert.Error(t, err)
}

func TestReadDataFrameTrailerMismatch(t *testing.T) {
	dst := &memDevice{data: make([]byte, 4096)}
	err := ReadDataFrame(context.Background(), &bytes.Buffer{}, dst, 0, 4096, 1024, lz4.Decompressor{}, []uint64{1})
	assert.Error(t, err)
	_, ok := err.(TrailerMismatchError)
	assert.True(t, ok)
}

package sparsestream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDumpLoadMetadataRoundTrip(t *testing.T) {
	parent := "virtnbdbackup.0"
	payload, err := DumpMetadata(
		1<<30, 1<<20,
		"sda", "raw", "virtnbdbackup.1",
		&parent,
		true, true, "lz4",
		"2026-08-06T00:00:00Z",
	)
	assert.NoError(t, err)

	meta, err := LoadMetadata(payload)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1<<30), meta.VirtualSize)
	assert.Equal(t, uint64(1<<20), meta.DataSize)
	assert.Equal(t, "sda", meta.DiskName)
	assert.Equal(t, "raw", meta.DiskFormat)
	assert.Equal(t, "virtnbdbackup.1", meta.CheckpointName)
	assert.Equal(t, &parent, meta.ParentCheckpoint)
	assert.True(t, meta.Incremental)
	assert.True(t, meta.Compressed)
	assert.Equal(t, "lz4", meta.CompressionMethod)
	assert.Equal(t, StreamVersion, meta.StreamVersion)
}

func TestDumpMetadataUncompressedOmitsMethod(t *testing.T) {
	payload, err := DumpMetadata(
		1<<30, 1<<30,
		"sda", "raw", "virtnbdbackup.0",
		nil,
		false, false, "",
		"2026-08-06T00:00:00Z",
	)
	assert.NoError(t, err)
	assert.NotContains(t, string(payload), "compressionMethod")
}

func TestLoadMetadataToleratesUnknownFields(t *testing.T) {
	payload := []byte(`{
		"virtualSize": 100,
		"dataSize": 100,
		"diskName": "vda",
		"diskFormat": "qcow2",
		"checkpointName": "virtnbdbackup.0",
		"streamVersion": 2,
		"someFutureField": {"nested": true}
	}`)
	meta, err := LoadMetadata(payload)
	assert.NoError(t, err)
	assert.Equal(t, uint64(100), meta.VirtualSize)
	assert.Equal(t, "vda", meta.DiskName)
}

func TestLoadMetadataInvalidJSON(t *testing.T) {
	_, err := LoadMetadata([]byte("not json"))
	assert.Error(t, err)
	_, ok := err.(StreamFormatError)
	assert.True(t, ok)
}

func TestWriteReadCompressionTrailerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteFrame(&buf, KindStop, 0, 0))

	trailer := CompressionTrailer{
		{4096, 4096, 2048},
		{4096},
	}
	assert.NoError(t, WriteCompressionTrailer(&buf, trailer))

	reader := bytes.NewReader(buf.Bytes())
	got, err := ReadCompressionTrailer(reader)
	assert.NoError(t, err)
	assert.Equal(t, trailer, got)

	pos, err := reader.Seek(0, 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), pos)
}

func TestReadCompressionTrailerRestoresPosition(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteFrame(&buf, KindStop, 0, 0))
	assert.NoError(t, WriteCompressionTrailer(&buf, CompressionTrailer{{1}}))

	reader := bytes.NewReader(buf.Bytes())
	_, err := reader.Seek(5, 0)
	assert.NoError(t, err)

	_, err = ReadCompressionTrailer(reader)
	assert.NoError(t, err)

	pos, err := reader.Seek(0, 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), pos)
}

func TestReadCompressionTrailerRejectsWrongFrame(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteFrame(&buf, KindStop, 0, 0))

	reader := bytes.NewReader(buf.Bytes())
	_, err := ReadCompressionTrailer(reader)
	assert.Error(t, err)
}

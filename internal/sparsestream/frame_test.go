package sparsestream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindMeta, KindData, KindZero, KindStop} {
		var buf bytes.Buffer
		err := WriteFrame(&buf, kind, 0x1000, 0x2000)
		assert.NoError(t, err)
		assert.Equal(t, FrameHeaderLen, buf.Len())

		gotKind, gotStart, gotLength, err := ReadFrame(&buf)
		assert.NoError(t, err)
		assert.Equal(t, kind, gotKind)
		assert.Equal(t, uint64(0x1000), gotStart)
		assert.Equal(t, uint64(0x2000), gotLength)
	}
}

func TestWriteFrameUnknownKind(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, Kind(200), 0, 0)
	assert.Error(t, err)
	_, ok := err.(StreamFormatError)
	assert.True(t, ok)
}

func TestReadFrameUnknownMagic(t *testing.T) {
	header := bytes.Repeat([]byte("X"), FrameHeaderLen)
	_, _, _, err := ReadFrame(bytes.NewReader(header))
	assert.Error(t, err)
	_, ok := err.(StreamFormatError)
	assert.True(t, ok)
}

func TestReadFrameMissingSeparator(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteFrame(&buf, KindData, 1, 2))
	corrupted := buf.Bytes()
	corrupted[2] = 'x'
	_, _, _, err := ReadFrame(bytes.NewReader(corrupted))
	assert.Error(t, err)
}

func TestReadFrameMissingCRLF(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteFrame(&buf, KindZero, 1, 2))
	corrupted := buf.Bytes()
	corrupted[FrameHeaderLen-1] = 'x'
	_, _, _, err := ReadFrame(bytes.NewReader(corrupted))
	assert.Error(t, err)
}

func TestReadFrameShortHeaderPropagatesEOF(t *testing.T) {
	_, _, _, err := ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)

	_, _, _, err = ReadFrame(bytes.NewReader([]byte("MT ")))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriteReadTerminatorRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteTerminator(&buf))
	assert.Equal(t, len(Terminator), buf.Len())
	assert.NoError(t, ReadTerminator(&buf))
}

func TestReadTerminatorMismatch(t *testing.T) {
	bad := bytes.NewReader([]byte{0x01, 0x00, 0x00, 0x00})
	err := ReadTerminator(bad)
	assert.Error(t, err)
	_, ok := err.(StreamFormatError)
	assert.True(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "META", KindMeta.String())
	assert.Equal(t, "DATA", KindData.String())
	assert.Equal(t, "ZERO", KindZero.String())
	assert.Equal(t, "STOP", KindStop.String())
	assert.Equal(t, "UNKNOWN", Kind(200).String())
}

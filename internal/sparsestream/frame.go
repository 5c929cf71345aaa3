package sparsestream

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// WriteFrame writes a fixed-width frame header: kind magic, separator,
// 16-hex-digit start, 16-hex-digit length, CR-LF. It is stateless; the
// caller is responsible for writing payload and terminator afterwards when
// the kind requires them.
func WriteFrame(w io.Writer, kind Kind, start, length uint64) error {
	magic, ok := kindMagic[kind]
	if !ok {
		return NewStreamFormatError("writeFrame: unknown frame kind %d", kind)
	}

	header := make([]byte, 0, FrameHeaderLen)
	header = append(header, magic[0], magic[1], separatorByte)
	header = append(header, []byte(fmt.Sprintf("%016x", start))...)
	header = append(header, []byte(fmt.Sprintf("%016x", length))...)
	header = append(header, '\r', '\n')

	if len(header) != FrameHeaderLen {
		return NewStreamFormatError("writeFrame: built header of unexpected length %d", len(header))
	}

	_, err := w.Write(header)
	return errors.Wrap(err, "writeFrame: write failed")
}

// ReadFrame reads and parses one fixed-width frame header, returning its
// kind, start offset and length. It fails with a StreamFormatError when the
// header bytes do not form a known kind or are otherwise malformed.
func ReadFrame(r io.Reader) (Kind, uint64, uint64, error) {
	header := make([]byte, FrameHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, 0, 0, err
		}
		return 0, 0, 0, errors.Wrap(err, "readFrame: read failed")
	}

	var magic [2]byte
	copy(magic[:], header[0:2])
	kind, ok := magicKind[magic]
	if !ok {
		return 0, 0, 0, NewStreamFormatError("readFrame: unknown frame magic %q", magic)
	}

	if header[2] != separatorByte {
		return 0, 0, 0, NewStreamFormatError("readFrame: missing separator byte after kind %s", kind)
	}
	if header[FrameHeaderLen-2] != '\r' || header[FrameHeaderLen-1] != '\n' {
		return 0, 0, 0, NewStreamFormatError("readFrame: missing CR-LF terminator on %s frame header", kind)
	}

	startField := header[3 : 3+hexFieldLen]
	lengthField := header[3+hexFieldLen : 3+2*hexFieldLen]

	var start, length uint64
	if _, err := fmt.Sscanf(string(startField), "%016x", &start); err != nil {
		return 0, 0, 0, NewStreamFormatError("readFrame: invalid start field %q: %v", startField, err)
	}
	if _, err := fmt.Sscanf(string(lengthField), "%016x", &length); err != nil {
		return 0, 0, 0, NewStreamFormatError("readFrame: invalid length field %q: %v", lengthField, err)
	}

	return kind, start, length, nil
}

// WriteTerminator writes the fixed terminator sequence following a META or
// DATA payload.
func WriteTerminator(w io.Writer) error {
	_, err := w.Write(Terminator)
	return errors.Wrap(err, "writeTerminator: write failed")
}

// ReadTerminator reads and asserts the fixed terminator sequence. A mismatch
// is a StreamFormatError.
func ReadTerminator(r io.Reader) error {
	buf := make([]byte, len(Terminator))
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrap(err, "readTerminator: read failed")
	}
	for i, b := range buf {
		if b != Terminator[i] {
			return NewStreamFormatError("readTerminator: terminator mismatch, got %x want %x", buf, Terminator)
		}
	}
	return nil
}

package computils

import "io"

// UntilEOFReader wraps a reader so io.ErrUnexpectedEOF surfaces as io.EOF,
// letting decompressors treat a frame-bounded payload reader like a
// normally-terminated stream.
type UntilEOFReader struct {
	src io.Reader
}

func NewUntilEOFReader(src io.Reader) *UntilEOFReader {
	return &UntilEOFReader{src: src}
}

func (r *UntilEOFReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

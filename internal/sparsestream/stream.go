package sparsestream

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Metadata is the payload of the single META frame that opens every stream.
// Unknown fields are tolerated on load, per spec.md §3 ("free-form fields
// are permitted but consumers must tolerate unknown keys").
type Metadata struct {
	VirtualSize       uint64  `json:"virtualSize"`
	DataSize          uint64  `json:"dataSize"`
	Date              string  `json:"date"`
	DiskName          string  `json:"diskName"`
	DiskFormat        string  `json:"diskFormat"`
	CheckpointName    string  `json:"checkpointName"`
	Compressed        bool    `json:"compressed"`
	CompressionMethod string  `json:"compressionMethod,omitempty"`
	ParentCheckpoint  *string `json:"parentCheckpoint"`
	Incremental       bool    `json:"incremental"`
	StreamVersion     int     `json:"streamVersion"`
}

// DumpMetadata builds the META frame payload. date is passed in so callers
// (and tests) control the timestamp rather than this package reaching for
// wall-clock time itself.
func DumpMetadata(
	virtualSize, dataSize uint64,
	diskName, diskFormat, checkpointName string,
	parentCheckpoint *string,
	incremental, compressed bool,
	compressionMethod string,
	date string,
) ([]byte, error) {
	meta := Metadata{
		VirtualSize:      virtualSize,
		DataSize:         dataSize,
		Date:             date,
		DiskName:         diskName,
		DiskFormat:       diskFormat,
		CheckpointName:   checkpointName,
		Compressed:       compressed,
		ParentCheckpoint: parentCheckpoint,
		Incremental:      incremental,
		StreamVersion:    StreamVersion,
	}
	if compressed {
		meta.CompressionMethod = compressionMethod
	}

	payload, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "dumpMetadata: marshal failed")
	}
	return payload, nil
}

// LoadMetadata parses a META frame payload, failing with a StreamFormatError
// on structural error.
func LoadMetadata(payload []byte) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return Metadata{}, NewStreamFormatError("loadMetadata: invalid meta header: %v", err)
	}
	return meta, nil
}

// CompressionTrailer records, per DATA frame in file order, the compressed
// byte size of each chunk written for that frame. A frame with a single
// (unchunked) DATA payload has a one-element inner slice.
type CompressionTrailer [][]uint64

// WriteCompressionTrailer appends the trailer at the writer's current
// position (which must be end-of-stream, immediately after STOP). The frame
// header describing the trailer's length is written last, as the final
// bytes of the file, so a seeking reader can always find it by looking
// FrameHeaderLen bytes before EOF.
func WriteCompressionTrailer(w io.Writer, trailer CompressionTrailer) error {
	payload, err := json.Marshal(trailer)
	if err != nil {
		return errors.Wrap(err, "writeCompressionTrailer: marshal failed")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "writeCompressionTrailer: write payload failed")
	}
	if err := WriteTerminator(w); err != nil {
		return errors.Wrap(err, "writeCompressionTrailer: write terminator failed")
	}
	return WriteFrame(w, kindComp, 0, uint64(len(payload)))
}

// ReadCompressionTrailer reads the trailer from end-of-file backward,
// restoring the reader's original position before returning. It is the
// caller's responsibility to know the stream is compressed before calling
// this (spec.md §4.B: "Present iff compressed is true").
func ReadCompressionTrailer(r io.ReadSeeker) (trailer CompressionTrailer, err error) {
	origPos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(err, "readCompressionTrailer: tell failed")
	}
	defer func() {
		if _, seekErr := r.Seek(origPos, io.SeekStart); seekErr != nil && err == nil {
			err = errors.Wrap(seekErr, "readCompressionTrailer: restore position failed")
		}
	}()

	if _, err = r.Seek(-int64(FrameHeaderLen), io.SeekEnd); err != nil {
		return nil, errors.Wrap(err, "readCompressionTrailer: seek to trailer header failed")
	}
	kind, _, length, ferr := ReadFrame(r)
	if ferr != nil {
		return nil, errors.Wrap(ferr, "readCompressionTrailer: read trailer header failed")
	}
	if kind != kindComp {
		return nil, NewStreamFormatError("readCompressionTrailer: expected trailer frame, got %s", kind)
	}

	payloadOffset := -(int64(FrameHeaderLen) + int64(len(Terminator)) + int64(length))
	if _, err = r.Seek(payloadOffset, io.SeekCurrent); err != nil {
		return nil, errors.Wrap(err, "readCompressionTrailer: seek to trailer payload failed")
	}

	payload := make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "readCompressionTrailer: read trailer payload failed")
	}

	if err = json.Unmarshal(payload, &trailer); err != nil {
		return nil, NewStreamFormatError("readCompressionTrailer: invalid trailer json: %v", err)
	}
	return trailer, nil
}

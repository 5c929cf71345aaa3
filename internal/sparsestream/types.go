// Package sparsestream implements the frame codec and sparse stream format
// described in the sparse stream specification: a framed, seekable binary
// layout that interleaves metadata, data, zero and terminator frames and
// optionally trails a compression index.
package sparsestream

// Kind identifies the type of a frame header on the wire.
type Kind uint8

const (
	// KindMeta marks the single metadata frame that must open every stream.
	KindMeta Kind = iota
	// KindData marks a frame carrying actual disk bytes.
	KindData
	// KindZero marks a hole (unallocated / all-zero) range; no payload.
	KindZero
	// KindStop marks the end of the frame sequence; no payload.
	KindStop
	// kindComp is used only for the frame header preceding the compression
	// trailer payload; it never appears in the DATA/ZERO/STOP body sequence
	// spec.md describes and is not one of the four externally visible kinds.
	kindComp
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "META"
	case KindData:
		return "DATA"
	case KindZero:
		return "ZERO"
	case KindStop:
		return "STOP"
	case kindComp:
		return "COMP"
	default:
		return "UNKNOWN"
	}
}

// magic is the fixed 2-byte on-wire code for each kind (spec.md §6: "2-byte
// kind magic"). The human-readable names above are the logical enum; magic
// is only the compact wire encoding.
var kindMagic = map[Kind][2]byte{
	KindMeta: {'M', 'T'},
	KindData: {'D', 'T'},
	KindZero: {'Z', 'R'},
	KindStop: {'S', 'P'},
	kindComp: {'C', 'P'},
}

var magicKind = func() map[[2]byte]Kind {
	m := make(map[[2]byte]Kind, len(kindMagic))
	for k, v := range kindMagic {
		m[v] = k
	}
	return m
}()

const (
	// hexFieldLen is the width, in ASCII hex digits, of the start and length
	// fields in a frame header.
	hexFieldLen = 16
	// separatorLen is the single separator byte after the kind magic.
	separatorLen = 1
	// crlfLen is the trailing CR-LF terminating every frame header.
	crlfLen = 2
	// FrameHeaderLen is the fixed size, in bytes, of a frame header:
	// kind(2) + separator(1) + start(16 hex) + length(16 hex) + CRLF(2).
	FrameHeaderLen = 2 + separatorLen + hexFieldLen + hexFieldLen + crlfLen

	separatorByte byte = ' '
)

// Terminator is the fixed byte sequence written immediately after META and
// DATA payloads. ZERO and STOP frames carry neither payload nor terminator.
// Readers must assert this sequence; a mismatch is a StreamFormatError.
var Terminator = []byte{0x00, 0x00, 0x00, 0x00}

// StreamVersion identifies the on-disk format revision. Version 2 adds
// compression-trailer support over the base version 1 layout.
const StreamVersion = 2

// DefaultCompressionMethod is the compression algorithm named in the
// metadata header when none is explicitly overridden; it matches the
// original tool's fixed choice of lz4.
const DefaultCompressionMethod = "lz4"

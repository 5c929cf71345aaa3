// Package blockmap implements spec.md §4.G: the instant-recovery mapper.
// It prescans a full/copy, uncompressed sparse stream file once, producing
// an ordered block list translating guest offsets to file offsets, then
// serves reads against that list without touching the stream's frame
// format again.
package blockmap

import (
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/virtnbdbackup/virtnbdbackup/internal/sparsestream"
)

// Block is one DATA or ZERO frame's translation record. FileOffset is the
// backing file position right after the frame header (spec.md §4.G
// "streamOffset = position in file right after frame header").
type Block struct {
	OriginalOffset uint64
	Length         uint64
	FileOffset     uint64
	Data           bool
}

// end returns the guest-side offset one past this block.
func (b Block) end() uint64 { return b.OriginalOffset + b.Length }

// BlockMap is the prescanned, immutable translation table for one stream
// file plus the file's declared virtual size.
type BlockMap struct {
	blocks      []Block
	virtualSize uint64
}

// VirtualSize returns Σ block.length, the size the mapper's NBD export
// advertises (spec.md §4.G "The server advertises virtualSize = Σ
// block.length").
func (m *BlockMap) VirtualSize() uint64 { return m.virtualSize }

// Blocks returns the prescanned block list, in ascending originalOffset
// order.
func (m *BlockMap) Blocks() []Block { return m.blocks }

// countingReader tracks how many bytes have been read through it, so
// Prescan can record each block's FileOffset without requiring the
// underlying source to support Seek.
type countingReader struct {
	r   io.Reader
	pos uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos += uint64(n)
	return n, err
}

// Prescan walks a stream once starting at r's current position (which must
// be the beginning of the file), building a BlockMap. Only uncompressed
// full/copy streams may be mapped; incremental and compressed streams are
// refused per spec.md §4.G's "Applicability" (a mapped incremental stream
// would have holes wherever the source disk was unchanged, which is not a
// materializable guest disk).
func Prescan(r io.Reader) (*BlockMap, sparsestream.Metadata, error) {
	cr := &countingReader{r: r}

	kind, _, length, err := sparsestream.ReadFrame(cr)
	if err != nil {
		return nil, sparsestream.Metadata{}, errors.Wrap(err, "blockmap: read meta frame header failed")
	}
	if kind != sparsestream.KindMeta {
		return nil, sparsestream.Metadata{}, sparsestream.NewStreamFormatError("blockmap: expected META frame, got %s", kind)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(cr, payload); err != nil {
		return nil, sparsestream.Metadata{}, errors.Wrap(err, "blockmap: read meta payload failed")
	}
	if err := sparsestream.ReadTerminator(cr); err != nil {
		return nil, sparsestream.Metadata{}, errors.Wrap(err, "blockmap: read meta terminator failed")
	}
	meta, err := sparsestream.LoadMetadata(payload)
	if err != nil {
		return nil, meta, err
	}

	if meta.Compressed {
		return nil, meta, NewCompressionUnsupportedForMappingError(
			"blockmap: stream compressed with %s cannot be mapped", meta.CompressionMethod,
		)
	}
	if meta.Incremental {
		return nil, meta, NewCompressionUnsupportedForMappingError(
			"blockmap: incremental stream cannot be mapped, only full/copy streams are",
		)
	}

	var blocks []Block
	for {
		fkind, start, flen, err := sparsestream.ReadFrame(cr)
		if err != nil {
			return nil, meta, errors.Wrap(err, "blockmap: read frame header failed")
		}

		switch fkind {
		case sparsestream.KindData:
			fileOffset := cr.pos
			blocks = append(blocks, Block{OriginalOffset: start, Length: flen, FileOffset: fileOffset, Data: true})
			if _, err := io.CopyN(io.Discard, cr, int64(flen)); err != nil {
				return nil, meta, errors.Wrap(err, "blockmap: skip data payload failed")
			}
			if err := sparsestream.ReadTerminator(cr); err != nil {
				return nil, meta, errors.Wrap(err, "blockmap: read data terminator failed")
			}

		case sparsestream.KindZero:
			blocks = append(blocks, Block{OriginalOffset: start, Length: flen, Data: false})

		case sparsestream.KindStop:
			return finalize(blocks), meta, nil

		default:
			return nil, meta, sparsestream.NewStreamFormatError("blockmap: unexpected frame kind %s during prescan", fkind)
		}
	}
}

// finalize sorts the block list by originalOffset (it is already ascending
// for a well-formed stream per spec.md §5's ordering guarantee, but sorting
// keeps blockAt's binary search correct even if a caller feeds a stream
// produced by a future non-conforming writer) and sums the virtual size.
func finalize(blocks []Block) *BlockMap {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].OriginalOffset < blocks[j].OriginalOffset })
	var virtualSize uint64
	for _, b := range blocks {
		virtualSize += b.Length
	}
	return &BlockMap{blocks: blocks, virtualSize: virtualSize}
}

// blockAt returns the block with the largest originalOffset <= guestOffset
// via binary search (spec.md §4.G "pread" step 1).
func (m *BlockMap) blockAt(guestOffset uint64) (Block, bool) {
	blocks := m.blocks
	i := sort.Search(len(blocks), func(i int) bool { return blocks[i].OriginalOffset > guestOffset })
	if i == 0 {
		return Block{}, false
	}
	return blocks[i-1], true
}

// Translate implements spec.md §4.G's pread algorithm steps 1-5 without
// touching the backing file: it resolves guestOffset/n to either a hole
// (Data=false, caller returns n zero bytes) or a concrete fileOffset to
// read n bytes from, failing with UnexpectedBlockRangeError when a read
// that starts in a DATA block would run past that block's end. A read
// that starts in a hole is not range-checked.
func (m *BlockMap) Translate(guestOffset, n uint64) (Block, uint64, error) {
	block, ok := m.blockAt(guestOffset)
	if !ok || guestOffset >= block.end() {
		return Block{}, 0, errors.Errorf("blockmap: guest offset %d out of range (virtualSize %d)", guestOffset, m.virtualSize)
	}

	fileOffset := block.FileOffset + (guestOffset - block.OriginalOffset)
	if !block.Data {
		return block, fileOffset, nil
	}
	if guestOffset+n > block.end() {
		return block, 0, NewUnexpectedBlockRangeError(guestOffset, n, block.OriginalOffset, block.Length)
	}
	return block, fileOffset, nil
}

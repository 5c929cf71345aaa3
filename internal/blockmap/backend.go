package blockmap

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Mapper serves reads against a prescanned BlockMap and its backing stream
// file, implementing the read-only half of internal/nbd's server Backend
// interface (spec.md §4.G "Serve pread(guestOffset, n)").
type Mapper struct {
	blocks  *BlockMap
	backing io.ReaderAt
}

// NewMapper pairs a BlockMap with the io.ReaderAt it was prescanned from.
// The caller keeps backing open for the Mapper's lifetime.
func NewMapper(blocks *BlockMap, backing io.ReaderAt) *Mapper {
	return &Mapper{blocks: blocks, backing: backing}
}

// Size implements internal/nbd.Backend.
func (m *Mapper) Size() uint64 { return m.blocks.VirtualSize() }

// ReadAt implements internal/nbd.Backend: translate guestOffset/n through
// the block map, then either fabricate zero bytes or pread the backing
// file at the translated offset (spec.md §4.G steps 3-4).
func (m *Mapper) ReadAt(_ context.Context, guestOffset, n uint64) ([]byte, error) {
	block, fileOffset, err := m.blocks.Translate(guestOffset, n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	if !block.Data {
		return out, nil
	}

	if _, err := m.backing.ReadAt(out, int64(fileOffset)); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "blockmap: read backing file at %d failed", fileOffset)
	}
	return out, nil
}

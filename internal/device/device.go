// Package device declares the BlockDevice capability the core consumes from
// an NBD client or server-side backend (spec.md §1: "The core consumes a
// BlockDevice capability: read extents, read/write bytes at offset, zero at
// offset, maximum request size"). Wire-level implementations live in
// internal/nbd and internal/blockmap; this package only names the boundary.
package device

import "context"

// Extent is a contiguous run of the virtual disk classified as allocated
// data or a hole, per spec.md §3.
type Extent struct {
	Offset uint64
	Length uint64
	Data   bool
}

// BlockDevice is the capability boundary between the core and its NBD
// transport. Every method is context-aware since all of them cross a
// network or unix-socket connection.
type BlockDevice interface {
	// VirtualSize returns the disk's total size in bytes.
	VirtualSize() uint64
	// MaxRequestSize returns the largest single read/write/block-status
	// request the device accepts, per the server's negotiated limits.
	MaxRequestSize() uint64
	// Extents reports the extent list for [offset, offset+length) under
	// metaContext ("base:allocation" for full/copy, "qemu:dirty-bitmap:<name>"
	// for incremental/differential). Extents are returned in ascending,
	// contiguous order but are not required to be coalesced by the device.
	Extents(ctx context.Context, offset, length uint64, metaContext string) ([]Extent, error)
	// ReadAt reads length bytes starting at offset.
	ReadAt(ctx context.Context, offset, length uint64) ([]byte, error)
	// WriteAt writes p at offset.
	WriteAt(ctx context.Context, offset uint64, p []byte) error
	// ZeroAt materializes a hole of length bytes at offset.
	ZeroAt(ctx context.Context, offset, length uint64) error
	Close() error
}

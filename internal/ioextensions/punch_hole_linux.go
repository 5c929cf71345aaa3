//go:build linux

// Package ioextensions provides filesystem primitives the restore path
// needs beyond plain read/write: deallocating a hole in a raw destination
// image (spec.md §4.F's ZERO frame handling) rather than materializing it
// as explicit zero bytes.
package ioextensions

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// PunchHole deallocates [offset, offset+size) in f via fallocate(2), keeping
// the file's apparent size unchanged.
func PunchHole(f *os.File, offset int64, size int64) error {
	return syscall.Fallocate(
		int(f.Fd()),
		unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
		offset,
		size,
	)
}

//go:build !linux

// Package ioextensions provides filesystem primitives the restore path
// needs beyond plain read/write: deallocating a hole in a raw destination
// image (spec.md §4.F's ZERO frame handling) rather than materializing it
// as explicit zero bytes.
package ioextensions

import (
	"os"
	"syscall"
)

// PunchHole deallocates [offset, offset+size) in f, keeping the file's
// apparent size unchanged. Not supported outside Linux.
func PunchHole(f *os.File, offset int64, size int64) error {
	return syscall.EOPNOTSUPP
}

//go:build !linux

package nbd

import (
	"net"
	"syscall"
)

// AttachKernelDevice is not supported outside Linux: there is no portable
// kernel NBD device node to bind connections to.
func AttachKernelDevice(device string, virtualSize uint64, blockSize uint32, conns []net.Conn) error {
	return syscall.EOPNOTSUPP
}

// DisconnectKernelDevice is not supported outside Linux.
func DisconnectKernelDevice(device string) error {
	return syscall.EOPNOTSUPP
}

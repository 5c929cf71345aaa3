//go:build linux

package nbd

import (
	"net"
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Kernel NBD ioctl requests, from the Linux uapi <linux/nbd.h>. The classic
// ioctl interface expects userspace to complete the wire handshake itself
// (Dial's negotiateGo already does exactly that) and then hand the raw,
// already-negotiated socket over via NBD_SET_SOCK; from that point the
// kernel driver speaks the transmission-phase protocol directly against the
// fd, which is why AttachKernelDevice below never touches the socket again
// after handing it off.
const (
	nbdSetSock       = 0xab00
	nbdSetBlkSize    = 0xab01
	nbdSetSizeBlocks = 0xab07
	nbdDoIt          = 0xab03
	nbdClearSock     = 0xab04
	nbdClearQue      = 0xab05
	nbdDisconnect    = 0xab08
)

// AttachKernelDevice binds one or more already-negotiated NBD connections
// (from Dial, one per --threads) to a kernel device node such as /dev/nbd0,
// then blocks until the device is disconnected or one of the connections
// fails (spec.md §6 map CLI's `--device`/`--threads`). Every conn must
// already be past NBD_OPT_GO negotiation (as internal/nbd.Dial leaves it) —
// the kernel driver never speaks NBD itself, it only forwards read requests
// over whichever socket fds it was given.
func AttachKernelDevice(device string, virtualSize uint64, blockSize uint32, conns []net.Conn) error {
	if len(conns) == 0 {
		return errors.New("nbd: AttachKernelDevice needs at least one connection")
	}

	nb, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(err, "nbd: open kernel device %s failed", device)
	}
	defer nb.Close()

	if blockSize > 0 {
		if err := ioctl(nb.Fd(), nbdSetBlkSize, uintptr(blockSize)); err != nil {
			return errors.Wrapf(err, "nbd: NBD_SET_BLKSIZE %d on %s failed", blockSize, device)
		}
	}
	sizeBlocks := virtualSize
	if blockSize > 0 {
		sizeBlocks = virtualSize / uint64(blockSize)
	}
	if err := ioctl(nb.Fd(), nbdSetSizeBlocks, uintptr(sizeBlocks)); err != nil {
		return errors.Wrapf(err, "nbd: NBD_SET_SIZE_BLOCKS on %s failed", device)
	}

	for _, conn := range conns {
		fd, err := connFd(conn)
		if err != nil {
			_ = ioctl(nb.Fd(), nbdClearSock, 0)
			return err
		}
		if err := ioctl(nb.Fd(), nbdSetSock, uintptr(fd)); err != nil {
			_ = ioctl(nb.Fd(), nbdClearSock, 0)
			return errors.Wrapf(err, "nbd: NBD_SET_SOCK on %s failed", device)
		}
	}

	defer func() {
		_ = ioctl(nb.Fd(), nbdClearQue, 0)
		_ = ioctl(nb.Fd(), nbdClearSock, 0)
	}()

	// NBD_DO_IT blocks in the kernel for the lifetime of the device; it only
	// returns once the device is disconnected (via DisconnectKernelDevice or
	// a peer socket close).
	return ioctl(nb.Fd(), nbdDoIt, 0)
}

// DisconnectKernelDevice requests a clean shutdown of a device attached by
// AttachKernelDevice, unblocking its NBD_DO_IT call. Wired as a
// internal/signalhandling.CleanupStep by cmd/map.
func DisconnectKernelDevice(device string) error {
	nb, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(err, "nbd: open kernel device %s failed", device)
	}
	defer nb.Close()
	return ioctl(nb.Fd(), nbdDisconnect, 0)
}

func ioctl(fd uintptr, request, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// connFd extracts the raw file descriptor from a net.Conn without closing
// or otherwise disturbing it, so ownership can pass to NBD_SET_SOCK.
func connFd(conn net.Conn) (uintptr, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, errors.Errorf("nbd: connection type %T does not expose a raw fd", conn)
	}
	rawConn, err := sc.SyscallConn()
	if err != nil {
		return 0, errors.Wrap(err, "nbd: SyscallConn failed")
	}
	var fd uintptr
	if err := rawConn.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, errors.Wrap(err, "nbd: control raw connection failed")
	}
	return fd, nil
}

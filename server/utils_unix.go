//go:build linux
// +build linux

package server

import (
	"net"

	"golang.org/x/sys/unix"
)

func isFdValid(fd int) bool {
	// Try to get the flags of the file descriptor
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// CloseFd closes fd if it still refers to an open descriptor.
func CloseFd(fd int) error {
	if fd >= 0 && isFdValid(fd) {
		return unix.Close(fd)
	}
	return nil
}

// sockaddrIP extracts the peer address for logging.
func sockaddrIP(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]).String()
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String()
	default:
		return ""
	}
}

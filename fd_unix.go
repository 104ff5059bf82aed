//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.socket.provider.SocketChannelProvider /
// DatagramChannelProvider (original_source), translated from java.nio
// channel calls to raw non-blocking POSIX sockets via golang.org/x/sys/unix.

package netio

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Socket kinds passed to newSocket, matching unix.SOCK_STREAM/SOCK_DGRAM
// without forcing every caller to import golang.org/x/sys/unix.
const (
	socketKindStream   = unix.SOCK_STREAM
	socketKindDatagram = unix.SOCK_DGRAM
)

func sockaddrOf(addr netip.AddrPort) unix.Sockaddr {
	if addr.Addr().Is4() {
		sa := &unix.SockaddrInet4{Port: int(addr.Port())}
		sa.Addr = addr.Addr().As4()
		return sa
	}
	sa := &unix.SockaddrInet6{Port: int(addr.Port())}
	sa.Addr = addr.Addr().As16()
	return sa
}

func addrPortOf(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))
	default:
		return netip.AddrPort{}
	}
}

func newSocket(addr netip.Addr, kind int) (fd int, err error) {
	family := unix.AF_INET
	if addr.Is6() {
		family = unix.AF_INET6
	}
	fd, err = unix.Socket(family, kind|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt reuseaddr: %w", err)
	}
	return fd, nil
}

func bindFD(fd int, addr netip.AddrPort) error {
	if err := unix.Bind(fd, sockaddrOf(addr)); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	return nil
}

func listenFD(fd int, backlog int) error {
	if backlog <= 0 {
		backlog = 128
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func acceptFD(fd int) (newfd int, remote netip.AddrPort, err error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	return nfd, addrPortOf(sa), nil
}

// connectFD issues a non-blocking connect. immediate is true if the
// kernel completed the handshake synchronously (rare, but possible for
// loopback peers).
func connectFD(fd int, remote netip.AddrPort) (immediate bool, err error) {
	err = unix.Connect(fd, sockaddrOf(remote))
	if err == nil {
		return true, nil
	}
	if err == unix.EINPROGRESS {
		return false, nil
	}
	return false, err
}

// connectFinished checks SO_ERROR after a write-readiness wakeup for a
// socket with a pending non-blocking connect.
func connectFinished(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func readFD(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func writeFD(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func recvfromFD(fd int, buf []byte) (int, netip.AddrPort, error) {
	n, sa, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, addrPortOf(sa), nil
}

func sendtoFD(fd int, buf []byte, remote netip.AddrPort) (int, error) {
	if err := unix.Sendto(fd, buf, 0, sockaddrOf(remote)); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

func localAddrOf(fd int) netip.AddrPort {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return addrPortOf(sa)
}

// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.socket.provider.SocketChannelProvider /
// DatagramChannelProvider (original_source)
//

package netio

import (
	"net/netip"
	"time"
)

// ChannelProvider is the thin transport adapter a [Connection] drives:
// per-socket (or, for UDP server mode, per-peer) reads and writes,
// interest-op manipulation, and availability checks. See spec §4.A.
type ChannelProvider interface {
	// Connect starts a non-blocking connect to remote. immediate is
	// true if the kernel completed the handshake synchronously.
	Connect(remote Endpoint, timeout time.Duration) (immediate bool, err error)
	// Read performs one non-blocking read. n==0 with a nil error means
	// EWOULDBLOCK; callers must not treat that as EOF.
	Read(buf []byte) (int, error)
	// Write performs one non-blocking write. n==0 with a nil error
	// means the kernel refused every byte (EWOULDBLOCK).
	Write(buf []byte) (int, error)
	// WriteBacklogStarted notifies the provider that the connection
	// has begun spilling writes to its backlog, so write-readiness
	// should be armed on whatever key backs this provider.
	WriteBacklogStarted()
	// WriteBacklogEnded is the converse notification, once the
	// backlog has fully drained.
	WriteBacklogEnded()
	// SetReadBlock arms or disarms read-readiness, best-effort.
	SetReadBlock(block bool)
	// IsAvailable reports whether the underlying socket is in a
	// useful state (open, and for UDP server mode, the shared socket
	// itself is open).
	IsAvailable() bool
	// Close releases the underlying resource. For UDP server-mode
	// per-peer providers this does not close the shared socket.
	Close() error
	// LocalAddr returns the local address of the underlying socket,
	// if known.
	LocalAddr() netip.AddrPort
}

// connectFinisher is implemented by providers whose Connect may
// complete asynchronously (stream sockets); Connection checks for it
// on write-readiness while a connect is outstanding.
type connectFinisher interface {
	ConnectFinished() error
}

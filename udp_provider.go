// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.socket.provider.DatagramChannelProvider
// (original_source)
//

package netio

import (
	"net/netip"
	"sync"
	"time"

	"github.com/omegazero-go/netio/errclass"
)

// udpClientProvider backs a UDP connection created by a
// [UDPClientManager]: the socket is kernel-connected to a single
// remote, so reads and writes are direct non-blocking syscalls exactly
// like a stream socket.
type udpClientProvider struct {
	fd  int
	key *selectorKey
}

var _ ChannelProvider = (*udpClientProvider)(nil)

func newUDPClientProvider(fd int) *udpClientProvider { return &udpClientProvider{fd: fd} }

func (p *udpClientProvider) setKey(key *selectorKey) { p.key = key }

// Connect performs the kernel-side association. Unlike TCP, this
// always completes synchronously.
func (p *udpClientProvider) Connect(remote Endpoint, _ time.Duration) (bool, error) {
	if _, err := connectFD(p.fd, remote.AddrPort()); err != nil {
		return false, err
	}
	p.key.EnableRead()
	return true, nil
}

// Read and Write translate EAGAIN/EWOULDBLOCK to (0, nil); a zero-
// length successful read is a genuine empty UDP datagram, not EOF —
// UDP sockets have no peer-closed signal.
func (p *udpClientProvider) Read(buf []byte) (int, error) {
	n, err := readFD(p.fd, buf)
	if err != nil && errclass.IsWouldBlock(err) {
		return 0, nil
	}
	return n, err
}

func (p *udpClientProvider) Write(buf []byte) (int, error) {
	n, err := writeFD(p.fd, buf)
	if err != nil && errclass.IsWouldBlock(err) {
		return 0, nil
	}
	return n, err
}

func (p *udpClientProvider) WriteBacklogStarted() { p.key.EnableWrite() }
func (p *udpClientProvider) WriteBacklogEnded()   { p.key.DisableWrite() }

func (p *udpClientProvider) SetReadBlock(block bool) {
	if block {
		p.key.DisableRead()
	} else {
		p.key.EnableRead()
	}
}

func (p *udpClientProvider) IsAvailable() bool {
	if p.key == nil {
		return false
	}
	p.key.mu.Lock()
	defer p.key.mu.Unlock()
	return !p.key.closed
}

func (p *udpClientProvider) Close() error {
	if p.key != nil {
		return p.key.Close()
	}
	return closeFD(p.fd)
}

func (p *udpClientProvider) LocalAddr() netip.AddrPort { return localAddrOf(p.fd) }

// udpBacklogArmer is implemented by the owner of a shared UDP socket
// (a [*UDPServer]) so that a server-mode peer provider can ask it to
// arm or disarm write-readiness on the one shared key, and add or
// remove itself from the backlogged-peer list. See spec §4.H.
type udpBacklogArmer interface {
	peerBacklogStarted(peer *Connection)
	peerBacklogEnded(peer *Connection)
}

// udpServerPeerProvider is a synthesized per-peer "connection" over one
// shared, unconnected UDP socket. Reads are drained from an in-memory
// backlog the [*UDPServer] fills from recvfrom; writes use sendto.
// Close never touches the shared socket: other peers still use it.
type udpServerPeerProvider struct {
	fd     int
	remote netip.AddrPort
	owner  udpBacklogArmer
	self   *Connection

	mu      sync.Mutex
	backlog [][]byte
	closed  bool
}

var _ ChannelProvider = (*udpServerPeerProvider)(nil)

func newUDPServerPeerProvider(fd int, remote netip.AddrPort, owner udpBacklogArmer) *udpServerPeerProvider {
	return &udpServerPeerProvider{fd: fd, remote: remote, owner: owner}
}

// pushDatagram enqueues one received datagram for this peer; called by
// the [*UDPServer] on the loop goroutine after a recvfrom.
func (p *udpServerPeerProvider) pushDatagram(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	p.backlog = append(p.backlog, buf)
}

// Connect is never called on a server-mode peer provider; peers are
// created already connected via Connection.acceptConnected.
func (p *udpServerPeerProvider) Connect(Endpoint, time.Duration) (bool, error) {
	return false, ErrUnsupportedOperation
}

func (p *udpServerPeerProvider) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.backlog) == 0 {
		return 0, nil
	}
	chunk := p.backlog[0]
	p.backlog = p.backlog[1:]
	n := copy(buf, chunk)
	return n, nil
}

func (p *udpServerPeerProvider) Write(buf []byte) (int, error) {
	n, err := sendtoFD(p.fd, buf, p.remote)
	if err != nil && errclass.IsWouldBlock(err) {
		return 0, nil
	}
	return n, err
}

func (p *udpServerPeerProvider) WriteBacklogStarted() {
	if p.owner != nil {
		p.owner.peerBacklogStarted(p.self)
	}
}

func (p *udpServerPeerProvider) WriteBacklogEnded() {
	if p.owner != nil {
		p.owner.peerBacklogEnded(p.self)
	}
}

// SetReadBlock is a deliberate no-op: other peers share this socket, so
// a single peer may never disarm its read-readiness (spec §4.A).
func (p *udpServerPeerProvider) SetReadBlock(bool) {}

func (p *udpServerPeerProvider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Close marks this peer closed without touching the shared socket.
func (p *udpServerPeerProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.backlog = nil
	p.mu.Unlock()
	return nil
}

func (p *udpServerPeerProvider) LocalAddr() netip.AddrPort { return localAddrOf(p.fd) }

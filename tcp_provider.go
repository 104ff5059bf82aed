// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.socket.provider.SocketChannelProvider
// (original_source)
//

package netio

import (
	"io"
	"net/netip"
	"time"

	"github.com/omegazero-go/netio/errclass"
)

// tcpProvider adapts one non-blocking stream socket to [ChannelProvider].
// Interest-op changes go through the [*selectorKey] assigned after
// construction.
type tcpProvider struct {
	fd        int
	key       *selectorKey
	connected bool
}

var _ ChannelProvider = (*tcpProvider)(nil)

func newTCPProvider(fd int) *tcpProvider {
	return &tcpProvider{fd: fd}
}

func (p *tcpProvider) setKey(key *selectorKey) { p.key = key }

// Connect issues a non-blocking connect and arms write-readiness if it
// did not complete synchronously; the caller (Connection.Connect) is
// responsible for the connect-timeout timer.
func (p *tcpProvider) Connect(remote Endpoint, _ time.Duration) (bool, error) {
	immediate, err := connectFD(p.fd, remote.AddrPort())
	if err != nil {
		return false, err
	}
	p.connected = immediate
	if immediate {
		p.key.EnableRead()
	} else {
		p.key.EnableWrite()
	}
	return immediate, nil
}

// ConnectFinished implements [connectFinisher].
func (p *tcpProvider) ConnectFinished() error {
	if err := connectFinished(p.fd); err != nil {
		return err
	}
	p.connected = true
	p.key.DisableWrite()
	p.key.EnableRead()
	return nil
}

// Read translates EAGAIN/EWOULDBLOCK to (0, nil) — spec §4.A defines
// that as "kernel refuses more", not an error — and a genuine
// zero-byte, no-error read (the peer closed its write side) to
// [io.EOF], so [Connection.onReadable] can tell the two apart.
func (p *tcpProvider) Read(buf []byte) (int, error) {
	n, err := readFD(p.fd, buf)
	if err != nil {
		if errclass.IsWouldBlock(err) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (p *tcpProvider) Write(buf []byte) (int, error) {
	n, err := writeFD(p.fd, buf)
	if err != nil && errclass.IsWouldBlock(err) {
		return 0, nil
	}
	return n, err
}

func (p *tcpProvider) WriteBacklogStarted() { p.key.EnableWrite() }
func (p *tcpProvider) WriteBacklogEnded()   { p.key.DisableWrite() }

func (p *tcpProvider) SetReadBlock(block bool) {
	if block {
		p.key.DisableRead()
	} else {
		p.key.EnableRead()
	}
}

func (p *tcpProvider) IsAvailable() bool {
	return p.key != nil && !p.keyClosed()
}

func (p *tcpProvider) keyClosed() bool {
	p.key.mu.Lock()
	defer p.key.mu.Unlock()
	return p.key.closed
}

func (p *tcpProvider) Close() error {
	if p.key != nil {
		return p.key.Close()
	}
	return closeFD(p.fd)
}

func (p *tcpProvider) LocalAddr() netip.AddrPort { return localAddrOf(p.fd) }

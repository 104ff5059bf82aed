// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.client.NioDatagramClientManager /
// org.omegazero.net.client.DatagramClientManager (original_source)
//

package netio

import (
	"fmt"
	"net/netip"
	"sync"
)

// UDPClientManager opens outbound datagram connections, optionally
// DTLS-encrypted, over a kernel-connected UDP socket per peer, sharing
// one [Selector]. See spec §4.G/§4.H.
type UDPClientManager struct {
	sel  *Selector
	cfg  *Config
	opts ClientOptions

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// NewUDPClientManager creates a [*UDPClientManager] with its own
// readiness loop. Call [UDPClientManager.Run] to drive it.
func NewUDPClientManager(opts ClientOptions) (*UDPClientManager, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = NewConfig()
	}
	sel, err := NewSelector(cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &UDPClientManager{
		sel:   sel,
		cfg:   cfg,
		opts:  opts,
		conns: make(map[*Connection]struct{}),
	}, nil
}

// Connect constructs a plaintext outbound datagram connection
// kernel-bound to a single remote address and registers it with the
// selector, but does not start connecting: wire up event handlers on
// the returned [*Connection], then call [Connection.Connect] with
// whatever timeout this call should use.
func (m *UDPClientManager) Connect(params ConnectParams) (*Connection, error) {
	provider, fd, err := m.newDatagramProvider(params.LocalAddr, params.Remote)
	if err != nil {
		return nil, err
	}
	conn := NewPlaintextDatagramConnection(m.sel, provider, params.Remote, m.cfg)
	return m.finishConnect(conn, provider, fd)
}

// ConnectDTLS constructs an outbound datagram connection that performs
// a DTLS handshake once the UDP association completes. See
// [UDPClientManager.Connect]: the returned connection is likewise not
// yet connecting.
func (m *UDPClientManager) ConnectDTLS(params TLSConnectParams) (*Connection, error) {
	provider, fd, err := m.newDatagramProvider(params.LocalAddr, params.Remote)
	if err != nil {
		return nil, err
	}
	conn := NewDTLSClientConnection(m.sel, provider, params, m.cfg)
	return m.finishConnect(conn, provider, fd)
}

func (m *UDPClientManager) newDatagramProvider(local netip.Addr, remote Endpoint) (*udpClientProvider, int, error) {
	if remote.IsUnix() {
		return nil, -1, fmt.Errorf("netio: unix-domain datagram connections not supported")
	}
	bindAddr := local
	if !bindAddr.IsValid() {
		if remote.AddrPort().Addr().Is6() {
			bindAddr = netip.IPv6Unspecified()
		} else {
			bindAddr = netip.IPv4Unspecified()
		}
	}
	fd, err := newSocket(bindAddr, socketKindDatagram)
	if err != nil {
		return nil, -1, err
	}
	if local.IsValid() {
		if err := bindFD(fd, netip.AddrPortFrom(local, 0)); err != nil {
			closeFD(fd)
			return nil, -1, err
		}
	}
	return newUDPClientProvider(fd), fd, nil
}

// finishConnect registers provider/fd with the selector and wires the
// connection's own key, worker, and bookkeeping close hook. It does not
// call [Connection.Connect]; the caller does that once it has finished
// wiring event handlers.
func (m *UDPClientManager) finishConnect(conn *Connection, provider *udpClientProvider, fd int) (*Connection, error) {
	key, err := m.sel.Register(fd, 0, conn)
	if err != nil {
		closeFD(fd)
		return nil, err
	}
	provider.setKey(key)
	conn.key = key
	if m.opts.WorkerFactory != nil {
		conn.SetWorker(m.opts.WorkerFactory())
	}
	conn.addCloseHook(m.removeConn)

	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.mu.Unlock()

	return conn, nil
}

func (m *UDPClientManager) removeConn(c *Connection) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}

// Run starts the readiness loop; it blocks until [UDPClientManager.Close]
// is called or the selector's rebuild policy is exhausted.
func (m *UDPClientManager) Run() error { return m.sel.Run() }

// Close stops the loop and closes every connection this manager opened.
func (m *UDPClientManager) Close() error { return m.sel.Close() }

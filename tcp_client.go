// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.client.NioTCPClientManager /
// org.omegazero.net.client.TCPClientManager (original_source)
//

package netio

import (
	"fmt"
	"net/netip"
	"sync"
)

// TCPClientManager opens outbound stream connections, optionally
// TLS-encrypted, sharing one [Selector] across every connection it
// creates. See spec §4.G for the client-side construction algorithm.
type TCPClientManager struct {
	sel  *Selector
	cfg  *Config
	opts ClientOptions

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// NewTCPClientManager creates a [*TCPClientManager] with its own
// readiness loop. Call [TCPClientManager.Run] to drive it.
func NewTCPClientManager(opts ClientOptions) (*TCPClientManager, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = NewConfig()
	}
	sel, err := NewSelector(cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &TCPClientManager{
		sel:   sel,
		cfg:   cfg,
		opts:  opts,
		conns: make(map[*Connection]struct{}),
	}, nil
}

// Connect constructs a plaintext outbound stream connection and
// registers it with the selector, but does not start connecting: wire
// up event handlers on the returned [*Connection], then call
// [Connection.Connect] with whatever timeout this call should use.
// Mirrors org.omegazero.net.client.TCPClientManager's connection(params)
// in original_source, which returns an unconnected SocketConnection for
// the same reason: one manager's connections do not all share a single
// construction-time timeout.
func (m *TCPClientManager) Connect(params ConnectParams) (*Connection, error) {
	provider, fd, err := m.newStreamProvider(params.LocalAddr, params.Remote)
	if err != nil {
		return nil, err
	}
	conn := NewPlaintextConnection(m.sel, provider, params.Remote, m.cfg)
	return m.finishConnect(conn, provider, fd)
}

// ConnectTLS constructs an outbound stream connection that performs a
// TLS handshake once the transport connects. See
// [TCPClientManager.Connect]: the returned connection is likewise not
// yet connecting.
func (m *TCPClientManager) ConnectTLS(params TLSConnectParams) (*Connection, error) {
	provider, fd, err := m.newStreamProvider(params.LocalAddr, params.Remote)
	if err != nil {
		return nil, err
	}
	conn := NewTLSClientConnection(m.sel, provider, params, m.cfg)
	return m.finishConnect(conn, provider, fd)
}

func (m *TCPClientManager) newStreamProvider(local netip.Addr, remote Endpoint) (*tcpProvider, int, error) {
	if remote.IsUnix() {
		return nil, -1, fmt.Errorf("netio: unix-domain outbound connections not yet supported")
	}
	bindAddr := local
	if !bindAddr.IsValid() {
		if remote.AddrPort().Addr().Is6() {
			bindAddr = netip.IPv6Unspecified()
		} else {
			bindAddr = netip.IPv4Unspecified()
		}
	}
	fd, err := newSocket(bindAddr, socketKindStream)
	if err != nil {
		return nil, -1, err
	}
	if local.IsValid() {
		if err := bindFD(fd, netip.AddrPortFrom(local, 0)); err != nil {
			closeFD(fd)
			return nil, -1, err
		}
	}
	return newTCPProvider(fd), fd, nil
}

// finishConnect registers provider/fd with the selector and wires the
// connection's own key, worker, and bookkeeping close hook. It does not
// call [Connection.Connect]; the caller does that once it has finished
// wiring event handlers.
func (m *TCPClientManager) finishConnect(conn *Connection, provider *tcpProvider, fd int) (*Connection, error) {
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

func (m *TCPClientManager) removeConn(c *Connection) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}

// Run starts the readiness loop; it blocks until [TCPClientManager.Close]
// is called or the selector's rebuild policy is exhausted.
func (m *TCPClientManager) Run() error { return m.sel.Run() }

// Close stops the loop and closes every connection this manager opened.
func (m *TCPClientManager) Close() error { return m.sel.Close() }

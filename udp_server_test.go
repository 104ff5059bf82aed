// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestUDPServer(t *testing.T, opts ServerOptions) (*UDPServer, netip.AddrPort) {
	t.Helper()
	if len(opts.BindAddrs) == 0 {
		opts.BindAddrs = []netip.Addr{netip.MustParseAddr("127.0.0.1")}
	}
	if len(opts.Ports) == 0 {
		opts.Ports = []uint16{0}
	}
	srv, err := NewUDPServer(opts)
	require.NoError(t, err)
	require.NoError(t, srv.Init())
	addr := localAddrOf(srv.sockets[0].fd)

	go func() { _ = srv.Run() }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, addr
}

func startTestUDPClientManager(t *testing.T) *UDPClientManager {
	t.Helper()
	mgr, err := NewUDPClientManager(ClientOptions{})
	require.NoError(t, err)
	go func() { _ = mgr.Run() }()
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestUDPServerEchoRoundTrip(t *testing.T) {
	srv, addr := startTestUDPServer(t, ServerOptions{})
	srv.OnNewConnection(func(c *Connection) {
		c.OnData(func(c *Connection, data []byte) { c.Write(data) })
	})

	mgr := startTestUDPClientManager(t)
	conn, err := mgr.Connect(ConnectParams{Remote: NewEndpoint(addr)})
	require.NoError(t, err)

	received := make(chan []byte, 1)
	conn.OnData(func(_ *Connection, data []byte) { received <- data })
	conn.OnConnect(func(c *Connection) { c.Write([]byte("ping")) })
	conn.Connect(3 * time.Second)

	select {
	case data := <-received:
		assert.Equal(t, "ping", string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("did not receive echo before deadline")
	}
}

// TestUDPServerDemultiplexesDistinctPeers verifies that two client
// sockets talking to the same shared server socket are kept apart as
// independent synthesized connections, and that a datagram from one
// peer is never delivered to the other's handler.
func TestUDPServerDemultiplexesDistinctPeers(t *testing.T) {
	srv, addr := startTestUDPServer(t, ServerOptions{})
	srv.OnNewConnection(func(c *Connection) {
		c.OnData(func(c *Connection, data []byte) { c.Write(data) })
	})

	mgr := startTestUDPClientManager(t)

	connA, err := mgr.Connect(ConnectParams{Remote: NewEndpoint(addr)})
	require.NoError(t, err)
	connB, err := mgr.Connect(ConnectParams{Remote: NewEndpoint(addr)})
	require.NoError(t, err)

	recvA := make(chan []byte, 1)
	recvB := make(chan []byte, 1)
	connA.OnData(func(_ *Connection, data []byte) { recvA <- data })
	connB.OnData(func(_ *Connection, data []byte) { recvB <- data })
	connA.OnConnect(func(c *Connection) { c.Write([]byte("from-a")) })
	connB.OnConnect(func(c *Connection) { c.Write([]byte("from-b")) })
	connA.Connect(3 * time.Second)
	connB.Connect(3 * time.Second)

	for _, tc := range []struct {
		ch   chan []byte
		want string
	}{{recvA, "from-a"}, {recvB, "from-b"}} {
		select {
		case data := <-tc.ch:
			assert.Equal(t, tc.want, string(data))
		case <-time.After(3 * time.Second):
			t.Fatal("did not receive echo before deadline")
		}
	}

	srv.mu.Lock()
	npeers := len(srv.peers)
	srv.mu.Unlock()
	assert.Equal(t, 2, npeers)
}

// TestUDPSocketOnWritableDrainsBacklogAndDisarms exercises the fix for
// the shared socket's write-readiness handler directly: a peer with
// backlogged data must be drained and, once its backlog empties, the
// shared key's write interest must be disarmed again.
func TestUDPSocketOnWritableDrainsBacklogAndDisarms(t *testing.T) {
	fdShared, err := newSocket(netip.MustParseAddr("127.0.0.1"), socketKindDatagram)
	require.NoError(t, err)
	defer closeFD(fdShared)
	require.NoError(t, bindFD(fdShared, netip.MustParseAddrPort("127.0.0.1:0")))

	fdPeer, err := newSocket(netip.MustParseAddr("127.0.0.1"), socketKindDatagram)
	require.NoError(t, err)
	defer closeFD(fdPeer)
	require.NoError(t, bindFD(fdPeer, netip.MustParseAddrPort("127.0.0.1:0")))
	peerAddr := localAddrOf(fdPeer)

	sel := newTestSelector(t)
	srv := &UDPServer{cfg: NewConfig(), sel: sel, peers: make(map[netip.AddrPort]*Connection)}
	sock := &udpSocket{fd: fdShared, srv: srv}
	key, err := sel.Register(fdShared, pollIn, sock)
	require.NoError(t, err)
	sock.key = key
	srv.sockets = []*udpSocket{sock}

	provider := newUDPServerPeerProvider(fdShared, peerAddr, srv)
	conn := NewPlaintextDatagramConnection(sel, provider, NewEndpoint(peerAddr), srv.cfg)
	provider.self = conn
	srv.peers[peerAddr] = conn
	conn.acceptConnected()

	var writable int
	conn.OnWritable(func(*Connection) { writable++ })

	conn.WriteQueue([]byte("queued"))

	assert.Len(t, sock.backlogged, 1, "queuing data must register the peer as backlogged")
	assert.NotZero(t, key.events&pollOut, "write-readiness must be armed while backlogged")

	sock.onWritable()

	assert.Len(t, sock.backlogged, 0, "a fully drained peer must be removed from the backlogged set")
	assert.Zero(t, key.events&pollOut, "write-readiness must be disarmed once nothing is backlogged")
	assert.Equal(t, 1, writable)
}

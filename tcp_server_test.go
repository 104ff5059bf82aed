// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a mutable, goroutine-safe clock for exercising idle
// sweeps deterministically instead of sleeping past a real timeout.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Now()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// startTestTCPServer binds a [*TCPServer] to an OS-assigned loopback
// port, starts its loop in the background, and returns the address it
// is actually listening on.
func startTestTCPServer(t *testing.T, opts ServerOptions) (*TCPServer, netip.AddrPort) {
	t.Helper()
	if len(opts.BindAddrs) == 0 {
		opts.BindAddrs = []netip.Addr{netip.MustParseAddr("127.0.0.1")}
	}
	if len(opts.Ports) == 0 {
		opts.Ports = []uint16{0}
	}
	srv, err := NewTCPServer(opts)
	require.NoError(t, err)
	require.NoError(t, srv.Init())
	addr := localAddrOf(srv.listeners[0].fd)

	go func() { _ = srv.Run() }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, addr
}

func startTestTCPClientManager(t *testing.T) *TCPClientManager {
	t.Helper()
	mgr, err := NewTCPClientManager(ClientOptions{})
	require.NoError(t, err)
	go func() { _ = mgr.Run() }()
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestTCPServerEchoRoundTrip(t *testing.T) {
	srv, addr := startTestTCPServer(t, ServerOptions{})
	srv.OnNewConnection(func(c *Connection) {
		c.OnData(func(c *Connection, data []byte) { c.Write(data) })
	})

	mgr := startTestTCPClientManager(t)
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

func TestTCPServerGracefulCloseFlushesBeforeClosing(t *testing.T) {
	srv, addr := startTestTCPServer(t, ServerOptions{})
	srv.OnNewConnection(func(c *Connection) {
		c.OnConnect(func(c *Connection) {
			c.Write([]byte("bye"))
			c.Close()
		})
	})

	mgr := startTestTCPClientManager(t)
	conn, err := mgr.Connect(ConnectParams{Remote: NewEndpoint(addr)})
	require.NoError(t, err)

	received := make(chan []byte, 1)
	closed := make(chan struct{})
	conn.OnData(func(_ *Connection, data []byte) { received <- data })
	conn.OnClose(func(*Connection) { close(closed) })
	conn.Connect(3 * time.Second)

	select {
	case data := <-received:
		assert.Equal(t, "bye", string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("did not receive final data before deadline")
	}

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("close never fired after graceful data flush")
	}
}

func TestTCPServerIdleSweepClosesStaleConnection(t *testing.T) {
	clock := newTestClock()
	cfg := NewConfig()
	cfg.TimeNow = clock.Now

	srv, addr := startTestTCPServer(t, ServerOptions{
		Config:      cfg,
		IdleTimeout: 10 * time.Millisecond,
	})

	serverSideClosed := make(chan struct{})
	srv.OnNewConnection(func(c *Connection) {
		c.OnClose(func(*Connection) { close(serverSideClosed) })
	})

	mgr := startTestTCPClientManager(t)
	conn, err := mgr.Connect(ConnectParams{Remote: NewEndpoint(addr)})
	require.NoError(t, err)

	connected := make(chan struct{})
	conn.OnConnect(func(*Connection) { close(connected) })
	conn.Connect(3 * time.Second)
	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
	}

	// The server-side accept is asynchronous relative to the client's
	// own EventConnect; give it a moment to land in srv.conns before
	// forcing a sweep.
	time.Sleep(50 * time.Millisecond)

	clock.Advance(time.Hour)
	srv.sweepIdle()

	select {
	case <-serverSideClosed:
	case <-time.After(3 * time.Second):
		t.Fatal("idle sweep never closed the stale connection")
	}
}

// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"errors"
	"io"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-memory [ChannelProvider] used to drive
// [Connection]'s state machine without a real socket.
type fakeProvider struct {
	mu sync.Mutex

	connectImmediate bool
	connectErr       error

	blocked  bool
	writeBuf []byte

	readErr  error
	readData []byte

	available bool
	closed    bool

	backlogStarted int
	backlogEnded   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{connectImmediate: true, available: true}
}

var _ ChannelProvider = (*fakeProvider)(nil)

func (p *fakeProvider) Connect(Endpoint, time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectImmediate, p.connectErr
}

func (p *fakeProvider) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		err := p.readErr
		p.readErr = nil
		return 0, err
	}
	if len(p.readData) == 0 {
		return 0, nil
	}
	n := copy(buf, p.readData)
	p.readData = p.readData[n:]
	return n, nil
}

func (p *fakeProvider) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blocked {
		return 0, nil
	}
	p.writeBuf = append(p.writeBuf, buf...)
	return len(buf), nil
}

func (p *fakeProvider) LocalAddr() netip.AddrPort { return netip.AddrPort{} }

func (p *fakeProvider) SetReadBlock(bool) {}

func (p *fakeProvider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.available = false
	return nil
}

func (p *fakeProvider) WriteBacklogStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backlogStarted++
}

func (p *fakeProvider) WriteBacklogEnded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backlogEnded++
}

func (p *fakeProvider) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.writeBuf))
	copy(out, p.writeBuf)
	return out
}

func (p *fakeProvider) setBlocked(v bool) {
	p.mu.Lock()
	p.blocked = v
	p.mu.Unlock()
}

func (p *fakeProvider) setReadResult(data []byte, err error) {
	p.mu.Lock()
	p.readData = data
	p.readErr = err
	p.mu.Unlock()
}

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	sel, err := NewSelector(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sel.Close() })
	return sel
}

func newTestPlainConnection(t *testing.T) (*Connection, *fakeProvider, *Selector) {
	t.Helper()
	sel := newTestSelector(t)
	p := newFakeProvider()
	c := NewPlaintextConnection(sel, p, NewEndpoint(netip.MustParseAddrPort("127.0.0.1:1")), nil)
	return c, p, sel
}

func TestConnectionPreConnectQueueDrainsInConnectOrder(t *testing.T) {
	c, p, sel := newTestPlainConnection(t)

	var connected bool
	c.OnConnect(func(*Connection) { connected = true })

	c.Write([]byte("a"))
	c.Write([]byte("b"))
	assert.Empty(t, p.written(), "writes before connect must stay queued")

	c.Connect(0)
	sel.drainDeferred()

	assert.True(t, connected)
	assert.Equal(t, []byte("ab"), p.written())
}

func TestConnectionWriteBacklogSpillAndFlush(t *testing.T) {
	c, p, sel := newTestPlainConnection(t)
	c.Connect(0)
	sel.drainDeferred()

	var writable int
	c.OnWritable(func(*Connection) { writable++ })

	p.setBlocked(true)
	c.Write([]byte("hello"))
	assert.Equal(t, 1, p.backlogStarted)
	assert.Equal(t, 0, p.backlogEnded)
	assert.Empty(t, p.written())

	p.setBlocked(false)
	drained := c.FlushWriteBacklog()

	assert.True(t, drained)
	assert.Equal(t, []byte("hello"), p.written())
	assert.Equal(t, 1, p.backlogEnded)
	assert.Equal(t, 1, writable)
}

func TestConnectionCloseDeferredUntilBacklogDrains(t *testing.T) {
	c, p, sel := newTestPlainConnection(t)
	c.Connect(0)
	sel.drainDeferred()

	var closed bool
	c.OnClose(func(*Connection) { closed = true })

	p.setBlocked(true)
	c.Write([]byte("x"))
	c.Close()
	assert.False(t, closed, "close must wait for the backlog to drain")

	p.setBlocked(false)
	c.FlushWriteBacklog()
	sel.drainDeferred()

	assert.True(t, closed)
	assert.True(t, p.closed)
}

func TestConnectionOnReadableEOFDestroysWithoutErrorEvent(t *testing.T) {
	c, p, sel := newTestPlainConnection(t)
	c.Connect(0)
	sel.drainDeferred()

	var gotError bool
	var gotClose bool
	c.OnError(func(*Connection, error) { gotError = true })
	c.OnClose(func(*Connection) { gotClose = true })

	p.setReadResult(nil, io.EOF)
	c.onReadable()
	sel.drainDeferred()

	assert.False(t, gotError)
	assert.True(t, gotClose)
}

func TestConnectionOnReadableErrorFiresErrorThenClose(t *testing.T) {
	c, p, sel := newTestPlainConnection(t)
	c.Connect(0)
	sel.drainDeferred()

	wantErr := errors.New("boom")
	var gotErr error
	var gotClose bool
	c.OnError(func(_ *Connection, err error) { gotErr = err })
	c.OnClose(func(*Connection) { gotClose = true })

	p.setReadResult(nil, wantErr)
	c.onReadable()

	require.ErrorIs(t, gotErr, wantErr)
	assert.False(t, gotClose, "close dispatch is deferred to the loop goroutine")

	sel.drainDeferred()
	assert.True(t, gotClose)
}

func TestConnectionAcceptConnectedFiresImmediatelyForPlaintext(t *testing.T) {
	c, _, _ := newTestPlainConnection(t)

	var connected bool
	c.OnConnect(func(*Connection) { connected = true })

	c.acceptConnected()

	assert.True(t, connected)
	assert.True(t, c.IsConnected())
	assert.True(t, c.IsSocketConnected())
}

func TestConnectionCloseHooksRunBeforePublicOnClose(t *testing.T) {
	c, _, sel := newTestPlainConnection(t)
	c.Connect(0)
	sel.drainDeferred()

	var order []string
	c.addCloseHook(func(*Connection) { order = append(order, "hook") })
	c.OnClose(func(*Connection) { order = append(order, "onClose") })

	c.Close()
	sel.drainDeferred()

	require.Equal(t, []string{"hook", "onClose"}, order)
}

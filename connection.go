// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.socket.AbstractSocketConnection,
// org.omegazero.net.nio.socket.ChannelConnection (original_source)
//

package netio

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"
)

// ErrUnsupportedOperation is the error [Connection.Connect] delivers to
// [EventError] when no remote address was configured for the connection.
var ErrUnsupportedOperation = errors.New("netio: unsupported operation")

// TransportKind distinguishes stream and datagram connections.
type TransportKind int

const (
	TransportStream TransportKind = iota
	TransportDatagram
)

// EncryptionKind distinguishes plaintext, TLS, and DTLS connections.
type EncryptionKind int

const (
	EncryptionNone EncryptionKind = iota
	EncryptionTLS
	EncryptionDTLS
)

// codec adapts a [Connection]'s wire bytes to application bytes. The
// base Connection owns the write-backlog algorithm and the event
// table; a codec only decides how application bytes become wire bytes
// and back. [plaintextCodec] is the identity codec; [tlsCodec] wraps a
// TLS or DTLS library connection.
type codec interface {
	// start runs once, right after the transport connects. immediate
	// reports whether EventConnect should fire now; when false, the
	// codec is responsible for calling c.fireConnect() itself once
	// ready (e.g. after a TLS handshake completes).
	start(c *Connection) (immediate bool, err error)
	// onWireData is called with freshly read wire bytes. It returns
	// decoded application payload, or nil if none materialized yet.
	onWireData(c *Connection, wire []byte) (app []byte, err error)
	// wrapWrite turns application bytes into wire bytes and feeds them
	// to c.writeWire. May call c.writeWire more than once.
	wrapWrite(c *Connection, app []byte) error
	// closeNotify performs a protocol-level close handshake,
	// best-effort. Runs under the connection's write lock.
	closeNotify(c *Connection)
}

// codecShutdownWaiter is optionally implemented by a codec that runs
// background goroutines dispatching events on their own (like
// [tlsCodec]'s drive/forward pair). finishDestroy blocks on it after
// closeNotify so a final EventConnect/EventData dispatch still in
// flight cannot race, or arrive after, EventClose.
type codecShutdownWaiter interface {
	awaitShutdown()
}

// Connection is an ordered, bidirectional byte stream between a local
// and a remote [Endpoint], driven entirely by the event table described
// in doc.go. See spec §3/§4.B for the write-backlog and pre-connect
// queue algorithms this type implements.
type Connection struct {
	id        string
	transport TransportKind
	encrypted EncryptionKind

	provider ChannelProvider
	codec    codec
	sel      *Selector
	key      *selectorKey

	worker Worker
	events eventTable
	cfg    *Config

	remote         Endpoint
	local          Endpoint
	apparentRemote netip.AddrPort
	hasApparent    bool

	writeLock sync.Mutex
	readLock  sync.Mutex

	readBuf []byte

	writeBacklog    [][]byte
	writeBufTemp    []byte
	writeBufTempPos int
	pendingClose    bool
	localClose      bool
	destroyed       bool

	preConnectQueue [][]byte
	hasConnected    bool
	connectFired    bool

	connectTimer *time.Timer
	lastIOTime   time.Time

	attachment any

	closeHooks []func(*Connection)
}

// addCloseHook registers an internal callback run (in registration
// order, before the public [EventClose] handler) when this connection
// is destroyed. Used by [TCPServer]/[UDPServer]/client managers to
// remove a connection from their own bookkeeping without contending
// with whatever [Connection.OnClose] handler the application installs.
func (c *Connection) addCloseHook(fn func(*Connection)) {
	c.closeHooks = append(c.closeHooks, fn)
}

// newConnection builds the shared base state. Concrete constructors
// (plaintext, TLS) call this, set transport/encryption-specific fields,
// then assign a codec.
func newConnection(sel *Selector, provider ChannelProvider, remote Endpoint, cfg *Config, readBufSize int) *Connection {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Connection{
		id:         NewConnID(),
		provider:   provider,
		sel:        sel,
		worker:     SyncWorker{},
		cfg:        cfg,
		remote:     remote,
		readBuf:    make([]byte, readBufSize),
		lastIOTime: cfg.TimeNow(),
	}
}

// ID returns this connection's stable, time-ordered identifier.
func (c *Connection) ID() string { return c.id }

// SetWorker installs the [Worker] used to dispatch non-error events.
// Must be called before Connect.
func (c *Connection) SetWorker(w Worker) {
	if w == nil {
		w = SyncWorker{}
	}
	c.worker = w
}

// OnConnect registers the handler for [EventConnect].
func (c *Connection) OnConnect(h ConnectHandler) { c.events.onConnect = h }

// OnTimeout registers the handler for [EventTimeout].
func (c *Connection) OnTimeout(h TimeoutHandler) { c.events.onTimeout = h }

// OnData registers the handler for [EventData].
func (c *Connection) OnData(h DataHandler) { c.events.onData = h }

// OnWritable registers the handler for [EventWritable].
func (c *Connection) OnWritable(h WritableHandler) { c.events.onWritable = h }

// OnClose registers the handler for [EventClose].
func (c *Connection) OnClose(h CloseHandler) { c.events.onClose = h }

// OnError registers the handler for [EventError].
func (c *Connection) OnError(h ErrorHandler) { c.events.onError = h }

// Attachment returns the opaque user value set by SetAttachment.
func (c *Connection) Attachment() any { return c.attachment }

// SetAttachment stores an opaque user value alongside the connection.
func (c *Connection) SetAttachment(v any) { c.attachment = v }

// RemoteAddr returns the real remote endpoint.
func (c *Connection) RemoteAddr() Endpoint { return c.remote }

// LocalAddr returns the local endpoint, if known.
func (c *Connection) LocalAddr() Endpoint { return c.local }

// ApparentRemoteAddr returns the advisory override address set via
// SetApparentRemoteAddr, or the real remote address if none was set.
func (c *Connection) ApparentRemoteAddr() netip.AddrPort {
	if c.hasApparent {
		return c.apparentRemote
	}
	if !c.remote.IsUnix() {
		return c.remote.AddrPort()
	}
	return netip.AddrPort{}
}

// SetApparentRemoteAddr overrides the address reported by
// ApparentRemoteAddr, for connections proxied on behalf of another
// peer.
func (c *Connection) SetApparentRemoteAddr(addr netip.AddrPort) {
	c.apparentRemote = addr
	c.hasApparent = true
}

// LastIOTime returns the wall-clock time of the most recent read or
// write, used by idle-timeout sweepers.
func (c *Connection) LastIOTime() time.Time {
	c.readLock.Lock()
	defer c.readLock.Unlock()
	return c.lastIOTime
}

func (c *Connection) touchIO() {
	c.lastIOTime = c.cfg.TimeNow()
}

// submitEvent hands fn to c.worker wrapped in a recover that converts a
// panic into an [EventError] dispatch instead of letting it escape onto
// the worker's goroutine (the selector loop, for the default
// [SyncWorker]). Every user-registered handler except [EventError]'s
// goes through this; per spec §7 the error handler itself runs
// unwrapped and must not panic.
func (c *Connection) submitEvent(fn func()) {
	c.worker.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				c.handleError(fmt.Errorf("netio: handler panic: %v", r))
			}
		}()
		fn()
	})
}

// IsConnected reports whether EventConnect has fired — for a plaintext
// connection this is transport-connect; for TLS/DTLS it additionally
// requires the handshake to have completed — and the socket is still
// open. See [Connection.IsSocketConnected] for the transport-only check.
func (c *Connection) IsConnected() bool {
	return c.connectFired && c.provider.IsAvailable()
}

// IsSocketConnected reports whether the transport alone (TCP handshake
// or UDP association) has completed and the socket is still open,
// independent of any TLS/DTLS handshake still in progress on top of it.
func (c *Connection) IsSocketConnected() bool {
	return c.hasConnected && c.provider.IsAvailable()
}

// IsWritable reports connected && backlog-empty, per spec §8.
func (c *Connection) IsWritable() bool {
	return c.IsConnected() && c.isWriteBacklogEmpty()
}

// SetReadBlock enables or disables read-readiness, best-effort.
func (c *Connection) SetReadBlock(block bool) {
	c.provider.SetReadBlock(block)
}

// Connect starts a non-blocking connect with the given timeout. Fails
// with [ErrUnsupportedOperation] if no remote address was configured.
func (c *Connection) Connect(timeout time.Duration) {
	if c.remote == (Endpoint{}) {
		c.handleError(ErrUnsupportedOperation)
		return
	}
	immediate, err := c.provider.Connect(c.remote, timeout)
	if err != nil {
		c.handleError(err)
		return
	}
	c.local = NewEndpoint(c.provider.LocalAddr())
	if timeout > 0 {
		c.connectTimer = time.AfterFunc(timeout, func() {
			c.sel.Defer(c.handleConnectTimeout)
		})
	}
	if immediate {
		c.sel.Defer(c.onTransportConnected)
	}
}

// onTransportConnected runs on the loop goroutine once the transport
// (TCP handshake or UDP association) has completed.
func (c *Connection) onTransportConnected() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	c.hasConnected = true

	immediate, err := c.codec.start(c)
	if err != nil {
		c.handleError(err)
		return
	}
	if immediate {
		c.fireConnect()
	}
}

// acceptConnected marks a server-accepted or UDP-demultiplexed
// connection as transport-connected without going through Connect; the
// codec then decides whether EventConnect fires immediately (plaintext)
// or after a handshake (TLS/DTLS).
func (c *Connection) acceptConnected() {
	c.hasConnected = true
	immediate, err := c.codec.start(c)
	if err != nil {
		c.handleError(err)
		return
	}
	if immediate {
		c.fireConnect()
	}
}

func (c *Connection) handleConnectTimeout() {
	if c.hasConnected || c.destroyed {
		return
	}
	if c.events.onTimeout != nil {
		h := c.events.onTimeout
		c.submitEvent(func() { h(c) })
	} else {
		c.handleError(fmt.Errorf("netio: connect timed out"))
		return
	}
	c.destroy()
}

// fireConnect drains the pre-connect write queue — in order, through
// the now-connected write path — and dispatches EventConnect via the
// worker. Per spec §4.B the queue is present "from construction until
// the first connect event fires", so this is the single place both
// plaintext (immediate) and TLS/DTLS (post-handshake) connections
// retire it.
func (c *Connection) fireConnect() {
	c.writeLock.Lock()
	if c.connectFired {
		c.writeLock.Unlock()
		return
	}
	c.connectFired = true
	queued := c.preConnectQueue
	c.preConnectQueue = nil
	c.writeLock.Unlock()

	for _, chunk := range queued {
		c.writeLocked(chunk)
	}
	if h := c.events.onConnect; h != nil {
		c.submitEvent(func() { h(c) })
	}
}

// onReadable implements [ioHandler]; invoked on the loop goroutine
// when the socket is ready for reading.
func (c *Connection) onReadable() {
	if !c.hasConnected {
		// stream client sockets arm write-readiness, not
		// read-readiness, while a connect is outstanding; this guards
		// datagram/edge cases where both could fire together.
		return
	}
	c.readLock.Lock()
	n, err := c.provider.Read(c.readBuf)
	c.touchIO()
	c.readLock.Unlock()
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Peer closed its write side; spec §4.B treats this as
			// immediate forced-close, not an error event.
			c.destroy()
			return
		}
		c.handleError(err)
		return
	}
	if n == 0 {
		return
	}
	app, err := c.codec.onWireData(c, c.readBuf[:n])
	if err != nil {
		c.handleError(err)
		return
	}
	c.dispatchData(app)
}

// dispatchData submits one EventData dispatch for app, copying it
// first since callers (onReadable, and the TLS codec's background
// reader goroutine) reuse their buffers. A nil/empty app is a no-op.
func (c *Connection) dispatchData(app []byte) {
	if len(app) == 0 {
		return
	}
	data := make([]byte, len(app))
	copy(data, app)
	if h := c.events.onData; h != nil {
		c.submitEvent(func() { h(c, data) })
	}
}

// onWritable implements [ioHandler]; invoked on the loop goroutine when
// the socket transitions to write-ready, either to finish a pending
// connect or to drain the write backlog.
func (c *Connection) onWritable() {
	if !c.hasConnected {
		if checker, ok := c.provider.(connectFinisher); ok {
			if err := checker.ConnectFinished(); err != nil {
				c.handleError(err)
				return
			}
		}
		c.onTransportConnected()
		return
	}
	c.FlushWriteBacklog()
}

// Write buffers data for sending. Before the first connect completes,
// data is appended to the pre-connect queue and returned immediately;
// afterward it is written through the codec, spilling to the backlog
// on EWOULDBLOCK. See spec §4.B.
func (c *Connection) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	c.writeLock.Lock()
	if !c.connectFired {
		buf := make([]byte, len(data))
		copy(buf, data)
		c.preConnectQueue = append(c.preConnectQueue, buf)
		c.writeLock.Unlock()
		return
	}
	c.writeLock.Unlock()
	c.writeLocked(data)
}

// writeLocked runs the codec's wrap step; must be called with
// connectFired already true and without holding writeLock (the codec
// and the backlog machinery take it themselves).
func (c *Connection) writeLocked(data []byte) {
	if err := c.codec.wrapWrite(c, data); err != nil {
		c.handleError(err)
	}
}

// WriteQueue behaves like Write but never attempts an immediate flush
// to the kernel; bytes are appended to the backlog unconditionally,
// write-readiness is armed, and they are delivered on the next Flush or
// write-readiness event. A later Write does not drain them; its bytes
// are appended behind them in the backlog.
func (c *Connection) WriteQueue(data []byte) {
	if len(data) == 0 {
		return
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if !c.connectFired {
		buf := make([]byte, len(data))
		copy(buf, data)
		c.preConnectQueue = append(c.preConnectQueue, buf)
		return
	}
	c.appendBacklogLocked(data)
}

// writeWire is the physical sink codecs hand wire bytes to. It
// implements the write-backlog algorithm from spec §4.B: if the
// backlog is nonempty, the new bytes are appended unconditionally;
// otherwise the provider is tried directly and any remainder spills
// into the backlog.
func (c *Connection) writeWire(wire []byte) error {
	if len(wire) == 0 {
		return nil
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if !c.isWriteBacklogEmptyLocked() {
		c.appendBacklogLocked(wire)
		return nil
	}

	remaining := wire
	for len(remaining) > 0 {
		n, err := c.provider.Write(remaining)
		if err != nil {
			return err
		}
		c.touchIO()
		if n == 0 {
			c.appendBacklogLocked(remaining)
			return nil
		}
		remaining = remaining[n:]
	}
	return nil
}

func (c *Connection) appendBacklogLocked(chunk []byte) {
	wasEmpty := c.isWriteBacklogEmptyLocked()
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	c.writeBacklog = append(c.writeBacklog, buf)
	if wasEmpty {
		c.provider.WriteBacklogStarted()
	}
}

func (c *Connection) isWriteBacklogEmptyLocked() bool {
	return len(c.writeBacklog) == 0 && c.writeBufTempPos >= len(c.writeBufTemp)
}

func (c *Connection) isWriteBacklogEmpty() bool {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.isWriteBacklogEmptyLocked()
}

// Flush drains the backlog. Returns true iff everything was written.
func (c *Connection) Flush() bool {
	return c.FlushWriteBacklog()
}

// FlushWriteBacklog implements the backlog-drain half of spec §4.B:
// it drains any partially-written staged chunk first, then pops
// chunks one at a time, stopping at the first one that cannot be
// fully written. When the backlog empties, it disarms write-readiness,
// fires EventWritable, and completes a pending Close if one was
// requested.
func (c *Connection) FlushWriteBacklog() bool {
	drained, err := c.flushWriteBacklog0()
	if err != nil {
		c.handleError(err)
		return false
	}
	return drained
}

func (c *Connection) flushWriteBacklog0() (bool, error) {
	c.writeLock.Lock()

	if c.writeBufTempPos < len(c.writeBufTemp) {
		n, err := c.provider.Write(c.writeBufTemp[c.writeBufTempPos:])
		if err != nil {
			c.writeLock.Unlock()
			return false, err
		}
		c.writeBufTempPos += n
		if c.writeBufTempPos < len(c.writeBufTemp) {
			c.writeLock.Unlock()
			return false, nil
		}
	}

	for len(c.writeBacklog) > 0 {
		c.writeBufTemp = c.writeBacklog[0]
		c.writeBufTempPos = 0
		n, err := c.provider.Write(c.writeBufTemp)
		if err != nil {
			c.writeLock.Unlock()
			return false, err
		}
		c.writeBufTempPos = n
		if c.writeBufTempPos < len(c.writeBufTemp) {
			c.writeLock.Unlock()
			return false, nil
		}
		c.writeBacklog = c.writeBacklog[1:]
	}

	if !c.isWriteBacklogEmptyLocked() {
		c.writeLock.Unlock()
		return false, nil
	}

	c.provider.WriteBacklogEnded()
	pendingClose := c.pendingClose
	c.pendingClose = false
	c.writeLock.Unlock()

	if h := c.events.onWritable; h != nil && c.connectFired {
		c.submitEvent(func() { h(c) })
	}
	if pendingClose {
		c.destroy()
	}
	return true, nil
}

// Close requests a graceful close: if bytes are still pending, the
// close is deferred until the backlog drains; otherwise it destroys
// the connection immediately.
func (c *Connection) Close() {
	c.writeLock.Lock()
	if c.localClose {
		c.writeLock.Unlock()
		return
	}
	empty := c.isWriteBacklogEmptyLocked()
	if !empty {
		c.pendingClose = true
	}
	c.writeLock.Unlock()

	if empty {
		c.destroy()
	}
}

// Destroy immediately and idempotently tears down the connection:
// codec close-notify, provider close, then a single EventClose.
func (c *Connection) Destroy() { c.destroy() }

func (c *Connection) destroy() {
	c.writeLock.Lock()
	if c.localClose {
		c.writeLock.Unlock()
		return
	}
	c.localClose = true
	c.writeLock.Unlock()

	c.sel.Defer(c.finishDestroy)
}

func (c *Connection) finishDestroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true

	c.writeLock.Lock()
	if c.codec != nil {
		c.codec.closeNotify(c)
	}
	c.writeLock.Unlock()

	// Must run outside writeLock: awaitShutdown blocks until drive/
	// forward exit, and forward's last iterations may still call
	// c.writeWire, which itself takes writeLock.
	if w, ok := c.codec.(codecShutdownWaiter); ok {
		w.awaitShutdown()
		// Run what drive/forward queued while shutting down (e.g. a last
		// dispatchData) now, so it is dispatched before EventClose.
		c.sel.drainDeferred()
	}

	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	if c.key != nil {
		_ = c.key.Close()
	} else {
		_ = c.provider.Close()
	}

	for _, hook := range c.closeHooks {
		hook(c)
	}

	if h := c.events.onClose; h != nil {
		c.submitEvent(func() { h(c) })
	}
}

// handleError routes err through [ErrClassifier], dispatches
// EventError synchronously on the caller, and always finishes by
// destroying the connection (spec §7).
func (c *Connection) handleError(err error) {
	label := ""
	if c.cfg != nil && c.cfg.ErrClassifier != nil {
		label = c.cfg.ErrClassifier.Classify(err)
	}
	if h := c.events.onError; h != nil {
		c.cfg.Logger.Debug("connection error", "id", c.id, "err", err, "class", label)
		h(c, err)
	} else {
		c.cfg.Logger.Info("unhandled connection error", "id", c.id, "err", err, "class", label)
	}
	c.destroy()
}

// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"io"
	"net"
	"sync"
	"time"
)

// pipeHalf is one direction of an in-process duplex pipe: bytes (or,
// for the datagram variant, whole messages) written on one side appear
// on the other side's matching half. Unlike [io.Pipe], writes never
// block the writer — the buffer grows to hold whatever has not yet
// been read. This is what lets the selector's non-blocking I/O thread
// feed bytes into a blocking library connection's read side without
// stalling.
type pipeHalf interface {
	write(p []byte)
	read(p []byte) (int, error)
	tryRead(p []byte) (int, bool)
	close()
}

// streamPipeHalf buffers a continuous byte stream, used to bridge TLS
// over TCP: record boundaries are not datagram boundaries, so reads
// may return fewer bytes than any single write.
type streamPipeHalf struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newStreamPipeHalf() *streamPipeHalf {
	h := &streamPipeHalf{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *streamPipeHalf) write(p []byte) {
	if len(p) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.buf = append(h.buf, p...)
	h.cond.Broadcast()
}

func (h *streamPipeHalf) read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.buf) == 0 && !h.closed {
		h.cond.Wait()
	}
	if len(h.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, h.buf)
	h.buf = h.buf[n:]
	return n, nil
}

func (h *streamPipeHalf) tryRead(p []byte) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) == 0 {
		return 0, false
	}
	n := copy(p, h.buf)
	h.buf = h.buf[n:]
	return n, true
}

func (h *streamPipeHalf) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cond.Broadcast()
}

// datagramPipeHalf queues whole messages, preserving the one-packet-
// per-write/one-packet-per-read boundary pion/dtls relies on when
// bridged to a synthesized per-peer UDP "connection" (spec §4.H).
type datagramPipeHalf struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
}

func newDatagramPipeHalf() *datagramPipeHalf {
	h := &datagramPipeHalf{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *datagramPipeHalf) write(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	msg := make([]byte, len(p))
	copy(msg, p)
	h.queue = append(h.queue, msg)
	h.cond.Broadcast()
}

func (h *datagramPipeHalf) read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.queue) == 0 && !h.closed {
		h.cond.Wait()
	}
	if len(h.queue) == 0 {
		return 0, io.EOF
	}
	msg := h.queue[0]
	h.queue = h.queue[1:]
	return copy(p, msg), nil
}

func (h *datagramPipeHalf) tryRead(p []byte) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return 0, false
	}
	msg := h.queue[0]
	h.queue = h.queue[1:]
	return copy(p, msg), true
}

func (h *datagramPipeHalf) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cond.Broadcast()
}

// pipeAddr is a trivial [net.Addr] for the library-facing side of a
// [pipeConn]; the real address lives on the [Connection] and is
// reported through safeconn helpers at the log call site instead.
type pipeAddr struct{ s string }

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return a.s }

// pipeConn bridges a blocking TLS/DTLS library connection to this
// module's non-blocking wire side without a real socket: the record
// engine (crypto/tls or pion/dtls) reads and writes this [net.Conn]
// exactly as it would a real one, while the [Connection] pushes
// received wire bytes into the read half (never blocking the selector
// loop) and drains the write half from a dedicated forwarder goroutine
// into the normal write-backlog machinery.
type pipeConn struct {
	local, remote pipeHalf
	localAddr     net.Addr
	remoteAddr    net.Addr
}

func newPipePair(datagram bool, localAddr, remoteAddr net.Addr) (wireSide, libSide *pipeConn) {
	var ab, ba pipeHalf
	if datagram {
		ab, ba = newDatagramPipeHalf(), newDatagramPipeHalf()
	} else {
		ab, ba = newStreamPipeHalf(), newStreamPipeHalf()
	}
	wireSide = &pipeConn{local: ab, remote: ba, localAddr: localAddr, remoteAddr: remoteAddr}
	libSide = &pipeConn{local: ba, remote: ab, localAddr: remoteAddr, remoteAddr: localAddr}
	return wireSide, libSide
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.local.read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { c.remote.write(p); return len(p), nil }

// tryRead is used by the wire side only: the selector loop must never
// block, so it polls instead of calling Read.
func (c *pipeConn) tryRead(p []byte) (int, bool) { return c.local.tryRead(p) }

func (c *pipeConn) Close() error {
	c.local.close()
	c.remote.close()
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr  { return c.localAddr }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remoteAddr }

// Deadlines are intentionally unsupported: the library side runs on
// its own goroutine for the lifetime of the connection, and the
// module's own connect/idle timeouts already bound how long that
// goroutine may usefully run.
func (c *pipeConn) SetDeadline(time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }

var _ net.Conn = (*pipeConn)(nil)

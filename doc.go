// SPDX-License-Identifier: GPL-3.0-or-later

// Package netio provides event-driven, non-blocking TCP and UDP sockets
// with transparent TLS and DTLS, built around a single-threaded readiness
// loop rather than one goroutine per connection.
//
// # Core Abstraction
//
// A [Connection] is driven entirely by callbacks registered on its event
// table: connect, timeout, data, writable, close, and error. Connections
// never block the caller; [Connection.Write] either writes immediately,
// spills into an internal backlog, or (before the socket is connected)
// queues for later flush. There is no public Read — data arrives only
// through the data callback.
//
// # Selector Loop
//
// [Selector] owns one readiness loop (an epoll instance on Linux) and one
// goroutine. All socket reads, writes, and callback dispatch for the
// connections registered with a given selector happen on that goroutine.
// User code can safely mutate connection state from inside a callback
// without additional locking; calls made from other goroutines (such as
// [Connection.Close] from a timer) are queued with [Selector.Defer] and
// applied on the next loop iteration, so a locally-initiated close still
// dispatches its close event from the loop goroutine in order.
//
// # Plaintext, TLS, and DTLS
//
// [NewPlaintextConnection] returns a [Connection] that moves bytes
// between the application and the socket unchanged.
// [NewTLSClientConnection], [NewTLSServerConnection],
// [NewDTLSClientConnection], and [NewDTLSServerConnection] return a
// [Connection] wrapping the same base write-backlog machinery but
// interposing a record-layer engine (backed by [crypto/tls] for TLS and
// github.com/pion/dtls/v2 for DTLS) between the application and the
// wire; see tls.go, dtls.go, and pipeconn.go for how the blocking
// library connection is bridged to the non-blocking wire side.
//
// # Servers and Client Managers
//
// [TCPServer] and [UDPServer] accept or demultiplex incoming connections
// and dispatch them to a user-supplied handler. [TCPClientManager] and
// [UDPClientManager] create outbound connections, each manager sharing
// its own single selector across all of them.
//
// # Observability
//
// Lifecycle and I/O events are logged through [SLogger] (compatible with
// [log/slog]); by default, logging is disabled. Errors routed to a
// connection's error callback are passed through [ErrClassifier] first,
// producing a short, platform-independent label suitable for metrics and
// log aggregation. Use [NewConnID] to attach a stable, time-ordered
// identifier to every log line produced for one connection.
//
// # Design Boundaries
//
// This package intentionally does not load PEM-encoded keys or construct
// trust stores (build a [*tls.Config] yourself and pass it in), does not
// implement application framing, and does not implement congestion
// control or zero-copy I/O. It is not safe to call most [Connection],
// [TCPServer], or [UDPServer] methods concurrently from outside the
// owning selector's loop goroutine except where explicitly documented
// (e.g. [Connection.Close]).
package netio

// SPDX-License-Identifier: GPL-3.0-or-later

package netio

// EventKind identifies one slot in a [Connection]'s event table.
type EventKind int

const (
	// EventConnect fires once, after the transport connects (and, for an
	// encrypted connection, after the handshake completes).
	EventConnect EventKind = iota
	// EventTimeout fires once if connect does not complete within the
	// configured timeout.
	EventTimeout
	// EventData fires for each read that yields application bytes.
	EventData
	// EventWritable fires on each backlog-nonempty-to-empty transition
	// that occurs after EventConnect.
	EventWritable
	// EventClose fires exactly once, after destroy.
	EventClose
	// EventError fires on any I/O failure or handler panic; always
	// followed by Destroy and then EventClose.
	EventError
)

// ConnectHandler handles [EventConnect].
type ConnectHandler func(c *Connection)

// TimeoutHandler handles [EventTimeout].
type TimeoutHandler func(c *Connection)

// DataHandler handles [EventData]. data is only valid for the duration
// of the call; copy it if you need to retain it past the callback.
type DataHandler func(c *Connection, data []byte)

// WritableHandler handles [EventWritable].
type WritableHandler func(c *Connection)

// CloseHandler handles [EventClose].
type CloseHandler func(c *Connection)

// ErrorHandler handles [EventError]. Returning from this handler always
// triggers Destroy; the handler itself must not panic.
type ErrorHandler func(c *Connection, err error)

// eventTable holds one handler per event kind. A zero eventTable has no
// handlers registered, matching the event semantics described in the
// Connect/Timeout/... setters on [Connection].
type eventTable struct {
	onConnect  ConnectHandler
	onTimeout  TimeoutHandler
	onData     DataHandler
	onWritable WritableHandler
	onClose    CloseHandler
	onError    ErrorHandler
}

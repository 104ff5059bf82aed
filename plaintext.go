// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.socket.PlainConnection (original_source)
//

package netio

// plaintextReadBufSize is the read/write buffer size for unencrypted
// connections, per spec §4.C.
const plaintextReadBufSize = 8 * 1024

// plaintextCodec is the identity [codec]: wire bytes are application
// bytes verbatim.
type plaintextCodec struct{}

var _ codec = plaintextCodec{}

func (plaintextCodec) start(c *Connection) (bool, error) {
	return true, nil
}

func (plaintextCodec) onWireData(c *Connection, wire []byte) ([]byte, error) {
	return wire, nil
}

func (plaintextCodec) wrapWrite(c *Connection, app []byte) error {
	return c.writeWire(app)
}

func (plaintextCodec) closeNotify(c *Connection) {}

// NewPlaintextConnection wraps provider in a [Connection] that moves
// bytes between the application and the socket unchanged.
func NewPlaintextConnection(sel *Selector, provider ChannelProvider, remote Endpoint, cfg *Config) *Connection {
	c := newConnection(sel, provider, remote, cfg, plaintextReadBufSize)
	c.transport = TransportStream
	c.encrypted = EncryptionNone
	c.codec = plaintextCodec{}
	return c
}

// NewPlaintextDatagramConnection is like [NewPlaintextConnection] but
// marks the connection as datagram-transport, for UDP callers.
func NewPlaintextDatagramConnection(sel *Selector, provider ChannelProvider, remote Endpoint, cfg *Config) *Connection {
	c := NewPlaintextConnection(sel, provider, remote, cfg)
	c.transport = TransportDatagram
	return c
}

// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"crypto/tls"
	"net/netip"
	"time"
)

// ConnectParams is the immutable descriptor for an outbound plaintext
// connection.
type ConnectParams struct {
	// Remote is the address to connect to. Required.
	Remote Endpoint
	// LocalAddr optionally binds the outbound socket to a specific
	// local address before connecting.
	LocalAddr netip.Addr
}

// TLSConnectParams is the immutable descriptor for an outbound
// encrypted (TLS or DTLS) connection.
type TLSConnectParams struct {
	ConnectParams

	// ALPN is the preference-ordered list of application protocols
	// offered during the handshake. May be nil.
	ALPN []string
	// ServerNames is the preference-ordered list of SNI server names
	// presented to the peer. Go's [crypto/tls] and pion/dtls accept a
	// single server name; the first entry is used (for TLS, only when
	// TLSConfig.ServerName is empty) and the rest are retained for API
	// compatibility with multi-name callers.
	ServerNames []string
	// TLSConfig is the base configuration cloned for each connection.
	// Required.
	TLSConfig *tls.Config
	// MinTLSMinorVersion floors the negotiated protocol at TLS
	// 1.(MinTLSMinorVersion). Zero means "use TLSConfig.MinVersion
	// unchanged". TLS-family only, never SSL.
	MinTLSMinorVersion int
	// DisableWeakCiphers filters cipher suites whose names contain
	// "CBC", "ECDH_", "RENEGOTIATION", or begin with "TLS_RSA_WITH_AES_".
	DisableWeakCiphers bool
}

// ServerOptions configures a [TCPServer] or [UDPServer].
type ServerOptions struct {
	// BindAddrs lists local addresses to bind; a nil/empty entry means
	// "any". Defaults to a single wildcard address.
	BindAddrs []netip.Addr
	// Ports lists the TCP/UDP ports to listen on. Required, non-empty.
	Ports []uint16
	// ListenPath names a Unix-domain listener path. Unix-domain
	// listeners are not implemented: [TCPServer.Init] returns an error
	// when ListenPath is set, and [UDPServer] ignores it.
	ListenPath string
	// Backlog is the pending-connection queue length for stream
	// listeners; 0 selects a sane default.
	Backlog int
	// IdleTimeout is the connection idle timeout; 0 disables the sweep.
	IdleTimeout time.Duration
	// WorkerFactory returns a per-connection [Worker]; nil selects
	// [SyncWorker] for every connection.
	WorkerFactory func() Worker
	// Config carries ambient dependencies (logger, error classifier,
	// clock). Defaults to [NewConfig] when nil.
	Config *Config
	// ReceiveBufferSize bounds the size of one UDP datagram; ignored by
	// TCP servers. Defaults to 8192 when zero; the receive buffer is one
	// byte larger so that oversized datagrams can be detected.
	ReceiveBufferSize int
	// TLSParams enables TLS/DTLS when non-nil.
	TLSParams *TLSServerParams
}

// TLSServerParams configures the server side of an encrypted listener.
type TLSServerParams struct {
	// TLSConfig must carry server certificates. Required.
	TLSConfig *tls.Config
	// ALPN is the preference-ordered list of protocols this server
	// supports.
	ALPN []string
	MinTLSMinorVersion int
	DisableWeakCiphers bool
}

// ClientOptions configures a [TCPClientManager] or [UDPClientManager].
type ClientOptions struct {
	WorkerFactory func() Worker
	Config        *Config
}

// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.socket.DTLSConnection (original_source).
// github.com/pion/dtls/v2 performs its handshake synchronously inside
// Client/Server, unlike crypto/tls's deferred Handshake; tlsCodec.dial's
// signature accommodates both (see tls.go).
//

package netio

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pion/dtls/v2"
)

// buildDTLSConfig adapts the same [TLSConnectParams]/[TLSServerParams]
// surface used for TLS to [dtls.Config]. The minimum-version floor and
// weak-cipher filter from spec §4.D are TLS-specific (see DESIGN.md);
// DTLS honors ALPN and SNI only.
func buildDTLSConfig(base *tls.Config, alpn, serverNames []string) *dtls.Config {
	cfg := &dtls.Config{
		Certificates:       base.Certificates,
		InsecureSkipVerify: base.InsecureSkipVerify,
		RootCAs:            base.RootCAs,
		ClientCAs:          base.ClientCAs,
		SupportedProtocols: alpn,
	}
	if len(serverNames) > 0 {
		cfg.ServerName = serverNames[0]
	} else {
		cfg.ServerName = base.ServerName
	}
	return cfg
}

func dtlsConnState(conn net.Conn) (protocol, cipher, alpn string) {
	dc, ok := conn.(*dtls.Conn)
	if !ok {
		return "", "", ""
	}
	st := dc.ConnectionState()
	return "DTLS", st.CipherSuiteID.String(), st.NegotiatedProtocol
}

// NewDTLSClientConnection wraps provider in a [Connection] that
// performs a DTLS client handshake once the UDP association completes.
func NewDTLSClientConnection(sel *Selector, provider ChannelProvider, params TLSConnectParams, cfg *Config) *Connection {
	dtlsCfg := buildDTLSConfig(params.TLSConfig, params.ALPN, params.ServerNames)
	codec := &tlsCodec{
		dial: func(lib net.Conn) (net.Conn, error) {
			return dtls.ClientWithContext(context.Background(), lib, dtlsCfg)
		},
		stateFn: dtlsConnState,
	}
	c := newConnection(sel, provider, params.Remote, cfg, tlsWireBufSize)
	c.transport = TransportDatagram
	c.encrypted = EncryptionDTLS
	c.codec = codec
	return c
}

// NewDTLSServerConnection wraps provider in a [Connection] that
// performs a DTLS server handshake; used by [UDPServer] for each newly
// demultiplexed peer when encryption is enabled.
func NewDTLSServerConnection(sel *Selector, provider ChannelProvider, remote Endpoint, params *TLSServerParams, cfg *Config) *Connection {
	dtlsCfg := buildDTLSConfig(params.TLSConfig, params.ALPN, nil)
	codec := &tlsCodec{
		dial: func(lib net.Conn) (net.Conn, error) {
			return dtls.ServerWithContext(context.Background(), lib, dtlsCfg)
		},
		stateFn: dtlsConnState,
	}
	c := newConnection(sel, provider, remote, cfg, tlsWireBufSize)
	c.transport = TransportDatagram
	c.encrypted = EncryptionDTLS
	c.codec = codec
	return c
}

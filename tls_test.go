// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestTLSConfigs builds a matching self-signed server/client
// [tls.Config] pair for "127.0.0.1", suitable for a loopback handshake.
func generateTestTLSConfigs(t *testing.T) (server, client *tls.Config) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	server = &tls.Config{Certificates: []tls.Certificate{cert}}
	client = &tls.Config{RootCAs: pool}
	return server, client
}

func TestTLSHandshakeNegotiatesALPNAndReportsState(t *testing.T) {
	serverCfg, clientCfg := generateTestTLSConfigs(t)

	srv, addr := startTestTCPServer(t, ServerOptions{
		TLSParams: &TLSServerParams{
			TLSConfig: serverCfg,
			ALPN:      []string{"h2", "http/1.1"},
		},
	})
	var serverALPN string
	serverHandshakeDone := make(chan struct{})
	srv.OnNewConnection(func(c *Connection) {
		c.OnConnect(func(c *Connection) {
			serverALPN = c.ApplicationProtocol()
			close(serverHandshakeDone)
		})
		c.OnData(func(c *Connection, data []byte) { c.Write(data) })
	})

	mgr := startTestTCPClientManager(t)
	conn, err := mgr.ConnectTLS(TLSConnectParams{
		ConnectParams: ConnectParams{Remote: NewEndpoint(addr)},
		TLSConfig:     clientCfg,
		ALPN:          []string{"h2"},
		ServerNames:   []string{"127.0.0.1"},
	})
	require.NoError(t, err)

	clientConnected := make(chan struct{})
	conn.OnConnect(func(*Connection) { close(clientConnected) })
	conn.Connect(3 * time.Second)

	select {
	case <-clientConnected:
	case <-time.After(3 * time.Second):
		t.Fatal("client-side TLS handshake never completed")
	}
	select {
	case <-serverHandshakeDone:
	case <-time.After(3 * time.Second):
		t.Fatal("server-side TLS handshake never completed")
	}

	assert.Equal(t, "h2", conn.ApplicationProtocol())
	assert.Equal(t, "h2", serverALPN)
	assert.NotEmpty(t, conn.Protocol())
	assert.NotEmpty(t, conn.Cipher())
}

// TestTLSDataDispatchPrecedesClose exercises the fix that funnels the
// tlsCodec's drive-goroutine dispatches through the selector loop and
// blocks finishDestroy on their completion: a data event sent right
// before the peer closes must always be observed before EventClose.
func TestTLSDataDispatchPrecedesClose(t *testing.T) {
	serverCfg, clientCfg := generateTestTLSConfigs(t)

	srv, addr := startTestTCPServer(t, ServerOptions{
		TLSParams: &TLSServerParams{TLSConfig: serverCfg},
	})
	srv.OnNewConnection(func(c *Connection) {
		c.OnConnect(func(c *Connection) {
			c.Write([]byte("final"))
			c.Close()
		})
	})

	mgr := startTestTCPClientManager(t)
	conn, err := mgr.ConnectTLS(TLSConnectParams{
		ConnectParams: ConnectParams{Remote: NewEndpoint(addr)},
		TLSConfig:     clientCfg,
		ServerNames:   []string{"127.0.0.1"},
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	conn.OnData(func(_ *Connection, data []byte) {
		mu.Lock()
		order = append(order, "data:"+string(data))
		mu.Unlock()
	})
	conn.OnClose(func(*Connection) {
		mu.Lock()
		order = append(order, "close")
		mu.Unlock()
		close(done)
	})
	conn.Connect(3 * time.Second)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("close never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"data:final", "close"}, order)
}

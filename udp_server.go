// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.server.NioDatagramServer /
// org.omegazero.net.server.DatagramServer (original_source)
//

package netio

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/omegazero-go/netio/errclass"
)

// udpDefaultReceiveBufferSize is the datagram payload size assumed when
// [ServerOptions.ReceiveBufferSize] is zero.
const udpDefaultReceiveBufferSize = 8 * 1024

// udpSocket is one bound datagram socket shared by every peer
// demultiplexed from it; a [*UDPServer] owns one per bind address × port.
type udpSocket struct {
	fd      int
	key     *selectorKey
	srv     *UDPServer
	recvBuf []byte

	backlogMu  sync.Mutex
	backlogged map[*Connection]struct{}
}

// addBacklogged records peer as having queued write data on this
// socket, creating the set on first use.
func (u *udpSocket) addBacklogged(peer *Connection) {
	u.backlogMu.Lock()
	if u.backlogged == nil {
		u.backlogged = make(map[*Connection]struct{})
	}
	u.backlogged[peer] = struct{}{}
	u.backlogMu.Unlock()
}

// removeBacklogged drops peer from the backlogged set and reports
// whether the set is now empty.
func (u *udpSocket) removeBacklogged(peer *Connection) bool {
	u.backlogMu.Lock()
	delete(u.backlogged, peer)
	empty := len(u.backlogged) == 0
	u.backlogMu.Unlock()
	return empty
}

func (u *udpSocket) onReadable() {
	for {
		n, remote, err := recvfromFD(u.fd, u.recvBuf)
		if err != nil {
			if errclass.IsWouldBlock(err) {
				return
			}
			u.srv.cfg.Logger.Debug("udp recvfrom failed", "err", err)
			return
		}
		if n > len(u.recvBuf)-1 {
			// Filled the truncation-detection margin: spec §4.H treats
			// this datagram as dropped (logged at debug level) rather
			// than delivered partially.
			u.srv.cfg.Logger.Debug("udp datagram truncated, dropping", "remote", remote)
			continue
		}
		u.srv.dispatch(u, remote, u.recvBuf[:n])
	}
}

// onWritable drains every peer currently backlogged on this shared
// socket. The backlogged set is snapshotted up front since draining a
// peer synchronously calls back into [UDPServer.peerBacklogEnded],
// which mutates the same set (spec §4.H).
func (u *udpSocket) onWritable() {
	u.backlogMu.Lock()
	peers := make([]*Connection, 0, len(u.backlogged))
	for peer := range u.backlogged {
		peers = append(peers, peer)
	}
	u.backlogMu.Unlock()

	for _, peer := range peers {
		peer.FlushWriteBacklog()
	}
}

// UDPServer demultiplexes inbound datagrams on one or more bound,
// unconnected UDP sockets into per-remote-address synthesized
// [*Connection] values, optionally DTLS-encrypted. See spec §4.H.
type UDPServer struct {
	sel  *Selector
	cfg  *Config
	opts ServerOptions

	mu        sync.Mutex
	sockets   []*udpSocket
	peers     map[netip.AddrPort]*Connection
	lastSweep time.Time

	onNewConnection NewConnectionHandler
}

var _ udpBacklogArmer = (*UDPServer)(nil)

// NewUDPServer creates a [*UDPServer] bound to opts.BindAddrs × opts.Ports.
// Call [UDPServer.Init] to start listening and [UDPServer.Run] to drive it.
func NewUDPServer(opts ServerOptions) (*UDPServer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = NewConfig()
	}
	sel, err := NewSelector(cfg.Logger)
	if err != nil {
		return nil, err
	}
	s := &UDPServer{
		sel:   sel,
		cfg:   cfg,
		opts:  opts,
		peers: make(map[netip.AddrPort]*Connection),
	}
	sel.SetIterationHook(s.sweepIdle)
	return s, nil
}

// OnNewConnection registers the handler invoked for every newly
// demultiplexed peer before its EventConnect fires (for DTLS peers,
// before the handshake even begins).
func (s *UDPServer) OnNewConnection(h NewConnectionHandler) { s.onNewConnection = h }

// Init opens one bound datagram socket per bind address × port.
func (s *UDPServer) Init() error {
	if len(s.opts.Ports) == 0 {
		return fmt.Errorf("netio: UDPServer requires at least one port")
	}
	binds := s.opts.BindAddrs
	if len(binds) == 0 {
		binds = []netip.Addr{netip.IPv4Unspecified()}
	}
	bufSize := s.opts.ReceiveBufferSize
	if bufSize <= 0 {
		bufSize = udpDefaultReceiveBufferSize
	}
	for _, addr := range binds {
		if !addr.IsValid() {
			addr = netip.IPv4Unspecified()
		}
		for _, port := range s.opts.Ports {
			if err := s.listen(addr, port, bufSize); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *UDPServer) listen(addr netip.Addr, port uint16, bufSize int) error {
	fd, err := newSocket(addr, socketKindDatagram)
	if err != nil {
		return err
	}
	if err := bindFD(fd, netip.AddrPortFrom(addr, port)); err != nil {
		closeFD(fd)
		return err
	}
	u := &udpSocket{fd: fd, srv: s, recvBuf: make([]byte, bufSize+1)}
	key, err := s.sel.Register(fd, pollIn, u)
	if err != nil {
		closeFD(fd)
		return err
	}
	u.key = key
	s.mu.Lock()
	s.sockets = append(s.sockets, u)
	s.mu.Unlock()
	return nil
}

// dispatch routes one received datagram to its peer connection,
// creating one (and, for DTLS, starting its handshake) on first sight
// of a remote address.
func (s *UDPServer) dispatch(sock *udpSocket, remote netip.AddrPort, data []byte) {
	s.mu.Lock()
	peer, ok := s.peers[remote]
	s.mu.Unlock()

	if ok {
		if pp, ok := peer.provider.(*udpServerPeerProvider); ok {
			pp.pushDatagram(data)
		}
		peer.onReadable()
		return
	}

	provider := newUDPServerPeerProvider(sock.fd, remote, s)
	remoteEP := NewEndpoint(remote)

	var conn *Connection
	if s.opts.TLSParams != nil {
		conn = NewDTLSServerConnection(s.sel, provider, remoteEP, s.opts.TLSParams, s.cfg)
	} else {
		conn = NewPlaintextDatagramConnection(s.sel, provider, remoteEP, s.cfg)
	}
	provider.self = conn
	conn.local = NewEndpoint(localAddrOf(sock.fd))
	if s.opts.WorkerFactory != nil {
		conn.SetWorker(s.opts.WorkerFactory())
	}
	conn.addCloseHook(s.removePeer(remote))

	s.mu.Lock()
	s.peers[remote] = conn
	s.mu.Unlock()

	if s.onNewConnection != nil {
		s.onNewConnection(conn)
	}

	provider.pushDatagram(data)
	conn.acceptConnected()
	// acceptConnected only starts the codec (immediately firing
	// EventConnect for plaintext, or starting the handshake goroutines
	// for DTLS); either way the very first datagram is still sitting in
	// the peer's backlog; there is no separate readiness edge for it
	// since it arrived before this connection (and its selector-facing
	// wrapper) existed, so pull it through the normal read path once.
	conn.onReadable()
}

func (s *UDPServer) removePeer(remote netip.AddrPort) func(*Connection) {
	return func(*Connection) {
		s.mu.Lock()
		delete(s.peers, remote)
		s.mu.Unlock()
	}
}

// socketFor returns the udpSocket a peer's shared fd belongs to.
func (s *UDPServer) socketFor(peer *Connection) *udpSocket {
	pp, ok := peer.provider.(*udpServerPeerProvider)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sock := range s.sockets {
		if sock.fd == pp.fd {
			return sock
		}
	}
	return nil
}

// peerBacklogStarted implements [udpBacklogArmer]: a peer with data
// queued is added to its shared socket's backlogged-peer list, arming
// write-readiness on the shared key.
func (s *UDPServer) peerBacklogStarted(peer *Connection) {
	sock := s.socketFor(peer)
	if sock == nil {
		return
	}
	sock.addBacklogged(peer)
	sock.key.EnableWrite()
}

// peerBacklogEnded implements [udpBacklogArmer]. The shared socket's
// write-readiness is disarmed only once its backlogged-peer list is
// empty, since the key is shared across every peer on that socket.
func (s *UDPServer) peerBacklogEnded(peer *Connection) {
	sock := s.socketFor(peer)
	if sock == nil {
		return
	}
	if sock.removeBacklogged(peer) {
		sock.key.DisableWrite()
	}
}

// sweepIdle mirrors [TCPServer.sweepIdle]: closing candidates are
// collected into an intermediate slice before any Close call, so a
// close hook mutating the peer map mid-sweep cannot invalidate the
// sweep's own iteration (spec §4.H).
func (s *UDPServer) sweepIdle() {
	s.mu.Lock()
	timeout := s.opts.IdleTimeout
	if timeout <= 0 {
		s.mu.Unlock()
		return
	}
	now := s.cfg.TimeNow()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < idleSweepInterval {
		s.mu.Unlock()
		return
	}
	s.lastSweep = now
	candidates := make([]*Connection, 0, len(s.peers))
	for _, c := range s.peers {
		candidates = append(candidates, c)
	}
	s.mu.Unlock()

	for _, c := range candidates {
		idle := now.Sub(c.LastIOTime())
		if idle < 0 || idle >= timeout {
			c.Close()
		}
	}
}

// Run starts the server's readiness loop; it blocks until
// [UDPServer.Close] is called or the selector's rebuild policy is
// exhausted.
func (s *UDPServer) Run() error { return s.sel.Run() }

// Close stops the loop and closes every socket and live peer connection.
func (s *UDPServer) Close() error { return s.sel.Close() }

// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.server.NioTCPServer /
// org.omegazero.net.server.TCPServer (original_source)
//

package netio

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/omegazero-go/netio/errclass"
)

// NewConnectionHandler is invoked once per accepted or demultiplexed
// connection, before its EventConnect can fire, so the application can
// register event handlers on it.
type NewConnectionHandler func(c *Connection)

// tcpListener is one bound, listening stream socket; a [TCPServer]
// owns one per bind-address × port.
type tcpListener struct {
	fd  int
	key *selectorKey
	srv *TCPServer
}

func (l *tcpListener) onReadable() {
	for {
		nfd, remote, err := acceptFD(l.fd)
		if err != nil {
			if errclass.IsWouldBlock(err) {
				return
			}
			l.srv.cfg.Logger.Debug("tcp accept failed", "err", err)
			return
		}
		l.srv.handleAccept(nfd, remote)
	}
}

func (l *tcpListener) onWritable() {}

// TCPServer accepts stream connections on one or more bound local
// endpoints, optionally TLS-encrypted, and sweeps idle connections
// closed on a periodic schedule run from the selector's own loop
// iteration (spec §4.G, §9).
type TCPServer struct {
	sel  *Selector
	cfg  *Config
	opts ServerOptions

	mu        sync.Mutex
	listeners []*tcpListener
	conns     map[*Connection]struct{}
	lastSweep time.Time

	onNewConnection NewConnectionHandler
}

// NewTCPServer creates a [*TCPServer] bound to opts.BindAddrs ×
// opts.Ports. Call [TCPServer.Init] to start listening and
// [TCPServer.Run] to drive it.
func NewTCPServer(opts ServerOptions) (*TCPServer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = NewConfig()
	}
	sel, err := NewSelector(cfg.Logger)
	if err != nil {
		return nil, err
	}
	s := &TCPServer{
		sel:   sel,
		cfg:   cfg,
		opts:  opts,
		conns: make(map[*Connection]struct{}),
	}
	sel.SetIterationHook(s.sweepIdle)
	return s, nil
}

// OnNewConnection registers the handler invoked for every accepted
// connection before its EventConnect fires.
func (s *TCPServer) OnNewConnection(h NewConnectionHandler) { s.onNewConnection = h }

// SetIdleTimeout updates the idle timeout live; it takes effect on the
// next sweep (supplemented from original_source's non-nio TCPServer).
func (s *TCPServer) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	s.opts.IdleTimeout = d
	s.mu.Unlock()
}

// GetIdleTimeout returns the currently configured idle timeout.
func (s *TCPServer) GetIdleTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.IdleTimeout
}

// Init opens one listening socket per bind address × port and arms
// accept-readiness on each. It returns an error if opts.ListenPath is
// set: Unix-domain listeners are not supported.
func (s *TCPServer) Init() error {
	if s.opts.ListenPath != "" {
		return fmt.Errorf("netio: unix-domain listeners not yet supported by TCPServer.Init")
	}
	if len(s.opts.Ports) == 0 {
		return fmt.Errorf("netio: TCPServer requires at least one port")
	}
	binds := s.opts.BindAddrs
	if len(binds) == 0 {
		binds = []netip.Addr{netip.IPv4Unspecified()}
	}
	for _, addr := range binds {
		if !addr.IsValid() {
			addr = netip.IPv4Unspecified()
		}
		for _, port := range s.opts.Ports {
			if err := s.listen(addr, port); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *TCPServer) listen(addr netip.Addr, port uint16) error {
	fd, err := newSocket(addr, socketKindStream)
	if err != nil {
		return err
	}
	if err := bindFD(fd, netip.AddrPortFrom(addr, port)); err != nil {
		closeFD(fd)
		return err
	}
	if err := listenFD(fd, s.opts.Backlog); err != nil {
		closeFD(fd)
		return err
	}
	l := &tcpListener{fd: fd, srv: s}
	key, err := s.sel.Register(fd, pollIn, l)
	if err != nil {
		closeFD(fd)
		return err
	}
	l.key = key
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
	return nil
}

func (s *TCPServer) handleAccept(fd int, remote netip.AddrPort) {
	provider := newTCPProvider(fd)
	remoteEP := NewEndpoint(remote)

	var conn *Connection
	if s.opts.TLSParams != nil {
		conn = NewTLSServerConnection(s.sel, provider, remoteEP, s.opts.TLSParams, s.cfg)
	} else {
		conn = NewPlaintextConnection(s.sel, provider, remoteEP, s.cfg)
	}

	key, err := s.sel.Register(fd, pollIn, conn)
	if err != nil {
		s.cfg.Logger.Debug("tcp register accepted socket failed", "err", err)
		closeFD(fd)
		return
	}
	provider.setKey(key)
	conn.key = key
	conn.local = NewEndpoint(localAddrOf(fd))
	if s.opts.WorkerFactory != nil {
		conn.SetWorker(s.opts.WorkerFactory())
	}

	conn.addCloseHook(s.removeConn)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	if s.onNewConnection != nil {
		s.onNewConnection(conn)
	}
	conn.acceptConnected()
}

func (s *TCPServer) removeConn(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// sweepIdle runs from the selector's loop-iteration hook; it checks
// at most once every 5 seconds (spec §4.G) whether any live connection
// has had no I/O for longer than the configured idle timeout, and
// closes it gracefully. A backward clock jump is treated as expiry,
// per spec §5.
func (s *TCPServer) sweepIdle() {
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
	candidates := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
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

// Run starts the server's readiness loop; it blocks until [TCPServer.Close]
// is called or the selector's rebuild policy is exhausted.
func (s *TCPServer) Run() error { return s.sel.Run() }

// Close stops the loop and closes every listener and live connection.
func (s *TCPServer) Close() error { return s.sel.Close() }

// idleSweepInterval is the minimum spacing between idle sweeps, per
// spec §4.G ("every 5 s").
const idleSweepInterval = 5 * time.Second

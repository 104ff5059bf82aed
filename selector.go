// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.nio.util.SelectorHandler (original_source)
//

package netio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// selectorRebuildThreshold is the number of consecutive zero-event
	// Wait returns before the selector is rebuilt.
	selectorRebuildThreshold = 1024
	// selectorRebuildsMax is the number of consecutive rebuilds
	// tolerated before the loop gives up.
	selectorRebuildsMax = 8
	// registerPendingWait bounds how long the loop busy-waits for a
	// concurrent Register call to finish before re-entering Wait.
	registerPendingWait = 2 * time.Second
)

// ErrSelectorFailed is returned by [Selector.Run] when the rebuild
// policy is exhausted.
var ErrSelectorFailed = errors.New("netio: selector exceeded maximum consecutive rebuilds")

// pollEvent reports one ready file descriptor and the readiness bits
// that fired.
type pollEvent struct {
	fd     int
	events uint32
}

// Poll event bits, deliberately small and platform-independent; the
// concrete [pollEngine] translates to/from the OS representation.
const (
	pollIn  uint32 = 1 << 0
	pollOut uint32 = 1 << 1
)

// pollEngine abstracts the OS readiness primitive (epoll on Linux).
// Abstracting it behind an interface lets the rebuild policy and the
// loop itself be exercised in tests without real file descriptors.
type pollEngine interface {
	Add(fd int, events uint32) error
	Modify(fd int, events uint32) error
	Remove(fd int) error
	Wait(timeoutMillis int) ([]pollEvent, error)
	Wake() error
	Close() error
}

// ioHandler is implemented by anything registered with a [Selector]:
// connections, TCP listeners, and UDP server sockets.
type ioHandler interface {
	onReadable()
	onWritable()
}

// selectorKey ties one file descriptor to its current interest set and
// attachment on a specific [Selector].
type selectorKey struct {
	mu      sync.Mutex
	sel     *Selector
	fd      int
	events  uint32
	handler ioHandler
	closed  bool
}

// EnableRead arms read-readiness, waking the selector only if the
// interest set actually changes.
func (k *selectorKey) EnableRead() { k.setInterest(pollIn, true) }

// DisableRead disarms read-readiness.
func (k *selectorKey) DisableRead() { k.setInterest(pollIn, false) }

// EnableWrite arms write-readiness.
func (k *selectorKey) EnableWrite() { k.setInterest(pollOut, true) }

// DisableWrite disarms write-readiness.
func (k *selectorKey) DisableWrite() { k.setInterest(pollOut, false) }

func (k *selectorKey) setInterest(bit uint32, on bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	next := k.events
	if on {
		next |= bit
	} else {
		next &^= bit
	}
	if next == k.events {
		return
	}
	k.events = next
	if err := k.sel.engine().Modify(k.fd, next); err != nil {
		k.sel.logger().Debug("selector key modify failed", "fd", k.fd, "err", err)
	}
	k.sel.Wakeup()
}

// Close removes the key from its selector and closes the descriptor.
// Safe to call more than once.
func (k *selectorKey) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	k.sel.forget(k.fd)
	_ = k.sel.engine().Remove(k.fd)
	return closeFD(k.fd)
}

// Selector owns one readiness loop and the file descriptors registered
// with it. All I/O for those descriptors happens on the goroutine
// running [Selector.Run].
type Selector struct {
	mu       sync.Mutex
	eng      pollEngine
	keys     map[int]*selectorKey
	log      SLogger
	running  bool
	spins    int
	rebuilds int

	deferMu sync.Mutex
	pending []func()

	registerPending bool
	registerMu      sync.Mutex
	registerCond    *sync.Cond

	iterHookMu sync.Mutex
	iterHook   func()
}

// SetIterationHook installs fn to run at the top of every loop
// iteration, even on a zero-key wakeup — the hook described in spec
// §4.E. [TCPServer] and [UDPServer] use this to run their idle-timeout
// sweep on the I/O thread instead of a second goroutine (spec §9).
func (s *Selector) SetIterationHook(fn func()) {
	s.iterHookMu.Lock()
	s.iterHook = fn
	s.iterHookMu.Unlock()
}

// NewSelector creates a [*Selector] backed by the platform's readiness
// primitive.
func NewSelector(log SLogger) (*Selector, error) {
	if log == nil {
		log = DefaultSLogger()
	}
	eng, err := newPollEngine()
	if err != nil {
		return nil, fmt.Errorf("netio: create selector: %w", err)
	}
	s := &Selector{
		eng:  eng,
		keys: make(map[int]*selectorKey),
		log:  log,
	}
	s.registerCond = sync.NewCond(&s.registerMu)
	return s, nil
}

func (s *Selector) engine() pollEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng
}

func (s *Selector) logger() SLogger { return s.log }

func (s *Selector) forget(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, fd)
}

// Register adds fd to the selector with the given initial interest and
// handler, and returns the [*selectorKey] used to change interest or
// close the descriptor later.
//
// Register may be called from any goroutine, following the protocol
// described in spec §4.E: it marks register-pending, wakes the loop,
// performs the registration, then clears register-pending. The loop
// busy-waits (bounded) for register-pending to clear before re-entering
// Wait, so it never blocks on select while holding a lock this call
// needs.
func (s *Selector) Register(fd int, events uint32, handler ioHandler) (*selectorKey, error) {
	s.registerMu.Lock()
	s.registerPending = true
	s.registerMu.Unlock()
	s.Wakeup()

	s.mu.Lock()
	key := &selectorKey{sel: s, fd: fd, events: events, handler: handler}
	err := s.eng.Add(fd, events)
	if err == nil {
		s.keys[fd] = key
	}
	s.mu.Unlock()

	s.registerMu.Lock()
	s.registerPending = false
	s.registerCond.Broadcast()
	s.registerMu.Unlock()

	if err != nil {
		return nil, err
	}
	return key, nil
}

// Defer queues fn to run on the loop goroutine at the top of the next
// iteration, and wakes the loop. Use this for any state mutation that
// must be serialized with readiness handling (connect-timeout firings,
// locally-initiated closes). This generalizes the pack's separate
// connection-aware selector into the loop every registration already
// shares: a locally-initiated [Connection.Close] enqueues its
// finishing step here instead of running inline on the caller's
// goroutine, so close dispatch stays ordered with readiness events.
func (s *Selector) Defer(fn func()) {
	s.deferMu.Lock()
	s.pending = append(s.pending, fn)
	s.deferMu.Unlock()
	s.Wakeup()
}

func (s *Selector) drainDeferred() {
	s.deferMu.Lock()
	batch := s.pending
	s.pending = nil
	s.deferMu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

// Wakeup forces a blocked Wait to return immediately.
func (s *Selector) Wakeup() {
	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()
	if eng != nil {
		_ = eng.Wake()
	}
}

// Run executes the readiness loop until Close is called or the rebuild
// policy is exhausted. It returns [ErrSelectorFailed] in the latter
// case.
func (s *Selector) Run() error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	for {
		s.drainDeferred()

		s.iterHookMu.Lock()
		hook := s.iterHook
		s.iterHookMu.Unlock()
		if hook != nil {
			hook()
		}

		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return nil
		}

		events, err := s.engine().Wait(1000)
		if err != nil {
			s.log.Debug("selector wait error", "err", err)
			continue
		}

		if len(events) > 0 {
			for _, ev := range events {
				s.handleEvent(ev)
			}
			s.mu.Lock()
			s.spins = 0
			s.rebuilds = 0
			s.mu.Unlock()
		} else {
			s.mu.Lock()
			s.spins++
			spins := s.spins
			s.mu.Unlock()
			if spins >= selectorRebuildThreshold {
				if err := s.rebuild(); err != nil {
					return err
				}
			}
		}

		s.waitRegisterPending()
	}
}

func (s *Selector) waitRegisterPending() {
	deadline := time.Now().Add(registerPendingWait)
	s.registerMu.Lock()
	for s.registerPending && time.Now().Before(deadline) {
		s.registerCond.Wait()
	}
	s.registerMu.Unlock()
}

func (s *Selector) handleEvent(ev pollEvent) {
	s.mu.Lock()
	key := s.keys[ev.fd]
	s.mu.Unlock()
	if key == nil {
		return
	}
	key.mu.Lock()
	closed := key.closed
	handler := key.handler
	key.mu.Unlock()
	if closed || handler == nil {
		return
	}
	if ev.events&pollIn != 0 {
		handler.onReadable()
	}
	if ev.events&pollOut != 0 {
		handler.onWritable()
	}
}

func (s *Selector) rebuild() error {
	s.mu.Lock()
	s.rebuilds++
	rebuilds := s.rebuilds
	destroy := rebuilds == selectorRebuildsMax
	s.mu.Unlock()

	if rebuilds > selectorRebuildsMax {
		return ErrSelectorFailed
	}
	s.log.Debug("rebuilding selector", "attempt", rebuilds, "destroy", destroy)

	newEng, err := newPollEngine()
	if err != nil {
		return fmt.Errorf("netio: rebuild selector: %w", err)
	}

	s.mu.Lock()
	oldEng := s.eng
	keys := make([]*selectorKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	if destroy {
		s.keys = make(map[int]*selectorKey)
	}
	s.eng = newEng
	s.spins = 0
	s.mu.Unlock()

	for _, k := range keys {
		k.mu.Lock()
		fd, events, closed, handler := k.fd, k.events, k.closed, k.handler
		k.mu.Unlock()
		if closed {
			continue
		}
		if destroy {
			// spec §4.E: on the final rebuild attempt, affected channels
			// are destroyed rather than re-registered. A *Connection must
			// go through its own destroy path so EventClose still fires
			// exactly once and its close hooks run; anything else
			// registered with the selector (listeners, shared UDP
			// sockets) has no close-event lifecycle of its own, so a
			// bare fd close is enough.
			if conn, ok := handler.(*Connection); ok {
				conn.destroy()
			} else {
				_ = closeFD(fd)
			}
			continue
		}
		if err := newEng.Add(fd, events); err != nil {
			s.log.Debug("selector rebuild: re-register failed", "fd", fd, "err", err)
		}
	}
	_ = oldEng.Close()
	return nil
}

// Close stops the loop and closes every registered descriptor.
// Idempotent.
func (s *Selector) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	keys := make([]*selectorKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	eng := s.eng
	s.mu.Unlock()

	for _, k := range keys {
		_ = k.Close()
	}
	s.Wakeup()
	return eng.Close()
}

//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// epollEngine implements [pollEngine] on top of Linux epoll, with an
// eventfd used purely to force Wait to return (the Wake method).
type epollEngine struct {
	epfd     int
	wakeFD   int
	eventBuf []unix.EpollEvent
}

func newPollEngine() (pollEngine, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	e := &epollEngine{epfd: epfd, wakeFD: wakeFD, eventBuf: make([]unix.EpollEvent, 128)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl(wakefd): %w", err)
	}
	return e, nil
}

func toEpollEvents(events uint32) uint32 {
	var e uint32
	if events&pollIn != 0 {
		e |= unix.EPOLLIN
	}
	if events&pollOut != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(events uint32) uint32 {
	var e uint32
	if events&unix.EPOLLIN != 0 {
		e |= pollIn
	}
	if events&unix.EPOLLOUT != 0 {
		e |= pollOut
	}
	return e
}

func (e *epollEngine) Add(fd int, events uint32) error {
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)})
}

func (e *epollEngine) Modify(fd int, events uint32) error {
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)})
}

func (e *epollEngine) Remove(fd int) error {
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (e *epollEngine) Wait(timeoutMillis int) ([]pollEvent, error) {
	n, err := unix.EpollWait(e.epfd, e.eventBuf, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := e.eventBuf[i]
		if int(ev.Fd) == e.wakeFD {
			e.drainWake()
			continue
		}
		out = append(out, pollEvent{fd: int(ev.Fd), events: fromEpollEvents(ev.Events)})
	}
	return out, nil
}

func (e *epollEngine) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(e.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

func (e *epollEngine) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.wakeFD, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (e *epollEngine) Close() error {
	unix.Close(e.wakeFD)
	return unix.Close(e.epfd)
}

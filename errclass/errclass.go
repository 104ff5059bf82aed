//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/errclass.go
//

// Package errclass classifies raw socket and library errors into short,
// platform-independent labels.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
)

// Labels returned by [New]. These intentionally mirror common errno names
// rather than Go error strings, so logs stay stable across platforms.
const (
	EADDRNOTAVAIL   = "EADDRNOTAVAIL"
	EADDRINUSE      = "EADDRINUSE"
	ECONNABORTED    = "ECONNABORTED"
	ECONNREFUSED    = "ECONNREFUSED"
	ECONNRESET      = "ECONNRESET"
	EHOSTUNREACH    = "EHOSTUNREACH"
	EINVAL          = "EINVAL"
	EINTR           = "EINTR"
	ENETDOWN        = "ENETDOWN"
	ENETUNREACH     = "ENETUNREACH"
	ENOBUFS         = "ENOBUFS"
	ENOTCONN        = "ENOTCONN"
	EPROTONOSUPPORT = "EPROTONOSUPPORT"
	ETIMEDOUT       = "ETIMEDOUT"
	EWOULDBLOCK     = "EWOULDBLOCK"
	EOF             = "EOF"
	ECANCELED       = "ECANCELED"
	EGENERIC        = "EGENERIC"
)

// New classifies err into one of the labels above. It returns the empty
// string for a nil error.
func New(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, io.EOF) {
		return EOF
	}
	if errors.Is(err, context.Canceled) {
		return ECANCELED
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ETIMEDOUT
	}
	if errors.Is(err, net.ErrClosed) {
		return ECONNABORTED
	}
	if IsWouldBlock(err) {
		return EWOULDBLOCK
	}
	if label := classifyErrno(err); label != "" {
		return label
	}
	return EGENERIC
}

// IsWouldBlock reports whether err represents a transient "try again"
// condition on a non-blocking file descriptor (EAGAIN/EWOULDBLOCK).
func IsWouldBlock(err error) bool {
	return isErrno(err, errWouldBlock) || isErrno(err, errAgain)
}

// IsConnReset reports whether err indicates the peer forcibly tore down
// the connection (RST, aborted, or broken pipe), for which callers should
// treat the connection as closed rather than as a retryable error.
func IsConnReset(err error) bool {
	return isErrno(err, errConnReset) || isErrno(err, errConnAborted) || isErrno(err, errBrokenPipe)
}

func isErrno(err error, target error) bool {
	return errors.Is(err, target)
}

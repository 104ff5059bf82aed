// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"fmt"
	"net/netip"
)

// Endpoint is a network address and port, or (for Unix-domain listeners)
// a filesystem path. Exactly one of the two forms is populated.
type Endpoint struct {
	addr netip.AddrPort
	path string
}

// NewEndpoint returns an [Endpoint] backed by an IP address and port.
func NewEndpoint(addr netip.AddrPort) Endpoint {
	return Endpoint{addr: addr}
}

// NewUnixEndpoint returns an [Endpoint] backed by a filesystem path,
// for Unix-domain listeners.
func NewUnixEndpoint(path string) Endpoint {
	return Endpoint{path: path}
}

// IsUnix reports whether this endpoint names a filesystem path rather
// than an IP address.
func (e Endpoint) IsUnix() bool {
	return e.path != ""
}

// AddrPort returns the IP address and port. Only meaningful when
// !IsUnix().
func (e Endpoint) AddrPort() netip.AddrPort {
	return e.addr
}

// Path returns the filesystem path. Only meaningful when IsUnix().
func (e Endpoint) Path() string {
	return e.path
}

// String implements [fmt.Stringer].
func (e Endpoint) String() string {
	if e.IsUnix() {
		return "unix:" + e.path
	}
	return e.addr.String()
}

var _ fmt.Stringer = Endpoint{}

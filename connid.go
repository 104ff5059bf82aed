// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewConnID returns a UUIDv7 uniquely identifying one connection.
//
// The ID is time-ordered, so sorting connection IDs also sorts by creation
// time. Attach it to [SLogger] calls to correlate the connect, data, and
// close events of a single connection across log lines.
//
// This function panics if the system random number generator fails, which
// should only happen under extraordinary circumstances.
func NewConnID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

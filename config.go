// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import "time"

// Config holds common configuration shared by servers and client managers.
//
// Pass this to constructor functions to pre-wire dependencies. All fields
// have sensible defaults set by [NewConfig].
type Config struct {
	// Logger receives structured lifecycle and I/O events.
	//
	// Set by [NewConfig] to [DefaultSLogger].
	Logger SLogger

	// ErrClassifier classifies errors routed to the error event.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time, used for idle-timeout bookkeeping
	// (a connection's last-I/O time and the servers' idle sweeps). The
	// connect timeout is a [time.AfterFunc] timer and does not use it.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// ConnectTimeout is the suggested default passed to [Connection.Connect]
	// by callers that don't need a per-call override; [TCPClientManager]
	// and [UDPClientManager] don't apply it themselves; a manager only
	// constructs the connection, the caller decides its connect timeout.
	//
	// Set by [NewConfig] to 30 seconds.
	ConnectTimeout time.Duration

	// IdleTimeout is a suggested idle timeout. [TCPServer] and
	// [UDPServer] do not read it; their idle sweeps use
	// [ServerOptions.IdleTimeout].
	//
	// Set by [NewConfig] to 60 seconds.
	IdleTimeout time.Duration
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Logger:         DefaultSLogger(),
		ErrClassifier:  DefaultErrClassifier,
		TimeNow:        time.Now,
		ConnectTimeout: 30 * time.Second,
		IdleTimeout:    60 * time.Second,
	}
}

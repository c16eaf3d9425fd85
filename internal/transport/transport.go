// Package transport provides the remote command transports used to reach
// guests once they have an address.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrWindowsUnsupported is returned for guests that would need WinRM.
var ErrWindowsUnsupported = errors.New("remote transport for windows guests is not supported")

// DefaultConnectTimeout bounds one connection attempt.
const DefaultConnectTimeout = 10 * time.Second

// Transport runs commands on and copies files to a guest.
type Transport interface {
	// Available reports whether the guest accepts connections right now.
	// It never blocks longer than one connection attempt.
	Available(ctx context.Context) bool

	// Execute runs cmd and returns its combined output.
	Execute(ctx context.Context, cmd string) (string, error)

	// Upload copies the local file to remote on the guest.
	Upload(ctx context.Context, local, remote string) error

	// Address is the host:port the transport dials.
	Address() string
}

// Extra holds the options a location passes through to the transport.
type Extra struct {
	Sudo    bool
	Gateway string
}

// Config holds connection settings shared by all transports.
type Config struct {
	ConnectTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

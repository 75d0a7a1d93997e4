package realtime

import (
	"errors"
	"strings"
)

var (
	// ErrConnectInProgress is returned by Connect while a dial is running.
	ErrConnectInProgress = errors.New("realtime: connection already in progress")

	// ErrClosed is returned by operations on a socket after Close.
	ErrClosed = errors.New("realtime: socket closed")

	// ErrNoToken is returned when a channel is opened without credentials.
	ErrNoToken = errors.New("realtime: no authentication token available")

	// ErrBacklogFull is returned when an open socket cannot accept more
	// envelopes for writing.
	ErrBacklogFull = errors.New("realtime: write backlog full")
)

// IsExpectedCloseError reports whether err is the usual result of closing a
// connection from either side.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

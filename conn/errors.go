package conn

import "github.com/pkg/errors"

// ErrTimeout is returned when a Confirmable request exhausts its
// retransmission budget without an acknowledgement or response.
var ErrTimeout = errors.New("conn: retransmission budget exhausted")

// ErrProtocol is returned when a Reset is received for an outstanding
// request, or a message arrives in a state that doesn't expect it.
var ErrProtocol = errors.New("conn: protocol error")

// ErrCancelled is returned on a request's response channel when the
// caller cancels it before a matching message arrives.
var ErrCancelled = errors.New("conn: request cancelled")

// ErrClosed is returned by Send once the Connection has been closed.
var ErrClosed = errors.New("conn: connection closed")

// ErrNoFreeMessageID is returned when every one of the 65536 possible
// message ids for this peer is currently outstanding.
var ErrNoFreeMessageID = errors.New("conn: no free message id")

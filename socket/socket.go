// Package socket owns exactly one transport endpoint, demultiplexes
// inbound datagrams to per-peer Connections by source address, and
// serializes outbound sends -- the dispatcher named in the data model.
package socket

import (
	"net"

	"github.com/pkg/errors"
)

// ErrIo wraps a transport bind/send/receive failure.
var ErrIo = errors.New("socket: io error")

// PacketConn is the transport seam every carrier (UDP, SLIP-over-UART,
// WebSocket) implements so the Dispatcher's state machine is carrier-
// agnostic. *net.UDPConn satisfies it directly.
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	Close() error
	LocalAddr() net.Addr
}

// Package serial adapts a SLIP-framed UART into a socket.PacketConn,
// letting a single-peer serial link (e.g. coap+uart://ttyS2) be served by
// the same Dispatcher as the UDP transport.
package serial

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/GiterLab/crc16"
	"github.com/Lobaro/slip"
	"github.com/lobaro/go-coap-core/socket"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Parity and StopBits mirror the teacher's TransportUart knobs so callers
// configuring a serial link see familiar names.
type Parity byte
type StopBits byte

const (
	ParityNone Parity = 'N'
	ParityOdd  Parity = 'O'
	ParityEven Parity = 'E'
)

const (
	Stop1     StopBits = 1
	Stop1Half StopBits = 15
	Stop2     StopBits = 2
)

// Config configures the underlying serial port.
type Config struct {
	Name        string
	Baud        int
	Parity      Parity
	StopBits    StopBits
	ReadTimeout time.Duration

	// CheckCRC enables a trailing 2-byte CRC16/MODBUS frame-integrity
	// check on every SLIP packet; a packet that fails the check is
	// dropped rather than handed to the dispatcher, instead of being
	// passed through and later failing the CoAP decoder with a less
	// specific error.
	CheckCRC bool
}

// DefaultConfig mirrors the teacher's NewTransportUart defaults.
func DefaultConfig() Config {
	return Config{Baud: 115200, Parity: ParityNone, StopBits: Stop1, ReadTimeout: 500 * time.Millisecond}
}

// peerAddr is the synthetic net.Addr for the single peer at the other end
// of a point-to-point serial link.
type peerAddr string

func (p peerAddr) Network() string { return "uart" }
func (p peerAddr) String() string  { return string(p) }

// slipPacketReader and slipPacketWriter capture just the shape of
// slip.NewReader/slip.NewWriter's return values this package relies on,
// so it doesn't need to name their concrete types.
type slipPacketReader interface {
	ReadPacket() (p []byte, isPrefix bool, err error)
}

type slipPacketWriter interface {
	WritePacket(p []byte) error
}

// Conn is a socket.PacketConn over one SLIP-framed serial port. Since a
// serial link has exactly one peer, every ReadFrom/WriteTo uses the same
// synthetic address.
type Conn struct {
	port     *serial.Port
	peer     net.Addr
	checkCRC bool

	mu    sync.Mutex
	slipR slipPacketReader
	slipW slipPacketWriter
}

// Open opens the named serial port and wraps it as a Conn.
func Open(cfg Config) (*Conn, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		Parity:      serial.Parity(cfg.Parity),
		StopBits:    serial.StopBits(cfg.StopBits),
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(socket.ErrIo, err.Error())
	}

	return &Conn{
		port:     port,
		peer:     peerAddr(cfg.Name),
		checkCRC: cfg.CheckCRC,
		slipR:    slip.NewReader(port),
		slipW:    slip.NewWriter(port),
	}, nil
}

// ReadFrom satisfies socket.PacketConn, reassembling one SLIP packet
// (following prefix continuations, as the teacher's readPacket does) and
// optionally validating its trailing CRC16 before stripping it. A packet
// that fails the CRC check is skipped and the next packet is read.
func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		buf := &bytes.Buffer{}
		for {
			chunk, isPrefix, err := c.slipR.ReadPacket()
			if err != nil {
				return 0, nil, errors.Wrap(socket.ErrIo, err.Error())
			}
			buf.Write(chunk)
			if !isPrefix {
				break
			}
		}

		data := buf.Bytes()
		if c.checkCRC {
			var err error
			data, err = stripAndVerifyCRC(data)
			if err != nil {
				continue
			}
		}

		return copy(p, data), c.peer, nil
	}
}

// WriteTo satisfies socket.PacketConn. addr is ignored -- there is only
// one peer on a point-to-point serial link.
func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := p
	if c.checkCRC {
		frame = appendCRC(p)
	}
	if err := c.slipW.WritePacket(frame); err != nil {
		return 0, errors.Wrap(socket.ErrIo, err.Error())
	}
	return len(p), nil
}

// Close satisfies socket.PacketConn.
func (c *Conn) Close() error {
	if err := c.port.Close(); err != nil {
		return errors.Wrap(socket.ErrIo, err.Error())
	}
	return nil
}

// LocalAddr satisfies socket.PacketConn.
func (c *Conn) LocalAddr() net.Addr { return peerAddr("local") }

func checksum(p []byte) uint16 {
	h := crc16.New(crc16.MakeTable(crc16.CRC16_MODBUS))
	h.Write(p)
	return h.Sum16()
}

func appendCRC(p []byte) []byte {
	sum := checksum(p)
	out := make([]byte, len(p)+2)
	copy(out, p)
	out[len(p)] = byte(sum >> 8)
	out[len(p)+1] = byte(sum)
	return out
}

func stripAndVerifyCRC(p []byte) ([]byte, error) {
	if len(p) < 2 {
		return nil, errors.Wrap(socket.ErrIo, "serial frame too short for CRC")
	}
	payload := p[:len(p)-2]
	want := uint16(p[len(p)-2])<<8 | uint16(p[len(p)-1])
	if want != checksum(payload) {
		return nil, errors.Wrap(socket.ErrIo, "serial frame failed CRC16 check")
	}
	return payload, nil
}

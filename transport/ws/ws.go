// Package ws adapts a gorilla/websocket server into a socket.PacketConn,
// so CoAP-over-WebSocket peers can be demultiplexed by the same
// Dispatcher that serves the UDP transport.
package ws

import (
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lobaro/go-coap-core/socket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoPeer is returned by WriteTo when no websocket connection is open
// for the given address.
var ErrNoPeer = errors.Wrap(socket.ErrIo, "no open websocket connection for peer")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// addr adapts a websocket remote endpoint string to net.Addr.
type addr string

func (a addr) Network() string { return "ws" }
func (a addr) String() string  { return string(a) }

// Conn is a socket.PacketConn backed by one HTTP upgrade endpoint
// accepting many concurrent websocket peers, keyed by remote address --
// mirroring the teacher's per-connection map in wssocket.go.
type Conn struct {
	local net.Addr

	mu    sync.Mutex
	peers map[string]*websocket.Conn

	inbound chan inboundFrame
	closed  chan struct{}
}

type inboundFrame struct {
	data []byte
	from net.Addr
}

// Listen starts an HTTP server on laddr, upgrading every request at path
// to a websocket connection framed as CoAP datagrams. It returns
// immediately; the listener runs in its own goroutine.
func Listen(laddr, path string) (*Conn, error) {
	c := &Conn{
		local:   addr(laddr),
		peers:   make(map[string]*websocket.Conn),
		inbound: make(chan inboundFrame, 64),
		closed:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, c.upgrade)
	srv := &http.Server{Addr: laddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Warn("websocket transport listener stopped")
		}
	}()

	return c, nil
}

func (c *Conn) upgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	peerAddr := wsConn.RemoteAddr().String()
	c.mu.Lock()
	c.peers[peerAddr] = wsConn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.peers, peerAddr)
		c.mu.Unlock()
		wsConn.Close()
	}()

	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		cpy := make([]byte, len(data))
		copy(cpy, data)
		select {
		case c.inbound <- inboundFrame{data: cpy, from: addr(peerAddr)}:
		case <-c.closed:
			return
		}
	}
}

// ReadFrom satisfies socket.PacketConn.
func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case f := <-c.inbound:
		n := copy(p, f.data)
		return n, f.from, nil
	case <-c.closed:
		return 0, nil, errors.Wrap(socket.ErrIo, "websocket transport closed")
	}
}

// WriteTo satisfies socket.PacketConn.
func (c *Conn) WriteTo(p []byte, a net.Addr) (int, error) {
	c.mu.Lock()
	peer, ok := c.peers[a.String()]
	c.mu.Unlock()
	if !ok {
		return 0, ErrNoPeer
	}
	if err := peer.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, errors.Wrap(socket.ErrIo, err.Error())
	}
	return len(p), nil
}

// Close satisfies socket.PacketConn.
func (c *Conn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, peer := range c.peers {
		peer.Close()
	}
	return nil
}

// LocalAddr satisfies socket.PacketConn.
func (c *Conn) LocalAddr() net.Addr { return c.local }

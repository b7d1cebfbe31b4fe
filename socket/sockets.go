package socket

import (
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/lobaro/go-coap-core/conn"
	"github.com/lobaro/go-coap-core/message"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// connectRequest is the "connection-request channel" of the data model: a
// caller asks for the Connection serving addr and gets it back over a
// one-shot reply channel once the dispatcher has looked it up or created it.
type connectRequest struct {
	addr  net.Addr
	reply chan *conn.Connection
}

// Dispatcher owns one PacketConn, the single source of truth for which
// Connection serves which remote address, and the aggregated outbound
// channel every Connection sends through.
//
// Go's select over several ready channels already chooses pseudo-randomly
// among them, which is what gives run's loop the round-robin fairness the
// data model asks for (inbound socket / outbound channel / connection
// requests) without hand-rolled Idle/Send/Flush polling.
type Dispatcher struct {
	pc       PacketConn
	connCfg  conn.Config
	tokenGen conn.TokenGenerator
	log      *logrus.Entry

	inbound  chan rawDatagram
	outbound chan conn.Outbound
	connReqs chan connectRequest
	acceptCh chan conn.ServerRequest

	done chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*conn.Connection
}

type rawDatagram struct {
	data []byte
	addr net.Addr
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithConnConfig overrides the retransmission policy every Connection the
// Dispatcher creates is given.
func WithConnConfig(cfg conn.Config) Option {
	return func(d *Dispatcher) { d.connCfg = cfg }
}

// WithTokenGenerator overrides the TokenGenerator every Connection uses.
func WithTokenGenerator(g conn.TokenGenerator) Option {
	return func(d *Dispatcher) { d.tokenGen = g }
}

// WithServerAccept registers a buffered channel that server-initiated
// requests (inbound messages not matching any outstanding request) are
// published to; callers drain it with Accept. Without this option such
// messages are dropped with a logged warning, and a datagram from a peer
// with no existing Connection is dropped before one is created, suitable
// for a pure client.
func WithServerAccept(buffer int) Option {
	return func(d *Dispatcher) {
		d.acceptCh = make(chan conn.ServerRequest, buffer)
	}
}

// New starts a Dispatcher over pc. The Dispatcher owns pc exclusively from
// this point on: no other goroutine may call ReadFrom/WriteTo/Close on it.
func New(pc PacketConn, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pc:       pc,
		connCfg:  conn.DefaultConfig(),
		tokenGen: conn.NewRandomTokenGenerator(),
		log:      logrus.WithField("local", pc.LocalAddr().String()),
		inbound:  make(chan rawDatagram, 64),
		outbound: make(chan conn.Outbound, 64),
		connReqs: make(chan connectRequest, 16),
		done:     make(chan struct{}),
		conns:    make(map[string]*conn.Connection),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(2)
	go d.readLoop()
	go d.run()
	return d
}

// LocalAddr returns the address the underlying PacketConn is bound to.
func (d *Dispatcher) LocalAddr() net.Addr { return d.pc.LocalAddr() }

// Accept blocks until a server-initiated request arrives from a peer with
// no outstanding request of its own, or the Dispatcher is closed. Accept
// panics if the Dispatcher was not built with WithServerAccept.
func (d *Dispatcher) Accept() (conn.ServerRequest, bool) {
	if d.acceptCh == nil {
		panic("socket: Accept called on a Dispatcher without WithServerAccept")
	}
	select {
	case sr := <-d.acceptCh:
		return sr, true
	case <-d.done:
		return conn.ServerRequest{}, false
	}
}

// Connect returns the Connection for addr, creating it if this is the
// first traffic to or from that peer.
func (d *Dispatcher) Connect(addr net.Addr) (*conn.Connection, error) {
	reply := make(chan *conn.Connection, 1)
	select {
	case d.connReqs <- connectRequest{addr: addr, reply: reply}:
	case <-d.done:
		return nil, errors.Wrap(ErrIo, "dispatcher closed")
	}
	select {
	case c := <-reply:
		return c, nil
	case <-d.done:
		return nil, errors.Wrap(ErrIo, "dispatcher closed")
	}
}

// Close tears every live Connection down and closes the underlying
// PacketConn, aggregating whatever errors surface along the way.
func (d *Dispatcher) Close() error {
	select {
	case <-d.done:
	default:
		close(d.done)
	}

	var result *multierror.Error
	d.mu.Lock()
	for _, c := range d.conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	d.mu.Unlock()

	if err := d.pc.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(ErrIo, err.Error()))
	}
	d.wg.Wait()
	return result.ErrorOrNil()
}

// readLoop is the Dispatcher's only caller of pc.ReadFrom; it decodes
// nothing itself, just hands raw bytes to the run loop so decode errors
// are logged from one place.
func (d *Dispatcher) readLoop() {
	defer d.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, addr, err := d.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-d.done:
				return
			default:
				d.log.WithError(err).Warn("transport read failed, stopping dispatcher")
				close(d.done)
				return
			}
		}
		cpy := make([]byte, n)
		copy(cpy, buf[:n])
		select {
		case d.inbound <- rawDatagram{data: cpy, addr: addr}:
		case <-d.done:
			return
		}
	}
}

// run is the Dispatcher's single-goroutine state machine: every datagram
// decode, connection lookup/creation, and outbound send happens here, and
// d.conns is only ever added to from here. Lookups still take d.mu because
// Close walks d.conns concurrently with run.
func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return

		case raw := <-d.inbound:
			d.handleRaw(raw)

		case ob := <-d.outbound:
			d.handleOutbound(ob)

		case req := <-d.connReqs:
			req.reply <- d.connectionFor(req.addr)
		}
	}
}

func (d *Dispatcher) handleRaw(raw rawDatagram) {
	m, err := message.Decode(raw.data)
	if err != nil {
		d.log.WithError(err).WithField("from", raw.addr).Warn("dropping undecodable datagram")
		return
	}
	if d.acceptCh == nil {
		d.mu.Lock()
		_, known := d.conns[raw.addr.String()]
		d.mu.Unlock()
		if !known {
			d.log.WithField("from", raw.addr).Warn("dropping datagram from unknown peer, no accept channel")
			return
		}
	}
	d.connectionFor(raw.addr).Deliver(m)
}

func (d *Dispatcher) handleOutbound(ob conn.Outbound) {
	data, err := message.Encode(ob.Msg)
	if err != nil {
		d.log.WithError(err).Warn("dropping message that failed to encode")
		return
	}
	if _, err := d.pc.WriteTo(data, ob.Addr); err != nil {
		d.log.WithError(err).WithField("to", ob.Addr).Warn("transport write failed")
	}
}

func (d *Dispatcher) connectionFor(addr net.Addr) *conn.Connection {
	key := addr.String()

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[key]; ok {
		return c
	}
	c := conn.New(addr, d.outbound, d.acceptCh, d.connCfg, d.tokenGen)
	d.conns[key] = c
	return c
}

// Package conn implements the per-peer Connection state machine: message-id
// allocation, the outstanding-request table, inbound correlation, and
// Confirmable retransmission.
package conn

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/lobaro/go-coap-core/message"
	"github.com/sirupsen/logrus"
)

// AckRandomFactor and MaxRetransmit are the RFC 7252 section 4.8 defaults.
const (
	DefaultAckTimeout = 2 * time.Second
	AckRandomFactor   = 1.5
	MaxRetransmit     = 4
)

// Outbound pairs a message with the address it must be sent to; this is
// the sole item type the dispatcher's aggregated outbound channel carries.
type Outbound struct {
	Msg  *message.Message
	Addr net.Addr
}

// Result is delivered on a Request's response channel: either the matching
// inbound message, or a terminal error (ErrTimeout, ErrProtocol, ErrCancelled).
type Result struct {
	Msg *message.Message
	Err error
}

// Request is the caller-facing handle returned by Connection.Send.
type Request struct {
	resultCh chan Result
	cancel   chan struct{}
	once     sync.Once
}

// Response returns the channel Results arrive on. Usually exactly one
// Result is delivered and the channel is then closed; for a separate
// (non-piggybacked) response, a pending empty-ack Result is delivered
// first, left open, then the eventual real response closes it.
func (r *Request) Response() <-chan Result { return r.resultCh }

// Cancel aborts the request. If no response has arrived yet, the
// Connection delivers ErrCancelled and drops the outstanding entry;
// cancelling twice, or after a Result, is a no-op.
func (r *Request) Cancel() {
	r.once.Do(func() { close(r.cancel) })
}

func (r *Request) deliver(res Result) {
	select {
	case r.resultCh <- res:
	default:
	}
	close(r.resultCh)
}

// deliverPending sends a non-terminal Result (a piggybacked empty ack that
// a separate response will follow) without closing resultCh, so a later
// deliver for the same Request still has somewhere to send.
func (r *Request) deliverPending(res Result) {
	select {
	case r.resultCh <- res:
	default:
	}
}

type outstanding struct {
	mid     uint16
	token   []byte
	msg     *message.Message
	retries int
	acked   bool // empty ack already seen; retransmit fires are ignored, awaiting separate response
	req     *Request
	stopCh  chan struct{}
}

type submission struct {
	msg *message.Message
	req *Request
}

type retransmitEvent struct {
	mid uint16
}

// ServerRequest is handed to a registered accept channel when an inbound
// Confirmable/NonConfirmable message doesn't correlate with any
// outstanding request -- i.e. the peer is acting as a CoAP client against us.
type ServerRequest struct {
	Msg  *message.Message
	Addr net.Addr
}

// Config tunes the retransmission policy. The zero value is invalid; use
// DefaultConfig.
type Config struct {
	AckTimeout      time.Duration
	AckRandomFactor float64
	MaxRetransmit   int
}

// DefaultConfig returns the RFC 7252 section 4.8 defaults.
func DefaultConfig() Config {
	return Config{AckTimeout: DefaultAckTimeout, AckRandomFactor: AckRandomFactor, MaxRetransmit: MaxRetransmit}
}

// Connection is a per-peer logical context: one message-id space, one
// outstanding-request table, one goroutine running its state machine. It
// is never accessed concurrently from outside that goroutine -- all
// communication happens over channels, per the single-reactor scheduling
// model (no locks guard c.outstanding or c.nextMID).
type Connection struct {
	remoteAddr net.Addr
	cfg        Config
	tokenGen   TokenGenerator
	log        *logrus.Entry

	inbound      chan *message.Message // from the dispatcher
	submissions  chan submission       // from Send
	retransmitCh chan retransmitEvent  // posted by per-request timer goroutines
	outbound     chan<- Outbound       // to the dispatcher, shared across connections
	serverAcc    chan<- ServerRequest  // optional, may be nil

	done chan struct{}
	wg   sync.WaitGroup

	nextMID     uint16
	outstanding map[uint16]*outstanding
}

// New starts a Connection for remoteAddr. outbound is the dispatcher's
// shared aggregated send channel; serverAccept may be nil if this
// Connection never expects server-initiated requests from its peer.
func New(remoteAddr net.Addr, outbound chan<- Outbound, serverAccept chan<- ServerRequest, cfg Config, tokenGen TokenGenerator) *Connection {
	if tokenGen == nil {
		tokenGen = NewRandomTokenGenerator()
	}
	c := &Connection{
		remoteAddr:   remoteAddr,
		cfg:          cfg,
		tokenGen:     tokenGen,
		log:          logrus.WithField("remote", remoteAddr.String()),
		inbound:      make(chan *message.Message, 16),
		submissions:  make(chan submission, 16),
		retransmitCh: make(chan retransmitEvent, 4),
		outbound:     outbound,
		serverAcc:    serverAccept,
		done:         make(chan struct{}),
		nextMID:      1,
		outstanding:  make(map[uint16]*outstanding),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// RemoteAddr returns the peer address this Connection demultiplexes for.
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// Deliver hands an inbound message, already decoded by the dispatcher, to
// this Connection. It is safe to call from the dispatcher's goroutine; it
// blocks only as long as the Connection's inbound buffer is full, and
// never blocks once the Connection has been closed.
func (c *Connection) Deliver(m *message.Message) {
	select {
	case c.inbound <- m:
	case <-c.done:
	}
}

// Send submits req for delivery to this Connection's peer. If req.Token
// is empty one is generated. If req.MessageID is 0 the Connection assigns
// the next free one; a nonzero value is honored as-is. The returned
// Request's Response channel receives a pending empty-ack Result (for a
// separate response) followed by exactly one final Result.
func (c *Connection) Send(req *message.Message) *Request {
	if len(req.Token) == 0 {
		req.Token = c.tokenGen.NextToken()
	}
	// Buffered for 2: a pending empty-ack Result followed by the separate
	// response it precedes must never block on, or be dropped by, a
	// caller that hasn't read the first one yet.
	r := &Request{resultCh: make(chan Result, 2), cancel: make(chan struct{})}
	select {
	case c.submissions <- submission{msg: req, req: r}:
	case <-c.done:
		r.deliver(Result{Err: ErrClosed})
	}
	return r
}

// Close shuts the Connection down, failing every outstanding request with
// ErrCancelled, and waits for its goroutine to exit.
func (c *Connection) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.wg.Wait()
	return nil
}

// run is the Connection's single-goroutine state machine. Every
// transition -- submit, inbound delivery, retransmit timer fire, shutdown
// -- is driven from this one select, so c.outstanding and c.nextMID need
// no lock.
func (c *Connection) run() {
	defer c.wg.Done()
	defer c.drainOnShutdown()

	for {
		select {
		case <-c.done:
			return

		case sub := <-c.submissions:
			c.handleSubmission(sub)

		case m := <-c.inbound:
			c.handleInbound(m)

		case ev := <-c.retransmitCh:
			c.handleRetransmit(ev.mid)
		}
	}
}

func (c *Connection) drainOnShutdown() {
	for _, o := range c.outstanding {
		close(o.stopCh)
		o.req.deliver(Result{Err: ErrCancelled})
	}
	c.outstanding = nil
}

// allocMID assigns the next free message id, probing forward from
// nextMID and wrapping via uint16 arithmetic (RFC 7252's 16-bit space).
// The outstanding table is itself the "is this id in use" source of
// truth, so no separate freelist is kept. Fails only if all 65536 ids
// are outstanding to this one peer.
func (c *Connection) allocMID() (uint16, error) {
	start := c.nextMID
	for {
		candidate := c.nextMID
		c.nextMID++
		if _, inUse := c.outstanding[candidate]; !inUse {
			return candidate, nil
		}
		if c.nextMID == start {
			return 0, ErrNoFreeMessageID
		}
	}
}

func (c *Connection) handleSubmission(sub submission) {
	mid := sub.msg.MessageID
	if mid == 0 {
		var err error
		mid, err = c.allocMID()
		if err != nil {
			sub.req.deliver(Result{Err: err})
			return
		}
		sub.msg.MessageID = mid
	}

	o := &outstanding{
		mid:    mid,
		token:  append([]byte(nil), sub.msg.Token...),
		msg:    sub.msg,
		req:    sub.req,
		stopCh: make(chan struct{}),
	}
	c.outstanding[mid] = o

	c.sendOutbound(sub.msg)

	if sub.msg.IsConfirmable() {
		c.armRetransmit(o)
	}
	go c.watchCancel(o)
}

func (c *Connection) sendOutbound(m *message.Message) {
	select {
	case c.outbound <- Outbound{Msg: m, Addr: c.remoteAddr}:
	case <-c.done:
	}
}

// watchCancel lets Cancel() be called from any goroutine without ever
// touching c.outstanding directly: it just nudges retransmitCh, and
// handleRetransmit checks req.cancel to tell a real timeout from a cancel.
func (c *Connection) watchCancel(o *outstanding) {
	select {
	case <-o.req.cancel:
		select {
		case c.retransmitCh <- retransmitEvent{mid: o.mid}:
		case <-c.done:
		}
	case <-o.stopCh:
	}
}

func (c *Connection) armRetransmit(o *outstanding) {
	factor := c.cfg.AckRandomFactor
	if factor < 1 {
		factor = 1
	}
	timeout := c.cfg.AckTimeout
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	jittered := time.Duration(float64(timeout) * (1 + rand.Float64()*(factor-1)) * float64(uint(1)<<uint(o.retries)))
	mid := o.mid
	stop := o.stopCh
	timer := time.NewTimer(jittered)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case c.retransmitCh <- retransmitEvent{mid: mid}:
			case <-c.done:
			}
		case <-stop:
		}
	}()
}

// handleRetransmit is invoked both for a genuine ACK-timeout fire and for
// a Cancel() notification (both arrive on retransmitCh keyed by mid); it
// disambiguates by checking the outstanding request's cancel channel.
func (c *Connection) handleRetransmit(mid uint16) {
	o, ok := c.outstanding[mid]
	if !ok {
		return
	}

	select {
	case <-o.req.cancel:
		delete(c.outstanding, mid)
		close(o.stopCh)
		o.req.deliver(Result{Err: ErrCancelled})
		return
	default:
	}

	if o.acked {
		// Stale retransmit-timer fire racing with an already-delivered
		// empty ack: nothing to resend, still waiting on the separate
		// response (or a later Cancel, handled above).
		return
	}

	if o.retries >= c.cfg.MaxRetransmit {
		delete(c.outstanding, mid)
		close(o.stopCh)
		o.req.deliver(Result{Err: ErrTimeout})
		return
	}

	o.retries++
	c.log.WithFields(logrus.Fields{"mid": mid, "retry": o.retries}).Debug("retransmitting confirmable request")
	c.sendOutbound(o.msg)
	c.armRetransmit(o)
}

// handleInbound correlates m against the outstanding table by message-id
// first (the primary key, since the dispatcher must route before a token
// is meaningfully parsed); if the request carried a non-empty token, a
// mismatch against m's token is treated as not-found rather than silently
// correlated. An Empty-code message (a bare Acknowledgement or a Reset,
// which carry no token) is matched by message-id alone.
func (c *Connection) handleInbound(m *message.Message) {
	o, ok := c.outstanding[m.MessageID]
	if ok && (m.Code == message.Empty || tokensCompatible(o.token, m.Token)) {
		if m.Type == message.Acknowledgement && m.Code == message.Empty {
			// Piggybacked-empty ack: a separate response follows later
			// under a fresh message-id, correlated only by token. Stop
			// retransmitting this mid but keep the outstanding entry (and
			// its Request) alive for that later lookup.
			o.acked = true
			o.req.deliverPending(Result{Msg: m})
			return
		}

		delete(c.outstanding, m.MessageID)
		close(o.stopCh)
		if m.Type == message.Reset {
			o.req.deliver(Result{Err: ErrProtocol})
			return
		}
		o.req.deliver(Result{Msg: m})
		return
	}

	// Not found by message-id: this may be a separate (non-piggybacked)
	// response, which arrives under its own fresh message-id and can only
	// be correlated by token.
	if !ok && len(m.Token) > 0 && !m.IsRequest() {
		if mid, sep, found := c.findByToken(m.Token); found {
			delete(c.outstanding, mid)
			close(sep.stopCh)
			sep.req.deliver(Result{Msg: m})
			return
		}
	}

	switch m.Type {
	case message.Acknowledgement, message.Reset:
		c.log.WithField("mid", m.MessageID).Warn("dropping unmatched ack/reset")
		return
	default:
		if c.serverAcc != nil {
			select {
			case c.serverAcc <- ServerRequest{Msg: m, Addr: c.remoteAddr}:
			case <-c.done:
			}
		} else {
			c.log.WithField("mid", m.MessageID).Warn("dropping server-initiated request, no accept channel")
		}
	}
}

func (c *Connection) findByToken(token []byte) (uint16, *outstanding, bool) {
	for mid, o := range c.outstanding {
		if len(o.token) > 0 && tokensCompatible(o.token, token) {
			return mid, o, true
		}
	}
	return 0, nil, false
}

func tokensCompatible(want, got []byte) bool {
	if len(want) == 0 {
		return true
	}
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

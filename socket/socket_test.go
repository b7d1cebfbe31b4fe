package socket

import (
	"net"
	"testing"
	"time"

	"github.com/lobaro/go-coap-core/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePacketConn is an in-memory PacketConn used to drive the Dispatcher
// without a real UDP socket.
type fakePacketConn struct {
	local net.Addr
	in    chan rawDatagram
	out   chan rawDatagram
	done  chan struct{}
}

func newFakePacketConn(local net.Addr) *fakePacketConn {
	return &fakePacketConn{
		local: local,
		in:    make(chan rawDatagram, 16),
		out:   make(chan rawDatagram, 16),
		done:  make(chan struct{}),
	}
}

func (f *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-f.in:
		return copy(p, d.data), d.addr, nil
	case <-f.done:
		return 0, nil, ErrIo
	}
}

func (f *fakePacketConn) WriteTo(p []byte, a net.Addr) (int, error) {
	cpy := make([]byte, len(p))
	copy(cpy, p)
	select {
	case f.out <- rawDatagram{data: cpy, addr: a}:
	case <-f.done:
		return 0, ErrIo
	}
	return len(p), nil
}

func (f *fakePacketConn) Close() error {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}

func (f *fakePacketConn) LocalAddr() net.Addr { return f.local }

func addrA() net.Addr { return &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 5683} }
func addrB() net.Addr { return &net.UDPAddr{IP: net.ParseIP("203.0.113.2"), Port: 5683} }

func TestConnectCreatesOneConnectionPerRemoteAddr(t *testing.T) {
	pc := newFakePacketConn(&net.UDPAddr{Port: 5683})
	d := New(pc)
	defer d.Close()

	c1, err := d.Connect(addrA())
	require.NoError(t, err)
	c2, err := d.Connect(addrA())
	require.NoError(t, err)
	c3, err := d.Connect(addrB())
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.NotSame(t, c1, c3)
}

func TestInboundDatagramRoutesToCorrectConnectionOnly(t *testing.T) {
	pc := newFakePacketConn(&net.UDPAddr{Port: 5683})
	d := New(pc)
	defer d.Close()

	connA, err := d.Connect(addrA())
	require.NoError(t, err)
	connB, err := d.Connect(addrB())
	require.NoError(t, err)

	reqA := message.New()
	reqA.Type = message.Confirmable
	reqA.Code = message.GET
	rA := connA.Send(reqA)
	sentA := <-pc.out

	reqB := message.New()
	reqB.Type = message.Confirmable
	reqB.Code = message.GET
	rB := connB.Send(reqB)
	sentB := <-pc.out

	decodedA, err := message.Decode(sentA.data)
	require.NoError(t, err)
	ackA := decodedA.NewReply()
	ackA.Code = message.Content
	wireA, err := message.Encode(ackA)
	require.NoError(t, err)
	pc.in <- rawDatagram{data: wireA, addr: addrA()}

	select {
	case res := <-rA.Response():
		require.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("connection A never saw its response")
	}

	select {
	case <-rB.Response():
		t.Fatal("connection B must not observe connection A's response")
	case <-time.After(100 * time.Millisecond):
	}

	_ = sentB
	rB.Cancel()
}

func TestUndecodableDatagramIsDroppedNotFatal(t *testing.T) {
	pc := newFakePacketConn(&net.UDPAddr{Port: 5683})
	d := New(pc)
	defer d.Close()

	pc.in <- rawDatagram{data: []byte{0xff, 0xff}, addr: addrA()}

	_, err := d.Connect(addrA())
	assert.NoError(t, err)
}

func TestOutboundEncodesAndWritesToTransport(t *testing.T) {
	pc := newFakePacketConn(&net.UDPAddr{Port: 5683})
	d := New(pc)
	defer d.Close()

	c, err := d.Connect(addrA())
	require.NoError(t, err)

	req := message.New()
	req.Type = message.NonConfirmable
	req.Code = message.GET
	r := c.Send(req)
	defer r.Cancel()

	select {
	case sent := <-pc.out:
		decoded, err := message.Decode(sent.data)
		require.NoError(t, err)
		assert.Equal(t, message.GET, decoded.Code)
	case <-time.After(time.Second):
		t.Fatal("no datagram reached the transport")
	}
}

func TestServerInitiatedRequestReachesAccept(t *testing.T) {
	pc := newFakePacketConn(&net.UDPAddr{Port: 5683})
	d := New(pc, WithServerAccept(4))
	defer d.Close()

	push := message.New()
	push.Type = message.Confirmable
	push.Code = message.GET
	push.MessageID = 0x55
	wire, err := message.Encode(push)
	require.NoError(t, err)
	pc.in <- rawDatagram{data: wire, addr: addrA()}

	sr, ok := d.Accept()
	require.True(t, ok)
	assert.Equal(t, message.GET, sr.Msg.Code)
	assert.Equal(t, addrA().String(), sr.Addr.String())
}

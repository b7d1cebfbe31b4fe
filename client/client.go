// Package client provides Client.Get/Post, a small convenience layer on
// top of a Dispatcher: URL decomposition into an Endpoint, connection
// lookup, and waiting for the expected reply within a deadline.
package client

import (
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lobaro/go-coap-core/endpoint"
	"github.com/lobaro/go-coap-core/message"
	"github.com/lobaro/go-coap-core/option"
	"github.com/lobaro/go-coap-core/socket"
	"github.com/pkg/errors"
)

// ErrNoContent is returned by Get/Post/Do if the Client's Timeout elapses
// before a final (non-Empty-ack) reply arrives.
var ErrNoContent = errors.New("client: no content response received")

// Client is a CoAP client bound to one Dispatcher. Its zero value is
// unusable; construct with New.
//
// CoAP section 4.7 specifies NSTART (default 1): the number of
// simultaneous outstanding interactions a client may have with a given
// server. MaxParallelRequests realizes that limit the way the teacher's
// Client.Do does, via an atomic counter rather than a semaphore, since
// the limit is advisory and only needs to reject over-budget calls early.
type Client struct {
	Dispatcher          *socket.Dispatcher
	Timeout             time.Duration
	MaxParallelRequests int32

	running int32
	mu      sync.Mutex
}

// New returns a Client bound to d with the RFC 7252 section 4.7 default
// NSTART=1 and a 30s timeout.
func New(d *socket.Dispatcher) *Client {
	return &Client{Dispatcher: d, Timeout: 30 * time.Second, MaxParallelRequests: 1}
}

// Get issues a Confirmable GET to the given coap:// URL and returns the
// payload of the first 2.05 Content (or other final, non-empty-ack)
// reply within the Client's Timeout.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	res, err := c.Do(ctx, message.GET, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// Post issues a Confirmable POST with body to the given coap:// URL.
func (c *Client) Post(ctx context.Context, rawURL string, body io.Reader) (*message.Message, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, errors.Wrap(err, "client: reading request body")
		}
	}
	return c.Do(ctx, message.POST, rawURL, payload)
}

// Do sends a Confirmable request with the given method, URL, and payload
// and waits for its final reply.
func (c *Client) Do(ctx context.Context, method message.Code, rawURL string, payload []byte) (*message.Message, error) {
	if err := c.reserveSlot(); err != nil {
		return nil, err
	}
	defer c.releaseSlot()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "client: parsing URL")
	}

	ep, err := endpointFromURL(u)
	if err != nil {
		return nil, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	resolveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr, err := endpoint.Resolve(resolveCtx, ep, nil)
	if err != nil {
		return nil, err
	}

	connHandle, err := c.Dispatcher.Connect(addr)
	if err != nil {
		return nil, err
	}

	req := message.New()
	req.Type = message.Confirmable
	req.Code = method
	req.SetPathString(u.EscapedPath())
	for _, q := range splitQuery(u.RawQuery) {
		req.Options.PushString(option.URIQuery, q)
	}
	req.Payload = payload

	r := connHandle.Send(req)

	select {
	case res := <-r.Response():
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Msg.Code == message.Empty {
			// Piggybacked-empty ack to a separate response: conn already
			// keeps the request outstanding for the follow-up message, so
			// wait once more.
			select {
			case res2 := <-r.Response():
				if res2.Err != nil {
					return nil, res2.Err
				}
				return res2.Msg, nil
			case <-time.After(timeout):
				return nil, ErrNoContent
			case <-ctx.Done():
				r.Cancel()
				return nil, ctx.Err()
			}
		}
		return res.Msg, nil
	case <-time.After(timeout):
		r.Cancel()
		return nil, ErrNoContent
	case <-ctx.Done():
		r.Cancel()
		return nil, ctx.Err()
	}
}

func (c *Client) reserveSlot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MaxParallelRequests != 0 && c.running >= c.MaxParallelRequests {
		return errors.Errorf("client: MaxParallelRequests exhausted: %d", c.MaxParallelRequests)
	}
	c.running++
	return nil
}

func (c *Client) releaseSlot() {
	atomic.AddInt32(&c.running, -1)
}

func endpointFromURL(u *url.URL) (endpoint.Endpoint, error) {
	host := u.Hostname()
	if host == "" {
		return endpoint.Endpoint{}, errors.New("client: URL has no host")
	}
	port := endpoint.DefaultPort
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return endpoint.Endpoint{}, errors.Wrap(err, "client: invalid port")
		}
		port = parsed
	}

	if ip := net.ParseIP(host); ip != nil {
		return endpoint.Resolved(&net.UDPAddr{IP: ip, Port: port}).WithScheme(schemeOrDefault(u)), nil
	}
	return endpoint.Unresolved(host, port).WithScheme(schemeOrDefault(u)), nil
}

func schemeOrDefault(u *url.URL) string {
	if u.Scheme == "" {
		return "coap"
	}
	return u.Scheme
}

func splitQuery(raw string) []string {
	if raw == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '&' {
			if i > start {
				parts = append(parts, raw[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

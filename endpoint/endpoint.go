// Package endpoint implements the Endpoint address abstraction: unset,
// already-resolved, or a (host, port) pair awaiting asynchronous DNS
// resolution (spec section 4.5).
package endpoint

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// ErrResolution is the sentinel wrapped around any resolution failure,
// including resolving an Unset endpoint.
var ErrResolution = errors.New("endpoint: resolution failed")

// DefaultPort is the CoAP UDP port (RFC 7252 section 12.1).
const DefaultPort = 5683

// Resolver is the external DNS collaborator an Unresolved Endpoint calls
// into. net.DefaultResolver.LookupIPAddr satisfies this shape and is the
// default used by Resolve.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// defaultResolver adapts *net.Resolver's LookupIPAddr method to Resolver.
var defaultResolver Resolver = net.DefaultResolver

// kind tags which of the three Endpoint variants is in play.
type kind uint8

const (
	kindUnset kind = iota
	kindResolved
	kindUnresolved
)

// Endpoint is a CoAP peer address: Unset, an already-Resolved socket
// address, or an Unresolved (host, port) pair. The zero value is Unset.
type Endpoint struct {
	kind   kind
	addr   *net.UDPAddr
	host   string
	port   int
	scheme string
}

// Unset returns the Unset endpoint variant.
func Unset() Endpoint {
	return Endpoint{kind: kindUnset}
}

// Resolved returns an Endpoint already bound to addr.
func Resolved(addr *net.UDPAddr) Endpoint {
	return Endpoint{kind: kindResolved, addr: addr}
}

// Unresolved returns an Endpoint naming host and port, to be resolved
// later via Resolve.
func Unresolved(host string, port int) Endpoint {
	return Endpoint{kind: kindUnresolved, host: host, port: port}
}

// WithScheme returns a copy of e carrying scheme, used only to select
// which transport adapter (coap, coap+uart, coap+ws) a caller should use;
// the core dispatcher itself is transport-agnostic (spec section 3, "Endpoint").
func (e Endpoint) WithScheme(scheme string) Endpoint {
	e.scheme = scheme
	return e
}

// Scheme returns the URI scheme associated with e, or "coap" if none was set.
func (e Endpoint) Scheme() string {
	if e.scheme == "" {
		return "coap"
	}
	return e.scheme
}

// IsUnset reports whether e is the Unset variant.
func (e Endpoint) IsUnset() bool { return e.kind == kindUnset }

// String renders e for logging.
func (e Endpoint) String() string {
	switch e.kind {
	case kindResolved:
		return e.addr.String()
	case kindUnresolved:
		return net.JoinHostPort(e.host, strconv.Itoa(e.port))
	default:
		return "<unset>"
	}
}

// Resolve produces the socket address for e. Unset fails immediately with
// ErrResolution. Resolved returns its address immediately. Unresolved
// invokes resolver and, on success, pairs the first returned address with
// e's port; on failure it surfaces the resolver's error wrapped in
// ErrResolution.
//
// Resolve blocks on ctx for the Unresolved case (the only case that
// performs I/O); callers that want a non-blocking resolve should run it in
// their own goroutine.
func Resolve(ctx context.Context, e Endpoint, resolver Resolver) (*net.UDPAddr, error) {
	switch e.kind {
	case kindResolved:
		return e.addr, nil
	case kindUnresolved:
		if resolver == nil {
			resolver = defaultResolver
		}
		ips, err := resolver.LookupIPAddr(ctx, e.host)
		if err != nil {
			return nil, errors.Wrapf(ErrResolution, "lookup %q: %s", e.host, err)
		}
		if len(ips) == 0 {
			return nil, errors.Wrapf(ErrResolution, "lookup %q: no addresses", e.host)
		}
		return &net.UDPAddr{IP: ips[0].IP, Port: e.port, Zone: ips[0].Zone}, nil
	default:
		return nil, errors.Wrap(ErrResolution, "endpoint is unset")
	}
}

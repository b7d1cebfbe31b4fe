package endpoint

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	ips []net.IPAddr
	err error
}

func (s stubResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return s.ips, s.err
}

func TestResolveUnsetFailsImmediately(t *testing.T) {
	_, err := Resolve(context.Background(), Unset(), nil)
	assert.ErrorIs(t, err, ErrResolution)
}

func TestResolveResolvedReturnsAddrDirectly(t *testing.T) {
	want := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 5683}
	got, err := Resolve(context.Background(), Resolved(want), nil)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestResolveUnresolvedCallsResolver(t *testing.T) {
	r := stubResolver{ips: []net.IPAddr{{IP: net.ParseIP("198.51.100.7")}}}
	got, err := Resolve(context.Background(), Unresolved("sensor.local", 5683), r)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", got.IP.String())
	assert.Equal(t, 5683, got.Port)
}

func TestResolveUnresolvedSurfacesResolverError(t *testing.T) {
	r := stubResolver{err: assert.AnError}
	_, err := Resolve(context.Background(), Unresolved("nowhere.invalid", 5683), r)
	assert.ErrorIs(t, err, ErrResolution)
}

func TestResolveUnresolvedNoAddressesIsError(t *testing.T) {
	r := stubResolver{}
	_, err := Resolve(context.Background(), Unresolved("empty.invalid", 5683), r)
	assert.ErrorIs(t, err, ErrResolution)
}

func TestWithSchemeDefaultsToCoap(t *testing.T) {
	e := Unresolved("h", 5683)
	assert.Equal(t, "coap", e.Scheme())
	e = e.WithScheme("coap+ws")
	assert.Equal(t, "coap+ws", e.Scheme())
}

func TestIsUnset(t *testing.T) {
	assert.True(t, Unset().IsUnset())
	assert.False(t, Unresolved("h", 5683).IsUnset())
}

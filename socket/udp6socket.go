package socket

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv6"
)

// BindUDP opens the normative CoAP transport: a UDP socket bound to
// laddr. The returned *net.UDPConn satisfies PacketConn directly.
func BindUDP(laddr *net.UDPAddr) (*net.UDPConn, error) {
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(ErrIo, err.Error())
	}
	return c, nil
}

// JoinMulticastIPv6 joins group (e.g. "ff02::1", the resource-discovery
// group this adapts from the teacher's udp6 listener) on iface so
// multicast CoAP requests arriving at pc are delivered to its ReadFrom.
// Unicast-only deployments never call this.
func JoinMulticastIPv6(pc *net.UDPConn, iface *net.Interface, group string) error {
	pktConn := ipv6.NewPacketConn(pc)
	gaddr := &net.UDPAddr{IP: net.ParseIP(group)}
	if err := pktConn.JoinGroup(iface, gaddr); err != nil {
		return errors.Wrapf(ErrIo, "join multicast group %s: %s", group, err)
	}
	return nil
}

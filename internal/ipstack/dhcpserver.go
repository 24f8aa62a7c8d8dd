package ipstack

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/sirupsen/logrus"
)

const defaultLeaseTime = 12 * time.Hour

var errPoolExhausted = errors.New("address pool exhausted")

type lease struct {
	addr    netip.Addr
	expires time.Time
}

// pool hands out addresses from the soft-AP subnet. The server address
// itself, the network and the broadcast address are never leased.
type pool struct {
	mu       sync.Mutex
	server   netip.Addr
	prefix   netip.Prefix
	leaseFor time.Duration
	leases   map[string]lease
	now      func() time.Time
}

func newPool(prefix netip.Prefix, leaseFor time.Duration) *pool {
	return &pool{
		server:   prefix.Addr(),
		prefix:   prefix.Masked(),
		leaseFor: leaseFor,
		leases:   make(map[string]lease),
		now:      time.Now,
	}
}

// allocate returns the client's existing lease, the requested address when
// free, or the lowest free address
func (p *pool) allocate(mac string, requested netip.Addr) (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for m, l := range p.leases {
		if now.After(l.expires) {
			delete(p.leases, m)
		}
	}

	if l, ok := p.leases[mac]; ok {
		l.expires = now.Add(p.leaseFor)
		p.leases[mac] = l
		return l.addr, nil
	}
	if requested.IsValid() && p.usable(requested) && !p.taken(requested) {
		p.leases[mac] = lease{addr: requested, expires: now.Add(p.leaseFor)}
		return requested, nil
	}
	for a := p.prefix.Addr().Next(); p.prefix.Contains(a); a = a.Next() {
		if !p.usable(a) || p.taken(a) {
			continue
		}
		p.leases[mac] = lease{addr: a, expires: now.Add(p.leaseFor)}
		return a, nil
	}
	return netip.Addr{}, errPoolExhausted
}

func (p *pool) release(mac string) {
	p.mu.Lock()
	delete(p.leases, mac)
	p.mu.Unlock()
}

func (p *pool) usable(a netip.Addr) bool {
	if !p.prefix.Contains(a) || a == p.server || a == p.prefix.Addr() {
		return false
	}
	return a.Next().IsValid() && p.prefix.Contains(a.Next())
}

func (p *pool) taken(a netip.Addr) bool {
	for _, l := range p.leases {
		if l.addr == a {
			return true
		}
	}
	return false
}

// dhcpServer answers DISCOVER/REQUEST/RELEASE from soft-AP clients
type dhcpServer struct {
	iface  string
	pool   *pool
	server *server4.Server
}

func newDHCPServer(iface string, prefix netip.Prefix) (*dhcpServer, error) {
	s := &dhcpServer{iface: iface, pool: newPool(prefix, defaultLeaseTime)}
	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: dhcpv4.ServerPort}
	srv, err := server4.NewServer(iface, laddr, s.handle)
	if err != nil {
		return nil, fmt.Errorf("dhcp server on %s: %w", iface, err)
	}
	s.server = srv
	go func() {
		if err := srv.Serve(); err != nil {
			logger.WithError(err).WithField("iface", iface).Debug("DHCP server stopped")
		}
	}()
	logger.WithFields(logrus.Fields{"iface": iface, "subnet": prefix.Masked()}).Info("DHCP server started")
	return s, nil
}

func (s *dhcpServer) Close() {
	if err := s.server.Close(); err != nil {
		logger.WithError(err).WithField("iface", s.iface).Debug("DHCP server close")
	}
}

func (s *dhcpServer) handle(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
	resp, err := s.reply(m)
	if err != nil {
		logger.WithError(err).WithField("client", m.ClientHWAddr).Warn("DHCP request not served")
		return
	}
	if resp == nil {
		return
	}

	dst := peer
	if up, ok := peer.(*net.UDPAddr); ok && (up.IP == nil || up.IP.IsUnspecified()) {
		dst = &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ClientPort}
	}
	if _, err := conn.WriteTo(resp.ToBytes(), dst); err != nil {
		logger.WithError(err).WithField("client", m.ClientHWAddr).Warn("DHCP reply not sent")
	}
}

// reply builds the response for one client message, or nil when none is due
func (s *dhcpServer) reply(m *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	mac := m.ClientHWAddr.String()

	var msgType dhcpv4.MessageType
	switch m.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		msgType = dhcpv4.MessageTypeOffer
	case dhcpv4.MessageTypeRequest:
		msgType = dhcpv4.MessageTypeAck
	case dhcpv4.MessageTypeRelease:
		s.pool.release(mac)
		return nil, nil
	default:
		return nil, nil
	}

	var requested netip.Addr
	if ip := m.RequestedIPAddress(); ip != nil {
		requested, _ = netip.AddrFromSlice(ip.To4())
	}
	addr, err := s.pool.allocate(mac, requested)
	if err != nil {
		return nil, err
	}

	resp, err := dhcpv4.NewReplyFromRequest(m)
	if err != nil {
		return nil, err
	}
	server := net.IP(s.pool.server.AsSlice())
	resp.YourIPAddr = net.IP(addr.AsSlice())
	resp.ServerIPAddr = server
	resp.UpdateOption(dhcpv4.OptMessageType(msgType))
	resp.UpdateOption(dhcpv4.OptServerIdentifier(server))
	resp.UpdateOption(dhcpv4.OptSubnetMask(net.CIDRMask(s.pool.prefix.Bits(), 32)))
	resp.UpdateOption(dhcpv4.OptRouter(server))
	resp.UpdateOption(dhcpv4.OptDNS(server))
	resp.UpdateOption(dhcpv4.OptIPAddressLeaseTime(s.pool.leaseFor))
	return resp, nil
}

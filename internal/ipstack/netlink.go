package ipstack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/jsimonetti/rtnetlink"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"wlcmgr/internal/profile"
)

// Options tunes the kernel-backed stack
type Options struct {
	DHCPTimeout time.Duration
	ResolvConf  string
}

// Netlink configures interfaces through rtnetlink and runs DHCP with
// insomniacslk/dhcp
type Netlink struct {
	conn *rtnetlink.Conn
	opts Options

	mu      sync.Mutex
	handler func(Event)
	dhcp    map[string]context.CancelFunc
	session Session
	servers map[string]*dhcpServer
}

// NewNetlink dials rtnetlink
func NewNetlink(opts Options) (*Netlink, error) {
	if opts.DHCPTimeout <= 0 {
		opts.DHCPTimeout = 15 * time.Second
	}
	if opts.ResolvConf == "" {
		opts.ResolvConf = "/etc/resolv.conf"
	}
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rtnetlink: %w", err)
	}
	return &Netlink{
		conn:    conn,
		opts:    opts,
		dhcp:    make(map[string]context.CancelFunc),
		servers: make(map[string]*dhcpServer),
	}, nil
}

// Close stops DHCP activity and closes the netlink socket
func (n *Netlink) Close() error {
	n.mu.Lock()
	for iface, cancel := range n.dhcp {
		cancel()
		delete(n.dhcp, iface)
	}
	for iface, srv := range n.servers {
		srv.Close()
		delete(n.servers, iface)
	}
	n.mu.Unlock()
	return n.conn.Close()
}

// Subscribe sets the receiver of asynchronous events
func (n *Netlink) Subscribe(fn func(Event)) {
	n.mu.Lock()
	n.handler = fn
	n.mu.Unlock()
}

func (n *Netlink) emit(ev Event) {
	n.mu.Lock()
	fn := n.handler
	n.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (n *Netlink) index(iface string) (uint32, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return 0, fmt.Errorf("lookup %s: %w", iface, err)
	}
	return uint32(ifi.Index), nil
}

// Up sets IFF_UP on the interface
func (n *Netlink) Up(iface string) error {
	return n.setFlags(iface, unix.IFF_UP)
}

// Down clears IFF_UP on the interface
func (n *Netlink) Down(iface string) error {
	return n.setFlags(iface, 0)
}

func (n *Netlink) setFlags(iface string, flags uint32) error {
	idx, err := n.index(iface)
	if err != nil {
		return err
	}
	link, err := n.conn.Link.Get(idx)
	if err != nil {
		return fmt.Errorf("get link %s: %w", iface, err)
	}
	return n.conn.Link.Set(&rtnetlink.LinkMessage{
		Family: link.Family,
		Type:   link.Type,
		Index:  idx,
		Flags:  flags,
		Change: unix.IFF_UP,
	})
}

// ApplyStatic replaces the IPv4 configuration of iface
func (n *Netlink) ApplyStatic(iface string, cfg profile.IPConfig) error {
	if err := n.Flush(iface); err != nil {
		return err
	}
	idx, err := n.index(iface)
	if err != nil {
		return err
	}

	addr := cfg.Address.Addr()
	ip := net.IP(addr.AsSlice())
	err = n.conn.Address.New(&rtnetlink.AddressMessage{
		Family:       unix.AF_INET,
		PrefixLength: uint8(cfg.Address.Bits()),
		Scope:        unix.RT_SCOPE_UNIVERSE,
		Index:        idx,
		Attributes: &rtnetlink.AddressAttributes{
			Address:   ip,
			Local:     ip,
			Broadcast: broadcast(cfg.Address),
		},
	})
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", cfg.Address, iface, err)
	}

	if cfg.Gateway.IsValid() {
		err = n.conn.Route.Add(&rtnetlink.RouteMessage{
			Family:   unix.AF_INET,
			Table:    unix.RT_TABLE_MAIN,
			Protocol: unix.RTPROT_BOOT,
			Scope:    unix.RT_SCOPE_UNIVERSE,
			Type:     unix.RTN_UNICAST,
			Attributes: rtnetlink.RouteAttributes{
				Gateway:  net.IP(cfg.Gateway.AsSlice()),
				OutIface: idx,
			},
		})
		if err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("add default route via %s: %w", cfg.Gateway, err)
		}
	}

	if len(cfg.DNS) > 0 {
		if err := n.SetDNS(cfg.DNS); err != nil {
			logger.WithError(err).Warn("Failed to write resolver configuration")
		}
	}

	logger.WithFields(logrus.Fields{
		"iface":   iface,
		"address": cfg.Address,
		"gateway": cfg.Gateway,
	}).Info("Applied static address")
	return nil
}

// AttachBridge enslaves iface to bridge
func (n *Netlink) AttachBridge(iface, bridge string) error {
	idx, err := n.index(iface)
	if err != nil {
		return err
	}
	master, err := n.index(bridge)
	if err != nil {
		return err
	}
	link, err := n.conn.Link.Get(idx)
	if err != nil {
		return fmt.Errorf("get link %s: %w", iface, err)
	}
	return n.conn.Link.Set(&rtnetlink.LinkMessage{
		Family:     link.Family,
		Type:       link.Type,
		Index:      idx,
		Attributes: &rtnetlink.LinkAttributes{Master: &master},
	})
}

// Flush removes IPv4 addresses and routes bound to iface
func (n *Netlink) Flush(iface string) error {
	idx, err := n.index(iface)
	if err != nil {
		return err
	}

	routes, err := n.conn.Route.List()
	if err != nil {
		return fmt.Errorf("list routes: %w", err)
	}
	for _, r := range routes {
		if r.Family != unix.AF_INET || r.Attributes.OutIface != idx || r.Table != unix.RT_TABLE_MAIN {
			continue
		}
		r := r
		if err := n.conn.Route.Delete(&r); err != nil {
			logger.WithError(err).WithField("iface", iface).Debug("Failed to delete route")
		}
	}

	addrs, err := n.conn.Address.List()
	if err != nil {
		return fmt.Errorf("list addresses: %w", err)
	}
	for _, a := range addrs {
		if a.Family != unix.AF_INET || a.Index != idx {
			continue
		}
		a := a
		if err := n.conn.Address.Delete(&a); err != nil {
			return fmt.Errorf("delete address on %s: %w", iface, err)
		}
	}
	return nil
}

// Address returns the first IPv4 prefix on iface
func (n *Netlink) Address(iface string) (netip.Prefix, bool) {
	idx, err := n.index(iface)
	if err != nil {
		return netip.Prefix{}, false
	}
	addrs, err := n.conn.Address.List()
	if err != nil {
		return netip.Prefix{}, false
	}
	for _, a := range addrs {
		if a.Family != unix.AF_INET || a.Index != idx || a.Attributes == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.Attributes.Address.To4())
		if !ok {
			continue
		}
		return netip.PrefixFrom(ip, int(a.PrefixLength)), true
	}
	return netip.Prefix{}, false
}

// SetDNS rewrites the resolver configuration
func (n *Netlink) SetDNS(servers []netip.Addr) error {
	var b strings.Builder
	b.WriteString("# generated by wlcmgr\n")
	for _, s := range servers {
		fmt.Fprintf(&b, "nameserver %s\n", s)
	}
	return os.WriteFile(n.opts.ResolvConf, []byte(b.String()), 0o644)
}

// StartDHCP runs a DHCPv4 exchange in the background. The lease is applied to
// the interface before AddressAcquired is emitted and renewed at T1.
func (n *Netlink) StartDHCP(iface string) (Session, error) {
	n.mu.Lock()
	if cancel, ok := n.dhcp[iface]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.dhcp[iface] = cancel
	n.session++
	session := n.session
	n.mu.Unlock()

	go n.runDHCP(ctx, iface, session)
	return session, nil
}

// StopDHCP abandons any exchange or renewal loop on iface. A lease being
// installed when StopDHCP is called is complete once it returns.
func (n *Netlink) StopDHCP(iface string) {
	n.mu.Lock()
	if cancel, ok := n.dhcp[iface]; ok {
		cancel()
		delete(n.dhcp, iface)
	}
	n.mu.Unlock()
}

// applyLease installs cfg unless the exchange has been stopped. It holds
// mu so StopDHCP cannot return while the address is half installed.
func (n *Netlink) applyLease(ctx context.Context, iface string, cfg profile.IPConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.ApplyStatic(iface, cfg)
}

// emitLive delivers ev unless the exchange has been stopped
func (n *Netlink) emitLive(ctx context.Context, ev Event) {
	if ctx.Err() != nil {
		return
	}
	n.emit(ev)
}

func (n *Netlink) runDHCP(ctx context.Context, iface string, session Session) {
	client, err := nclient4.New(iface, nclient4.WithTimeout(n.opts.DHCPTimeout))
	if err != nil {
		n.emitLive(ctx, AddressFailed{Iface: iface, Session: session, Err: fmt.Errorf("dhcp client: %w", err)})
		return
	}
	defer client.Close()

	for {
		lease, err := client.Request(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.WithError(err).WithField("iface", iface).Warn("DHCP request failed")
			n.emitLive(ctx, AddressFailed{Iface: iface, Session: session, Err: err})
			return
		}

		acquired, cfg, ok := leaseConfig(iface, lease.ACK.YourIPAddr, lease.ACK.SubnetMask(), lease.ACK.Router(), lease.ACK.DNS())
		if !ok {
			n.emitLive(ctx, AddressFailed{Iface: iface, Session: session, Err: errors.New("dhcp lease carries no usable ipv4 address")})
			return
		}
		if err := n.applyLease(ctx, iface, cfg); err != nil {
			if ctx.Err() == nil {
				n.emit(AddressFailed{Iface: iface, Session: session, Err: err})
			}
			return
		}
		acquired.Session = session
		n.emitLive(ctx, acquired)

		t1 := lease.ACK.IPAddressLeaseTime(time.Hour) / 2
		logger.WithFields(logrus.Fields{
			"iface":   iface,
			"address": acquired.Prefix,
			"renew":   t1,
		}).Info("DHCP lease acquired")

		select {
		case <-ctx.Done():
			if err := client.Release(lease); err != nil {
				logger.WithError(err).WithField("iface", iface).Debug("DHCP release failed")
			}
			return
		case <-time.After(t1):
		}
	}
}

// leaseConfig converts DHCP options into an acquired event and the static
// configuration that installs it
func leaseConfig(iface string, yiaddr net.IP, mask net.IPMask, routers, dns []net.IP) (AddressAcquired, profile.IPConfig, bool) {
	addr, ok := netip.AddrFromSlice(yiaddr.To4())
	if !ok || addr.IsUnspecified() {
		return AddressAcquired{}, profile.IPConfig{}, false
	}
	bits := 24
	if mask != nil {
		bits, _ = mask.Size()
	}
	ev := AddressAcquired{Iface: iface, Prefix: netip.PrefixFrom(addr, bits)}
	if len(routers) > 0 {
		if gw, ok := netip.AddrFromSlice(routers[0].To4()); ok {
			ev.Gateway = gw
		}
	}
	for _, d := range dns {
		if a, ok := netip.AddrFromSlice(d.To4()); ok {
			ev.DNS = append(ev.DNS, a)
		}
	}
	return ev, profile.IPConfig{
		Type:    profile.AddrStatic,
		Address: ev.Prefix,
		Gateway: ev.Gateway,
		DNS:     ev.DNS,
	}, true
}

// StartDHCPServer serves leases from prefix to soft-AP clients on iface
func (n *Netlink) StartDHCPServer(iface string, prefix netip.Prefix) error {
	n.StopDHCPServer(iface)
	srv, err := newDHCPServer(iface, prefix)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.servers[iface] = srv
	n.mu.Unlock()
	return nil
}

// StopDHCPServer stops the soft-AP lease server on iface
func (n *Netlink) StopDHCPServer(iface string) {
	n.mu.Lock()
	srv, ok := n.servers[iface]
	delete(n.servers, iface)
	n.mu.Unlock()
	if ok {
		srv.Close()
	}
}

func broadcast(p netip.Prefix) net.IP {
	a := p.Masked().Addr().As4()
	host := uint32(1)<<(32-p.Bits()) - 1
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	v |= host
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

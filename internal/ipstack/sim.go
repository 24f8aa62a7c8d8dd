package ipstack

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"wlcmgr/internal/profile"
)

// ErrDHCPTimeout is reported by the simulated stack when DHCP is set to fail
var ErrDHCPTimeout = errors.New("dhcp: no offer received")

// Sim is an in-memory stack for the simulated daemon and tests. DHCP hands
// out addresses from a fixed subnet after a configurable delay.
type Sim struct {
	mu       sync.Mutex
	handler  func(Event)
	up       map[string]bool
	addrs    map[string]netip.Prefix
	bridges  map[string]string
	servers  map[string]netip.Prefix
	dhcpGen  map[string]int
	session  Session
	sessions map[string]Session
	dns      []netip.Addr
	calls    []string
	next     netip.Addr
	gateway  netip.Addr
	delay    time.Duration
	failDHCP bool
	failNext map[string]error
}

// NewSim creates a simulated stack leasing from 192.168.1.0/24
func NewSim() *Sim {
	return &Sim{
		up:       make(map[string]bool),
		addrs:    make(map[string]netip.Prefix),
		bridges:  make(map[string]string),
		servers:  make(map[string]netip.Prefix),
		dhcpGen:  make(map[string]int),
		sessions: make(map[string]Session),
		failNext: make(map[string]error),
		next:     netip.MustParseAddr("192.168.1.100"),
		gateway:  netip.MustParseAddr("192.168.1.1"),
		delay:    5 * time.Millisecond,
	}
}

// SetDHCPFailure makes every following DHCP exchange fail
func (s *Sim) SetDHCPFailure(fail bool) {
	s.mu.Lock()
	s.failDHCP = fail
	s.mu.Unlock()
}

// SetDHCPDelay changes how long a simulated DHCP exchange takes
func (s *Sim) SetDHCPDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// FailNext makes the next call of op return err
func (s *Sim) FailNext(op string, err error) {
	s.mu.Lock()
	s.failNext[op] = err
	s.mu.Unlock()
}

// Calls returns the operations performed so far
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// IsUp reports the simulated interface flag
func (s *Sim) IsUp(iface string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up[iface]
}

// DHCPServerRunning reports whether a lease server runs on iface
func (s *Sim) DHCPServerRunning(iface string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.servers[iface]
	return ok
}

func (s *Sim) record(op, iface string) error {
	s.calls = append(s.calls, op+" "+iface)
	if err, ok := s.failNext[op]; ok {
		delete(s.failNext, op)
		return err
	}
	return nil
}

func (s *Sim) Subscribe(fn func(Event)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *Sim) Up(iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("up", iface); err != nil {
		return err
	}
	s.up[iface] = true
	return nil
}

func (s *Sim) Down(iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("down", iface); err != nil {
		return err
	}
	s.up[iface] = false
	return nil
}

func (s *Sim) ApplyStatic(iface string, cfg profile.IPConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("static", iface); err != nil {
		return err
	}
	if !cfg.Address.IsValid() {
		return fmt.Errorf("no address for %s", iface)
	}
	s.addrs[iface] = cfg.Address
	if len(cfg.DNS) > 0 {
		s.dns = cfg.DNS
	}
	return nil
}

func (s *Sim) AttachBridge(iface, bridge string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("bridge", iface); err != nil {
		return err
	}
	s.bridges[iface] = bridge
	return nil
}

func (s *Sim) Flush(iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("flush", iface); err != nil {
		return err
	}
	delete(s.addrs, iface)
	delete(s.bridges, iface)
	return nil
}

func (s *Sim) SetDNS(servers []netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dns = servers
	return nil
}

func (s *Sim) Address(iface string) (netip.Prefix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.addrs[iface]
	return p, ok
}

// StartDHCP leases the next free address after the configured delay unless
// StopDHCP is called first
func (s *Sim) StartDHCP(iface string) (Session, error) {
	s.mu.Lock()
	if err := s.record("dhcp-start", iface); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.dhcpGen[iface]++
	gen := s.dhcpGen[iface]
	s.session++
	session := s.session
	s.sessions[iface] = session
	delay := s.delay
	s.mu.Unlock()

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.dhcpGen[iface] != gen {
			s.mu.Unlock()
			return
		}
		var ev Event
		if s.failDHCP {
			ev = AddressFailed{Iface: iface, Session: session, Err: ErrDHCPTimeout}
		} else {
			prefix := netip.PrefixFrom(s.next, 24)
			s.next = s.next.Next()
			s.addrs[iface] = prefix
			ev = AddressAcquired{Iface: iface, Session: session, Prefix: prefix, Gateway: s.gateway, DNS: []netip.Addr{s.gateway}}
		}
		fn := s.handler
		s.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	})
	return session, nil
}

// Session returns the session of the last StartDHCP on iface
func (s *Sim) Session(iface string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[iface]
}

// Inject delivers ev as if the stack had produced it
func (s *Sim) Inject(ev Event) {
	s.mu.Lock()
	fn := s.handler
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Sim) StopDHCP(iface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "dhcp-stop "+iface)
	s.dhcpGen[iface]++
}

func (s *Sim) StartDHCPServer(iface string, prefix netip.Prefix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("dhcpd-start", iface); err != nil {
		return err
	}
	s.servers[iface] = prefix
	return nil
}

func (s *Sim) StopDHCPServer(iface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "dhcpd-stop "+iface)
	delete(s.servers, iface)
}

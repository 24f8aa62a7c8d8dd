package ipstack

import (
	"net/netip"

	"github.com/sirupsen/logrus"

	"wlcmgr/internal/profile"
)

var logger = logrus.WithField("module", "ipstack")

// Event is an asynchronous notification from the IP stack
type Event interface {
	Kind() string
}

// Session identifies one StartDHCP call. Events carry the session that
// produced them so a consumer can drop results of an exchange it stopped.
type Session uint64

// AddressAcquired reports a completed DHCP exchange
type AddressAcquired struct {
	Iface   string
	Session Session
	Prefix  netip.Prefix
	Gateway netip.Addr
	DNS     []netip.Addr
}

// AddressFailed reports that DHCP gave up or a lease was lost
type AddressFailed struct {
	Iface   string
	Session Session
	Err     error
}

func (AddressAcquired) Kind() string { return "address-acquired" }
func (AddressFailed) Kind() string   { return "address-failed" }

// Stack is the host IP configuration surface used by the connection manager.
// StartDHCP returns immediately; the outcome arrives as an Event tagged with
// the returned session.
type Stack interface {
	Up(iface string) error
	Down(iface string) error
	ApplyStatic(iface string, cfg profile.IPConfig) error
	AttachBridge(iface, bridge string) error
	StartDHCP(iface string) (Session, error)
	StopDHCP(iface string)
	Flush(iface string) error
	SetDNS(servers []netip.Addr) error
	Address(iface string) (netip.Prefix, bool)
	StartDHCPServer(iface string, prefix netip.Prefix) error
	StopDHCPServer(iface string)
	Subscribe(fn func(Event))
}

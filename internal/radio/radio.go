package radio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"
)

// BSSID is the MAC address of a BSS
type BSSID [6]byte

// ParseBSSID parses a colon separated MAC address
func ParseBSSID(s string) (BSSID, error) {
	var b BSSID
	hw, err := net.ParseMAC(s)
	if err != nil {
		return b, fmt.Errorf("invalid bssid %q: %w", s, err)
	}
	if len(hw) != len(b) {
		return b, fmt.Errorf("invalid bssid %q: not an EUI-48 address", s)
	}
	copy(b[:], hw)
	return b, nil
}

func (b BSSID) String() string {
	return net.HardwareAddr(b[:]).String()
}

// IsZero reports whether the address is unset
func (b BSSID) IsZero() bool {
	return b == BSSID{}
}

// SecurityCaps is the set of security capabilities advertised by a BSS
type SecurityCaps uint16

const (
	CapWEP SecurityCaps = 1 << iota
	CapWPA
	CapWPA2
	CapSAE
	CapSAEExtKey
	CapOWE
	CapEAP
	CapPMFCapable
	CapPMFRequired
)

// Has reports whether all bits of o are set
func (c SecurityCaps) Has(o SecurityCaps) bool {
	return c&o == o
}

// Open reports whether the BSS advertises no security at all
func (c SecurityCaps) Open() bool {
	return c&(CapWEP|CapWPA|CapWPA2|CapSAE|CapSAEExtKey|CapOWE|CapEAP) == 0
}

var capNames = map[SecurityCaps]string{
	CapWEP: "wep", CapWPA: "wpa", CapWPA2: "wpa2", CapSAE: "sae", CapSAEExtKey: "sae-ext",
	CapOWE: "owe", CapEAP: "eap", CapPMFCapable: "pmf-capable", CapPMFRequired: "pmf-required",
}

// ParseSecurityCaps builds a capability set from names as printed by String
func ParseSecurityCaps(names []string) (SecurityCaps, error) {
	var c SecurityCaps
next:
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "open" {
			continue
		}
		for bit, name := range capNames {
			if name == n {
				c |= bit
				continue next
			}
		}
		return 0, fmt.Errorf("unknown security capability %q", n)
	}
	return c, nil
}

func (c SecurityCaps) String() string {
	names := []string{}
	for bit, name := range capNames {
		if c.Has(bit) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "open"
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

// VendorCaps holds optional protocol extension support of a BSS
type VendorCaps uint8

const (
	Cap11k VendorCaps = 1 << iota
	Cap11v
	Cap11r
	CapWPS
)

// Has reports whether all bits of o are set
func (c VendorCaps) Has(o VendorCaps) bool {
	return c&o == o
}

// OWETransition points an open BSS at its hidden OWE companion
type OWETransition struct {
	BSSID BSSID
	SSID  string
}

// ScanResult describes one BSS seen during a scan
type ScanResult struct {
	BSSID    BSSID
	SSID     string // empty for hidden networks
	Channel  int
	Security SecurityCaps
	Vendor   VendorCaps
	RSSI     int // dBm
	// Transition is set on open BSSes advertising an OWE transition element
	Transition *OWETransition
}

// Hidden reports whether the BSS does not broadcast its SSID
func (r ScanResult) Hidden() bool {
	return r.SSID == ""
}

// ScanRequest filters a scan. A zero request is a broadcast scan on every channel.
type ScanRequest struct {
	SSID     string // directed probe when set
	BSSID    BSSID
	Channels []int
}

// AssociateRequest carries everything the radio needs to join a BSS
type AssociateRequest struct {
	BSSID    BSSID
	SSID     string
	Channel  int
	Security SecurityCaps // negotiated class
	Key      string       // passphrase, PSK, SAE password or WEP key
	PMF      bool
	Identity string // EAP identity
	FT       bool
}

// PowerMode selects a radio power-save mechanism
type PowerMode uint8

const (
	PowerIEEE PowerMode = 1 << iota
	PowerDeepSleep
	PowerWNM
)

func (m PowerMode) String() string {
	switch m {
	case PowerIEEE:
		return "ieee"
	case PowerDeepSleep:
		return "deep-sleep"
	case PowerWNM:
		return "wnm"
	}
	return fmt.Sprintf("power(%d)", uint8(m))
}

// ParsePowerMode maps a mode name to a PowerMode
func ParsePowerMode(s string) (PowerMode, error) {
	for _, m := range []PowerMode{PowerIEEE, PowerDeepSleep, PowerWNM} {
		if m.String() == strings.ToLower(strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown power mode %q", s)
}

// WakeConditions is the host-sleep wake-up bitmap understood by the firmware
type WakeConditions uint32

const (
	WakeBroadcast    WakeConditions = 1 << 0
	WakeUnicast      WakeConditions = 1 << 1
	WakeMACEvent     WakeConditions = 1 << 2
	WakeMulticast    WakeConditions = 1 << 3
	WakeARPBroadcast WakeConditions = 1 << 4
	WakeMgmtFrame    WakeConditions = 1 << 6
)

var wakeNames = map[string]WakeConditions{
	"broadcast":     WakeBroadcast,
	"unicast":       WakeUnicast,
	"mac-event":     WakeMACEvent,
	"multicast":     WakeMulticast,
	"arp-broadcast": WakeARPBroadcast,
	"mgmt-frame":    WakeMgmtFrame,
}

// ParseWakeConditions builds a bitmap from condition names
func ParseWakeConditions(names []string) (WakeConditions, error) {
	var w WakeConditions
	for _, n := range names {
		bit, ok := wakeNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown wake condition %q", n)
		}
		w |= bit
	}
	return w, nil
}

// HostSleepRequest arms or cancels host-sleep in the firmware
type HostSleepRequest struct {
	Addr     netip.Addr
	Wake     WakeConditions
	Activate bool
}

// APConfig is the soft-AP start request
type APConfig struct {
	SSID         string
	Channel      int // 0 selects automatically
	BeaconPeriod int // TU
	Bandwidth    int // MHz
	Hidden       bool
	Security     SecurityCaps
	Key          string
	PMF          bool
}

// Radio is the command side of the firmware contract. Commands only report
// submission errors; outcomes arrive as events through the subscribed handler.
type Radio interface {
	Init(ctx context.Context) error
	FirmwareVersion() string
	Scan(req ScanRequest) error
	Associate(req AssociateRequest) error
	Deauthenticate(bssid BSSID) error
	SetPowerMode(mode PowerMode, enable bool) error
	ConfigureHostSleep(req HostSleepRequest) error
	StartAP(cfg APConfig) error
	StopAP() error
	RequestNeighborReport(ssid string) error
	Subscribe(fn func(Event))
}

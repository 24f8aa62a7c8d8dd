package profile

import (
	"fmt"
	"net/netip"
	"strings"

	"wlcmgr/internal/radio"
)

// Role tags a profile as a station or soft-AP configuration
type Role int

const (
	RoleStation Role = iota
	RoleAccessPoint
)

func (r Role) String() string {
	if r == RoleAccessPoint {
		return "ap"
	}
	return "station"
}

// ParseRole accepts "station"/"sta" and "ap"/"uap"
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "", "station", "sta":
		return RoleStation, nil
	case "ap", "uap", "access-point":
		return RoleAccessPoint, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// SecurityType is the security class a profile declares
type SecurityType int

const (
	SecurityNone SecurityType = iota
	SecurityWEPOpen
	SecurityWEPShared
	SecurityWPA
	SecurityWPA2
	SecurityWPAWPA2Mixed
	SecurityWPA2FT
	SecurityWPA3SAE
	SecurityWPA3SAEExtKey
	SecurityWPA2WPA3Mixed
	SecurityOWE
	SecurityEAPTLS
	// SecurityWildcard accepts whatever the strongest advertised class is
	SecurityWildcard
)

var securityNames = map[SecurityType]string{
	SecurityNone:          "none",
	SecurityWEPOpen:       "wep-open",
	SecurityWEPShared:     "wep-shared",
	SecurityWPA:           "wpa",
	SecurityWPA2:          "wpa2",
	SecurityWPAWPA2Mixed:  "wpa-wpa2",
	SecurityWPA2FT:        "wpa2-ft",
	SecurityWPA3SAE:       "wpa3-sae",
	SecurityWPA3SAEExtKey: "wpa3-sae-ext",
	SecurityWPA2WPA3Mixed: "wpa2-wpa3",
	SecurityOWE:           "owe",
	SecurityEAPTLS:        "eap-tls",
	SecurityWildcard:      "wildcard",
}

func (t SecurityType) String() string {
	if n, ok := securityNames[t]; ok {
		return n
	}
	return fmt.Sprintf("security(%d)", int(t))
}

// ParseSecurityType maps a configuration name to a SecurityType
func ParseSecurityType(s string) (SecurityType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "open" {
		return SecurityNone, nil
	}
	for t, n := range securityNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown security type %q", s)
}

// Caps returns the capability bits a BSS must advertise for this class
func (t SecurityType) Caps() radio.SecurityCaps {
	switch t {
	case SecurityWEPOpen, SecurityWEPShared:
		return radio.CapWEP
	case SecurityWPA:
		return radio.CapWPA
	case SecurityWPA2, SecurityWPA2FT:
		return radio.CapWPA2
	case SecurityWPA3SAE:
		return radio.CapSAE
	case SecurityWPA3SAEExtKey:
		return radio.CapSAEExtKey
	case SecurityOWE:
		return radio.CapOWE
	case SecurityEAPTLS:
		return radio.CapEAP
	}
	return 0
}

// Cipher is a bitmask of pairwise/group cipher suites
type Cipher uint8

const (
	CipherCCMP Cipher = 1 << iota
	CipherTKIP
	CipherGCMP
)

// EAPConfig holds EAP-TLS identity and PEM material
type EAPConfig struct {
	Identity   string
	CACert     []byte
	ClientCert []byte
	ClientKey  []byte
	KeyPass    string
}

// Security describes the credentials and protection a profile requires
type Security struct {
	Type        SecurityType
	Pairwise    Cipher
	Group       Cipher
	Passphrase  string // WPA/WPA2 passphrase or 64 hex PSK
	Password    string // SAE password
	WEPKey      string
	PMFCapable  bool
	PMFRequired bool
	EAP         *EAPConfig
}

// Key returns the key material the radio needs for the negotiated class
func (s Security) Key(negotiated SecurityType) string {
	switch negotiated {
	case SecurityWEPOpen, SecurityWEPShared:
		return s.WEPKey
	case SecurityWPA3SAE, SecurityWPA3SAEExtKey:
		if s.Password != "" {
			return s.Password
		}
	}
	return s.Passphrase
}

// AddrType selects how the interface is addressed
type AddrType int

const (
	AddrDHCP AddrType = iota
	AddrStatic
	AddrBridge
)

func (a AddrType) String() string {
	switch a {
	case AddrStatic:
		return "static"
	case AddrBridge:
		return "bridge"
	}
	return "dhcp"
}

// ParseAddrType maps a configuration name to an AddrType
func ParseAddrType(s string) (AddrType, error) {
	switch strings.ToLower(s) {
	case "", "dhcp", "dynamic":
		return AddrDHCP, nil
	case "static":
		return AddrStatic, nil
	case "bridge":
		return AddrBridge, nil
	}
	return 0, fmt.Errorf("unknown address type %q", s)
}

// IPConfig is the address configuration applied once the link is up
type IPConfig struct {
	Type    AddrType
	Address netip.Prefix
	Gateway netip.Addr
	DNS     []netip.Addr
	Bridge  string
}

// Profile is a named network configuration
type Profile struct {
	Name    string
	Role    Role
	SSID    string
	BSSID   radio.BSSID
	Channel int
	// Specific flags are fixed when the profile is added. Unset fields are
	// wildcards and get filled from the matched scan result.
	SSIDSpecific    bool
	BSSIDSpecific   bool
	ChannelSpecific bool
	Hidden          bool
	Security        Security
	IP              IPConfig
}

// Resolve fills wildcard fields from the chosen BSS
func (p Profile) Resolve(r radio.ScanResult) Profile {
	if !p.SSIDSpecific && r.SSID != "" {
		p.SSID = r.SSID
	}
	if !p.BSSIDSpecific {
		p.BSSID = r.BSSID
	}
	if !p.ChannelSpecific {
		p.Channel = r.Channel
	}
	return p
}

// Reset clears the fields filled by Resolve
func (p Profile) Reset() Profile {
	if !p.SSIDSpecific {
		p.SSID = ""
	}
	if !p.BSSIDSpecific {
		p.BSSID = radio.BSSID{}
	}
	if !p.ChannelSpecific {
		p.Channel = 0
	}
	return p
}

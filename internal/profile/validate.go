package profile

import (
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	MaxNameLen       = 32
	MaxSSIDLen       = 32
	MinPassphraseLen = 8
	MaxPassphraseLen = 63
	PSKHexLen        = 64
	MaxPasswordLen   = 255
)

var (
	ErrInvalidName     = errors.New("invalid network name")
	ErrInvalidSSID     = errors.New("invalid ssid")
	ErrInvalidSecurity = errors.New("invalid security configuration")
	ErrInvalidAddress  = errors.New("invalid ip configuration")
	ErrUnsupported     = errors.New("security type not supported")
)

// Options gates validation on resolved capabilities
type Options struct {
	SAE        bool
	OWE        bool
	Enterprise bool
}

// Validate checks a profile before it enters the store
func Validate(p Profile, opts Options) error {
	if l := len(p.Name); l == 0 || l > MaxNameLen {
		return fmt.Errorf("%w: length %d", ErrInvalidName, l)
	}
	if len(p.SSID) > MaxSSIDLen {
		return fmt.Errorf("%w: length %d", ErrInvalidSSID, len(p.SSID))
	}

	switch p.Role {
	case RoleStation:
		if p.SSID == "" && p.BSSID.IsZero() {
			return fmt.Errorf("%w: station profile needs an ssid or bssid", ErrInvalidSSID)
		}
		if p.Hidden && p.SSID == "" {
			return fmt.Errorf("%w: hidden network needs an ssid", ErrInvalidSSID)
		}
	case RoleAccessPoint:
		if p.SSID == "" {
			return fmt.Errorf("%w: ap profile needs an ssid", ErrInvalidSSID)
		}
	}

	if err := validateSecurity(p.Role, p.Security, opts); err != nil {
		return err
	}
	return validateIP(p.Role, p.IP)
}

func validateSecurity(role Role, s Security, opts Options) error {
	switch s.Type {
	case SecurityNone, SecurityWildcard:
		if s.Type == SecurityWildcard && role == RoleAccessPoint {
			return fmt.Errorf("%w: wildcard security on an ap", ErrInvalidSecurity)
		}
	case SecurityWEPOpen, SecurityWEPShared:
		if role == RoleAccessPoint {
			return fmt.Errorf("%w: wep is not allowed on an ap", ErrUnsupported)
		}
		if !validWEPKey(s.WEPKey) {
			return fmt.Errorf("%w: wep key must be 5/13 characters or 10/26 hex digits", ErrInvalidSecurity)
		}
	case SecurityWPA, SecurityWPA2, SecurityWPAWPA2Mixed, SecurityWPA2FT:
		if !validPassphrase(s.Passphrase) {
			return fmt.Errorf("%w: passphrase must be %d..%d characters or a %d digit hex psk",
				ErrInvalidSecurity, MinPassphraseLen, MaxPassphraseLen, PSKHexLen)
		}
		if s.PMFRequired && !s.PMFCapable {
			return fmt.Errorf("%w: pmf required implies pmf capable", ErrInvalidSecurity)
		}
	case SecurityWPA3SAE, SecurityWPA3SAEExtKey:
		if !opts.SAE {
			return fmt.Errorf("%w: %s", ErrUnsupported, s.Type)
		}
		pw := s.Password
		if pw == "" {
			pw = s.Passphrase
		}
		if l := len(pw); l < MinPassphraseLen || l > MaxPasswordLen {
			return fmt.Errorf("%w: sae password must be %d..%d characters", ErrInvalidSecurity, MinPassphraseLen, MaxPasswordLen)
		}
		if !s.PMFCapable {
			return fmt.Errorf("%w: sae requires pmf capable", ErrInvalidSecurity)
		}
	case SecurityWPA2WPA3Mixed:
		if !opts.SAE {
			return fmt.Errorf("%w: %s", ErrUnsupported, s.Type)
		}
		if l := len(s.Passphrase); l < MinPassphraseLen || l > MaxPassphraseLen {
			return fmt.Errorf("%w: passphrase must be %d..%d characters", ErrInvalidSecurity, MinPassphraseLen, MaxPassphraseLen)
		}
		if !s.PMFCapable {
			return fmt.Errorf("%w: wpa3 transition requires pmf capable", ErrInvalidSecurity)
		}
	case SecurityOWE:
		if !opts.OWE {
			return fmt.Errorf("%w: %s", ErrUnsupported, s.Type)
		}
	case SecurityEAPTLS:
		if role == RoleAccessPoint {
			return fmt.Errorf("%w: enterprise security on an ap", ErrUnsupported)
		}
		if !opts.Enterprise {
			return fmt.Errorf("%w: %s", ErrUnsupported, s.Type)
		}
		e := s.EAP
		if e == nil || e.Identity == "" || len(e.CACert) == 0 || len(e.ClientCert) == 0 || len(e.ClientKey) == 0 {
			return fmt.Errorf("%w: eap-tls needs identity, ca cert, client cert and key", ErrInvalidSecurity)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSecurity, s.Type)
	}
	return nil
}

func validPassphrase(p string) bool {
	if len(p) == PSKHexLen {
		_, err := hex.DecodeString(p)
		return err == nil
	}
	return len(p) >= MinPassphraseLen && len(p) <= MaxPassphraseLen
}

func validWEPKey(k string) bool {
	switch len(k) {
	case 5, 13:
		return true
	case 10, 26:
		_, err := hex.DecodeString(k)
		return err == nil
	}
	return false
}

func validateIP(role Role, ip IPConfig) error {
	switch ip.Type {
	case AddrDHCP:
		if role == RoleAccessPoint {
			return fmt.Errorf("%w: ap cannot use dhcp", ErrInvalidAddress)
		}
	case AddrStatic:
		if !ip.Address.IsValid() || !ip.Address.Addr().Is4() {
			return fmt.Errorf("%w: static mode needs an ipv4 prefix", ErrInvalidAddress)
		}
		if ip.Gateway.IsValid() && !ip.Address.Masked().Contains(ip.Gateway) {
			return fmt.Errorf("%w: gateway %s outside %s", ErrInvalidAddress, ip.Gateway, ip.Address)
		}
	case AddrBridge:
		if role == RoleStation {
			return fmt.Errorf("%w: station cannot use bridge mode", ErrInvalidAddress)
		}
		if ip.Bridge == "" {
			return fmt.Errorf("%w: bridge mode needs a bridge interface", ErrInvalidAddress)
		}
	default:
		return fmt.Errorf("%w: type %d", ErrInvalidAddress, ip.Type)
	}
	return nil
}

package config

import (
	"fmt"
	"net/netip"
	"os"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
)

// NetworkConfig is a profile as written in the configuration file or
// received over the API
type NetworkConfig struct {
	Name     string         `yaml:"name"`
	Role     string         `yaml:"role"`
	SSID     string         `yaml:"ssid"`
	BSSID    string         `yaml:"bssid"`
	Channel  int            `yaml:"channel"`
	Hidden   bool           `yaml:"hidden"`
	Security SecurityConfig `yaml:"security"`
	IP       IPConfig       `yaml:"ip"`
}

// SecurityConfig holds the credentials of a network
type SecurityConfig struct {
	Type        string     `yaml:"type"`
	Passphrase  string     `yaml:"passphrase"`
	Password    string     `yaml:"password"`
	WEPKey      string     `yaml:"wepKey"`
	PMFCapable  bool       `yaml:"pmfCapable"`
	PMFRequired bool       `yaml:"pmfRequired"`
	EAP         *EAPConfig `yaml:"eap"`
}

// EAPConfig points at PEM files for EAP-TLS
type EAPConfig struct {
	Identity   string `yaml:"identity"`
	CACert     string `yaml:"caCert"`
	ClientCert string `yaml:"clientCert"`
	ClientKey  string `yaml:"clientKey"`
	KeyPass    string `yaml:"keyPassword"`
}

// IPConfig is the address configuration of a network
type IPConfig struct {
	Type    string   `yaml:"type"`
	Address string   `yaml:"address"` // CIDR
	Gateway string   `yaml:"gateway"`
	DNS     []string `yaml:"dns"`
	Bridge  string   `yaml:"bridge"`
}

// Profile converts the configuration into a profile. Semantic validation
// happens when the profile is added to the store.
func (n NetworkConfig) Profile() (profile.Profile, error) {
	p := profile.Profile{
		Name:    n.Name,
		SSID:    n.SSID,
		Channel: n.Channel,
		Hidden:  n.Hidden,
	}

	var err error
	if p.Role, err = profile.ParseRole(n.Role); err != nil {
		return p, err
	}
	if n.BSSID != "" {
		if p.BSSID, err = radio.ParseBSSID(n.BSSID); err != nil {
			return p, err
		}
	}

	sec := profile.Security{
		Passphrase:  n.Security.Passphrase,
		Password:    n.Security.Password,
		WEPKey:      n.Security.WEPKey,
		PMFCapable:  n.Security.PMFCapable,
		PMFRequired: n.Security.PMFRequired,
	}
	if sec.Type, err = profile.ParseSecurityType(n.Security.Type); err != nil {
		return p, err
	}
	if e := n.Security.EAP; e != nil {
		if sec.EAP, err = e.load(); err != nil {
			return p, err
		}
	}
	p.Security = sec

	if p.IP, err = n.IP.parse(); err != nil {
		return p, err
	}
	return p, nil
}

func (e EAPConfig) load() (*profile.EAPConfig, error) {
	out := &profile.EAPConfig{Identity: e.Identity, KeyPass: e.KeyPass}
	for _, f := range []struct {
		path string
		dst  *[]byte
	}{
		{e.CACert, &out.CACert},
		{e.ClientCert, &out.ClientCert},
		{e.ClientKey, &out.ClientKey},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read eap material: %w", err)
		}
		*f.dst = data
	}
	return out, nil
}

func (c IPConfig) parse() (profile.IPConfig, error) {
	var out profile.IPConfig
	var err error

	if out.Type, err = profile.ParseAddrType(c.Type); err != nil {
		return out, err
	}
	out.Bridge = c.Bridge
	if c.Address != "" {
		if out.Address, err = netip.ParsePrefix(c.Address); err != nil {
			return out, fmt.Errorf("invalid address %q: %w", c.Address, err)
		}
	}
	if c.Gateway != "" {
		if out.Gateway, err = netip.ParseAddr(c.Gateway); err != nil {
			return out, fmt.Errorf("invalid gateway %q: %w", c.Gateway, err)
		}
	}
	for _, d := range c.DNS {
		a, err := netip.ParseAddr(d)
		if err != nil {
			return out, fmt.Errorf("invalid dns server %q: %w", d, err)
		}
		out.DNS = append(out.DNS, a)
	}
	return out, nil
}

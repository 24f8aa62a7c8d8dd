package profile

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/radio"
)

var allOpts = Options{SAE: true, OWE: true, Enterprise: true}

func wpa2Station(name string) Profile {
	return Profile{
		Name:     name,
		Role:     RoleStation,
		SSID:     name,
		Security: Security{Type: SecurityWPA2, Passphrase: "correct horse"},
	}
}

func TestValidate(t *testing.T) {
	apStatic := IPConfig{Type: AddrStatic, Address: netip.MustParsePrefix("192.168.10.1/24")}

	tests := []struct {
		name    string
		mutate  func(p *Profile)
		opts    Options
		wantErr error
	}{
		{"valid wpa2", func(p *Profile) {}, allOpts, nil},
		{"empty name", func(p *Profile) { p.Name = "" }, allOpts, ErrInvalidName},
		{"long name", func(p *Profile) { p.Name = strings.Repeat("n", 33) }, allOpts, ErrInvalidName},
		{"long ssid", func(p *Profile) { p.SSID = strings.Repeat("s", 33) }, allOpts, ErrInvalidSSID},
		{"no ssid or bssid", func(p *Profile) { p.SSID = "" }, allOpts, ErrInvalidSSID},
		{"short passphrase", func(p *Profile) { p.Security.Passphrase = "short" }, allOpts, ErrInvalidSecurity},
		{"hex psk", func(p *Profile) { p.Security.Passphrase = strings.Repeat("ab", 32) }, allOpts, nil},
		{"bad hex psk", func(p *Profile) { p.Security.Passphrase = strings.Repeat("zz", 32) }, allOpts, ErrInvalidSecurity},
		{"sae without pmf", func(p *Profile) {
			p.Security = Security{Type: SecurityWPA3SAE, Password: "saepassword"}
		}, allOpts, ErrInvalidSecurity},
		{"sae with pmf", func(p *Profile) {
			p.Security = Security{Type: SecurityWPA3SAE, Password: "saepassword", PMFCapable: true}
		}, allOpts, nil},
		{"sae unsupported", func(p *Profile) {
			p.Security = Security{Type: SecurityWPA3SAE, Password: "saepassword", PMFCapable: true}
		}, Options{}, ErrUnsupported},
		{"wep 13 chars", func(p *Profile) {
			p.Security = Security{Type: SecurityWEPOpen, WEPKey: "abcdefghijklm"}
		}, allOpts, nil},
		{"wep bad length", func(p *Profile) {
			p.Security = Security{Type: SecurityWEPShared, WEPKey: "abc"}
		}, allOpts, ErrInvalidSecurity},
		{"eap without certs", func(p *Profile) {
			p.Security = Security{Type: SecurityEAPTLS, EAP: &EAPConfig{Identity: "user"}}
		}, allOpts, ErrInvalidSecurity},
		{"eap not enabled", func(p *Profile) {
			p.Security = Security{Type: SecurityEAPTLS, EAP: &EAPConfig{
				Identity: "user", CACert: []byte("ca"), ClientCert: []byte("c"), ClientKey: []byte("k"),
			}}
		}, Options{SAE: true}, ErrUnsupported},
		{"station bridge", func(p *Profile) { p.IP = IPConfig{Type: AddrBridge, Bridge: "br0"} }, allOpts, ErrInvalidAddress},
		{"static gateway outside prefix", func(p *Profile) {
			p.IP = IPConfig{Type: AddrStatic, Address: netip.MustParsePrefix("10.0.0.5/24"), Gateway: netip.MustParseAddr("10.0.1.1")}
		}, allOpts, ErrInvalidAddress},
		{"ap without ssid", func(p *Profile) { p.Role = RoleAccessPoint; p.SSID = ""; p.IP = apStatic }, allOpts, ErrInvalidSSID},
		{"ap with dhcp", func(p *Profile) { p.Role = RoleAccessPoint }, allOpts, ErrInvalidAddress},
		{"ap with wep", func(p *Profile) {
			p.Role = RoleAccessPoint
			p.IP = apStatic
			p.Security = Security{Type: SecurityWEPOpen, WEPKey: "abcde"}
		}, allOpts, ErrUnsupported},
		{"ap static", func(p *Profile) { p.Role = RoleAccessPoint; p.IP = apStatic }, allOpts, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := wpa2Station("home")
			tt.mutate(&p)
			err := Validate(p, tt.opts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore(2, allOpts)

	require.NoError(t, s.Add(wpa2Station("home")))
	assert.ErrorIs(t, s.Add(wpa2Station("home")), ErrDuplicate)
	require.NoError(t, s.Add(wpa2Station("office")))
	assert.ErrorIs(t, s.Add(wpa2Station("cafe")), ErrFull)

	p, ok := s.Get("home")
	require.True(t, ok)
	assert.True(t, p.SSIDSpecific)
	assert.False(t, p.BSSIDSpecific)
	assert.False(t, p.ChannelSpecific)

	names := []string{}
	for _, p := range s.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"home", "office"}, names)

	require.NoError(t, s.Remove("home"))
	assert.ErrorIs(t, s.Remove("home"), ErrNotFound)
	assert.Equal(t, 1, s.Len())
}

func TestResolveAndReset(t *testing.T) {
	bssid, err := radio.ParseBSSID("02:00:00:00:00:01")
	require.NoError(t, err)

	p := wpa2Station("home")
	p.SSIDSpecific = true
	r := radio.ScanResult{BSSID: bssid, SSID: "home", Channel: 11}

	resolved := p.Resolve(r)
	assert.Equal(t, bssid, resolved.BSSID)
	assert.Equal(t, 11, resolved.Channel)
	assert.Equal(t, "home", resolved.SSID)

	reset := resolved.Reset()
	assert.True(t, reset.BSSID.IsZero())
	assert.Zero(t, reset.Channel)
	assert.Equal(t, "home", reset.SSID)
}

func TestSecurityKey(t *testing.T) {
	s := Security{Passphrase: "passphrase", Password: "sae-secret", WEPKey: "abcde"}
	assert.Equal(t, "passphrase", s.Key(SecurityWPA2))
	assert.Equal(t, "sae-secret", s.Key(SecurityWPA3SAE))
	assert.Equal(t, "abcde", s.Key(SecurityWEPOpen))
}

package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
)

func bssid(t *testing.T, s string) radio.BSSID {
	t.Helper()
	b, err := radio.ParseBSSID(s)
	require.NoError(t, err)
	return b
}

func station(ssid string, sec profile.SecurityType) profile.Profile {
	return profile.Profile{
		Name:         ssid,
		Role:         profile.RoleStation,
		SSID:         ssid,
		SSIDSpecific: true,
		Security:     profile.Security{Type: sec, Passphrase: "passphrase", PMFCapable: true},
	}
}

func TestPermitSingleHolder(t *testing.T) {
	p := NewPermit()
	require.True(t, p.TryAcquire())
	assert.True(t, p.Held())
	assert.False(t, p.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Acquire(ctx))

	p.Release()
	assert.False(t, p.Held())
	require.NoError(t, p.Acquire(context.Background()))
	p.Release()

	acq, rel := p.Counts()
	assert.Equal(t, uint64(2), acq)
	assert.Equal(t, acq, rel)
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name string
		sec  profile.Security
		caps radio.SecurityCaps
		want profile.SecurityType
		ok   bool
	}{
		{"open to open", profile.Security{Type: profile.SecurityNone}, 0, profile.SecurityNone, true},
		{"open to wpa2", profile.Security{Type: profile.SecurityNone}, radio.CapWPA2, 0, false},
		{"wpa2 to wpa2", profile.Security{Type: profile.SecurityWPA2}, radio.CapWPA2, profile.SecurityWPA2, true},
		{"wpa2 to wpa", profile.Security{Type: profile.SecurityWPA2}, radio.CapWPA, 0, false},
		{"wpa2 to transition ap", profile.Security{Type: profile.SecurityWPA2}, radio.CapWPA2 | radio.CapSAE | radio.CapPMFCapable, profile.SecurityWPA2, true},
		{"mixed prefers wpa2", profile.Security{Type: profile.SecurityWPAWPA2Mixed}, radio.CapWPA | radio.CapWPA2, profile.SecurityWPA2, true},
		{"sae needs pmf on ap", profile.Security{Type: profile.SecurityWPA3SAE, PMFCapable: true}, radio.CapSAE, 0, false},
		{"sae", profile.Security{Type: profile.SecurityWPA3SAE, PMFCapable: true}, radio.CapSAE | radio.CapPMFCapable | radio.CapPMFRequired, profile.SecurityWPA3SAE, true},
		{"pmf required by ap", profile.Security{Type: profile.SecurityWPA2}, radio.CapWPA2 | radio.CapPMFCapable | radio.CapPMFRequired, 0, false},
		{"pmf required by profile", profile.Security{Type: profile.SecurityWPA2, PMFCapable: true, PMFRequired: true}, radio.CapWPA2, 0, false},
		{"wildcard sae+wpa2", profile.Security{Type: profile.SecurityWildcard}, radio.CapWPA2 | radio.CapSAE | radio.CapPMFCapable, profile.SecurityWPA3SAE, true},
		{"wildcard wpa2 over wpa", profile.Security{Type: profile.SecurityWildcard}, radio.CapWPA | radio.CapWPA2, profile.SecurityWPA2, true},
		{"wildcard wep", profile.Security{Type: profile.SecurityWildcard}, radio.CapWEP, profile.SecurityWEPOpen, true},
		{"wildcard open", profile.Security{Type: profile.SecurityWildcard}, 0, profile.SecurityNone, true},
		{"wildcard eap only", profile.Security{Type: profile.SecurityWildcard}, radio.CapEAP, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Negotiate(tt.sec, tt.caps)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSelectHighestRSSI(t *testing.T) {
	a := bssid(t, "02:00:00:00:00:0a")
	b := bssid(t, "02:00:00:00:00:0b")
	c := bssid(t, "02:00:00:00:00:0c")
	results := []radio.ScanResult{
		{BSSID: a, SSID: "home", Channel: 1, Security: radio.CapWPA2, RSSI: -70},
		{BSSID: b, SSID: "home", Channel: 6, Security: radio.CapWPA2, RSSI: -45},
		{BSSID: c, SSID: "other", Channel: 11, Security: radio.CapWPA2, RSSI: -30},
	}

	cand, ok := Select(station("home", profile.SecurityWPA2), results, Preference{})
	require.True(t, ok)
	assert.Equal(t, b, cand.Result.BSSID)

	cand, ok = Select(station("home", profile.SecurityWPA2), results, Preference{Hint: a})
	require.True(t, ok)
	assert.Equal(t, a, cand.Result.BSSID, "hint wins over signal")

	cand, ok = Select(station("home", profile.SecurityWPA2), results, Preference{Avoid: b})
	require.True(t, ok)
	assert.Equal(t, a, cand.Result.BSSID)

	_, ok = Select(station("missing", profile.SecurityWPA2), results, Preference{})
	assert.False(t, ok)
}

func TestSelectSpecificChannelAndBSSID(t *testing.T) {
	a := bssid(t, "02:00:00:00:00:0a")
	b := bssid(t, "02:00:00:00:00:0b")
	results := []radio.ScanResult{
		{BSSID: a, SSID: "home", Channel: 1, Security: radio.CapWPA2, RSSI: -40},
		{BSSID: b, SSID: "home", Channel: 6, Security: radio.CapWPA2, RSSI: -80},
	}

	p := station("home", profile.SecurityWPA2)
	p.Channel, p.ChannelSpecific = 6, true
	cand, ok := Select(p, results, Preference{})
	require.True(t, ok)
	assert.Equal(t, b, cand.Result.BSSID)

	p = station("home", profile.SecurityWPA2)
	p.BSSID, p.BSSIDSpecific = a, true
	cand, ok = Select(p, results, Preference{})
	require.True(t, ok)
	assert.Equal(t, a, cand.Result.BSSID)
	assert.Equal(t, []int(nil), Request(p).Channels)
	assert.Equal(t, a, Request(p).BSSID)
}

func TestSelectFT(t *testing.T) {
	a := bssid(t, "02:00:00:00:00:0a")
	results := []radio.ScanResult{{BSSID: a, SSID: "corp", Security: radio.CapWPA2, RSSI: -50}}
	_, ok := Select(station("corp", profile.SecurityWPA2FT), results, Preference{})
	assert.False(t, ok)

	results[0].Vendor = radio.Cap11r
	_, ok = Select(station("corp", profile.SecurityWPA2FT), results, Preference{})
	assert.True(t, ok)
}

func TestOWETransition(t *testing.T) {
	open := bssid(t, "02:00:00:00:00:01")
	owe := bssid(t, "02:00:00:00:00:02")
	results := []radio.ScanResult{
		{BSSID: open, SSID: "cafe", Channel: 36, RSSI: -50,
			Transition: &radio.OWETransition{BSSID: owe, SSID: "cafe-owe"}},
		{BSSID: owe, Channel: 36, Security: radio.CapOWE | radio.CapPMFCapable | radio.CapPMFRequired, RSSI: -52},
	}

	p := station("cafe", profile.SecurityOWE)
	cand, ok := Select(p, results, Preference{})
	require.True(t, ok)
	assert.Equal(t, owe, cand.Result.BSSID)
	assert.Equal(t, "cafe-owe", cand.Result.SSID)
	assert.Equal(t, profile.SecurityOWE, cand.Security)

	cand, ok = Select(station("cafe", profile.SecurityNone), results, Preference{})
	require.True(t, ok)
	assert.Equal(t, open, cand.Result.BSSID, "open profile joins the open side")
}

func TestHiddenProbe(t *testing.T) {
	results := []radio.ScanResult{
		{SSID: "", Channel: 11},
		{SSID: "visible", Channel: 1},
		{SSID: "", Channel: 6},
		{SSID: "", Channel: 11},
	}

	p := station("secret", profile.SecurityWPA2)
	_, ok := HiddenProbe(p, results)
	assert.False(t, ok, "non-hidden profiles never probe")

	p.Hidden = true
	req, ok := HiddenProbe(p, results)
	require.True(t, ok)
	assert.Equal(t, "secret", req.SSID)
	assert.Equal(t, []int{6, 11}, req.Channels)

	p.Channel, p.ChannelSpecific = 3, true
	req, ok = HiddenProbe(p, results)
	require.True(t, ok)
	assert.Equal(t, []int{3}, req.Channels)
}

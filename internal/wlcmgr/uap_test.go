package wlcmgr

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
)

func apProfile() profile.Profile {
	return profile.Profile{
		Name:     "hotspot",
		Role:     profile.RoleAccessPoint,
		SSID:     "hotspot",
		Channel:  11,
		Security: profile.Security{Type: profile.SecurityWPA2, Passphrase: passphrase},
		IP: profile.IPConfig{
			Type:    profile.AddrStatic,
			Address: netip.MustParsePrefix("192.168.50.1/24"),
		},
	}
}

func (h *harness) startAP(name string) {
	h.t.Helper()
	require.NoError(h.t, h.mgr.StartNetwork(h.ctx, name))
	h.expect(ReasonUapSuccess)
	h.waitAP(state.APIPUp)
}

func TestStartStopNetwork(t *testing.T) {
	h := newHarness(t, nil)
	h.add(apProfile())
	h.startAP("hotspot")

	s := h.mgr.State()
	assert.Equal(t, "hotspot", s.APNetwork)
	assert.Equal(t, "hotspot", s.APSSID)
	assert.Equal(t, 11, s.APChannel)
	assert.Equal(t, "192.168.50.1/24", s.APAddress)
	assert.True(t, h.ip.IsUp("uap0"))
	assert.True(t, h.ip.DHCPServerRunning("uap0"))
	assert.Equal(t, radio.CapWPA2, h.radio.LastAPConfig().Security)

	assert.ErrorIs(t, h.mgr.StartNetwork(h.ctx, "hotspot"), ErrInvalidProfile)
	assert.ErrorIs(t, h.mgr.SetAPOverrides(h.ctx, APOverrides{BeaconPeriod: 200}), ErrState)
	assert.ErrorIs(t, h.mgr.StopNetwork(h.ctx, "other"), ErrInvalidProfile)

	require.NoError(t, h.mgr.StopNetwork(h.ctx, "hotspot"))
	h.expect(ReasonUapStopped)
	h.waitAP(state.APInitializing)
	assert.False(t, h.ip.DHCPServerRunning("uap0"))
	assert.False(t, h.ip.IsUp("uap0"))
	assert.Equal(t, "", h.mgr.State().APNetwork)

	assert.ErrorIs(t, h.mgr.StopNetwork(h.ctx, "hotspot"), ErrState)
}

func TestStartNetworkWrongRole(t *testing.T) {
	h := newHarness(t, nil)
	h.add(homeProfile())
	assert.ErrorIs(t, h.mgr.StartNetwork(h.ctx, "home"), ErrInvalidProfile)
	assert.ErrorIs(t, h.mgr.StartNetwork(h.ctx, "missing"), ErrInvalidProfile)
	assert.Equal(t, state.APInitializing, h.mgr.GetUapConnectionState())
}

func TestStartNetworkChannelNotAllowed(t *testing.T) {
	h := newHarness(t, nil)
	p := apProfile()
	p.Channel = 12
	h.add(p)

	assert.ErrorIs(t, h.mgr.StartNetwork(h.ctx, "hotspot"), ErrChannelNotAllowed)
	h.expect(ReasonUapStartFailed)
	assert.Equal(t, state.APInitializing, h.mgr.GetUapConnectionState())
	assert.Equal(t, 0, h.radio.Count("start-ap"))

	assert.ErrorIs(t, h.mgr.SetAPOverrides(h.ctx, APOverrides{Channel: 12}), ErrChannelNotAllowed)
}

func TestAPOverridesResetAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	h.add(apProfile())

	require.NoError(t, h.mgr.SetAPOverrides(h.ctx, APOverrides{Channel: 1, BeaconPeriod: 200, Hidden: true}))
	h.startAP("hotspot")
	cfg := h.radio.LastAPConfig()
	assert.Equal(t, 1, cfg.Channel)
	assert.Equal(t, 200, cfg.BeaconPeriod)
	assert.Equal(t, 40, cfg.Bandwidth)
	assert.True(t, cfg.Hidden)

	require.NoError(t, h.mgr.StopNetwork(h.ctx, "hotspot"))
	h.expect(ReasonUapStopped)

	h.startAP("hotspot")
	cfg = h.radio.LastAPConfig()
	assert.Equal(t, 11, cfg.Channel)
	assert.Equal(t, 100, cfg.BeaconPeriod)
	assert.False(t, cfg.Hidden)
}

func TestAPFollowsStationChannel(t *testing.T) {
	h := newHarness(t, nil)
	h.connectHome()
	h.add(apProfile())
	h.startAP("hotspot")

	assert.Equal(t, 6, h.radio.LastAPConfig().Channel)
	assert.Equal(t, 6, h.mgr.State().APChannel)
}

func TestAPClients(t *testing.T) {
	h := newHarness(t, nil)
	h.add(apProfile())
	h.startAP("hotspot")

	mac := net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	h.radio.Inject(radio.ClientAssociated{MAC: mac})
	h.expect(ReasonUapClientAssoc)
	require.Eventually(t, func() bool { return h.mgr.State().APClients == 1 }, time.Second, 5*time.Millisecond)

	h.radio.Inject(radio.ClientDisassociated{MAC: mac})
	h.expect(ReasonUapClientDissoc)
	require.Eventually(t, func() bool { return h.mgr.State().APClients == 0 }, time.Second, 5*time.Millisecond)
}

func TestAPFirmwareRejects(t *testing.T) {
	h := newHarness(t, nil)
	h.add(apProfile())
	h.radio.SetAPReject(true)

	require.NoError(t, h.mgr.StartNetwork(h.ctx, "hotspot"))
	h.expect(ReasonUapStartFailed)
	h.waitAP(state.APInitializing)

	h.radio.SetAPReject(false)
	h.startAP("hotspot")
}

func TestAPBridge(t *testing.T) {
	h := newHarness(t, nil)
	p := apProfile()
	p.IP = profile.IPConfig{Type: profile.AddrBridge, Bridge: "br0"}
	h.add(p)
	h.startAP("hotspot")

	assert.Contains(t, h.ip.Calls(), "bridge uap0")
	assert.False(t, h.ip.DHCPServerRunning("uap0"))
}

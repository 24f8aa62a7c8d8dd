package wlcmgr

import (
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
)

// APOverrides adjusts the next soft-AP start. They can only be changed
// while the soft-AP is down and are reset by every stop.
type APOverrides struct {
	Channel      int // 0 keeps the profile's channel
	BeaconPeriod int // TU
	Bandwidth    int // MHz
	Hidden       bool
}

type apContext struct {
	state     state.APState
	active    string
	prof      profile.Profile
	channel   int
	addr      netip.Prefix
	overrides APOverrides
	clients   map[string]struct{}
	stopping  string
}

func (m *Manager) defaultOverrides() APOverrides {
	return APOverrides{
		BeaconPeriod: m.opts.BeaconPeriod,
		Bandwidth:    m.opts.Bandwidth,
	}
}

func (m *Manager) channelAllowed(ch int) bool {
	for _, c := range m.opts.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

func (m *Manager) setAPOverrides(ov APOverrides) error {
	if m.ap.state != state.APInitializing {
		return fmt.Errorf("%w: soft-AP is running", ErrState)
	}
	if ov.Channel != 0 && !m.channelAllowed(ov.Channel) {
		return fmt.Errorf("%w: %d", ErrChannelNotAllowed, ov.Channel)
	}
	def := m.defaultOverrides()
	if ov.BeaconPeriod == 0 {
		ov.BeaconPeriod = def.BeaconPeriod
	}
	if ov.Bandwidth == 0 {
		ov.Bandwidth = def.Bandwidth
	}
	switch ov.Bandwidth {
	case 20, 40, 80:
	default:
		return fmt.Errorf("%w: bandwidth %d MHz", ErrState, ov.Bandwidth)
	}
	m.ap.overrides = ov
	return nil
}

func (m *Manager) apLog() *logrus.Entry {
	return logger.WithField("uap", m.ap.active)
}

func (m *Manager) startNetwork(name string) error {
	p, ok := m.store.Get(name)
	if !ok || p.Role != profile.RoleAccessPoint {
		return fmt.Errorf("%w: %s is not a known access point network", ErrInvalidProfile, name)
	}
	if m.ap.state != state.APInitializing {
		return fmt.Errorf("%w: soft-AP already running %s", ErrInvalidProfile, m.ap.active)
	}

	ov := m.ap.overrides
	ch := p.Channel
	if ov.Channel != 0 {
		ch = ov.Channel
	}
	if ch != 0 && !m.channelAllowed(ch) {
		m.report(ReasonUapStartFailed, name)
		return fmt.Errorf("%w: %d", ErrChannelNotAllowed, ch)
	}
	if m.sta.linked && m.sta.channel != 0 && ch != m.sta.channel {
		if ch != 0 {
			logger.WithFields(logrus.Fields{
				"requested": ch,
				"station":   m.sta.channel,
			}).Warn("Soft-AP must share the station channel, overriding")
		}
		ch = m.sta.channel
	}

	cfg := radio.APConfig{
		SSID:         p.SSID,
		Channel:      ch,
		BeaconPeriod: ov.BeaconPeriod,
		Bandwidth:    ov.Bandwidth,
		Hidden:       p.Hidden || ov.Hidden,
		Security:     p.Security.Type.Caps(),
		Key:          p.Security.Key(p.Security.Type),
		PMF:          p.Security.PMFRequired || p.Security.Type == profile.SecurityWPA3SAE,
	}
	if err := m.retry("start-ap", func() error { return m.radio.StartAP(cfg) }); err != nil {
		m.report(ReasonUapStartFailed, name)
		return err
	}

	m.ap.active = name
	m.ap.prof = p
	m.ap.clients = make(map[string]struct{})
	m.setAP(state.APConfigured)
	m.apLog().WithField("channel", ch).Info("Starting soft-AP")
	return nil
}

func (m *Manager) handleAPStarted(ev radio.APStarted) {
	if m.ap.state != state.APConfigured {
		return
	}
	name := m.ap.active
	if !ev.OK {
		m.apLog().Warn("Firmware refused to start soft-AP")
		m.teardownAP()
		m.report(ReasonUapStartFailed, name)
		return
	}

	m.ap.channel = ev.Channel
	m.setAP(state.APStarted)
	if err := m.configureAPAddress(); err != nil {
		m.apLog().WithError(err).Warn("Soft-AP address configuration failed")
		if err := m.radio.StopAP(); err != nil {
			m.apLog().WithError(err).Warn("Failed to stop soft-AP")
		}
		m.teardownAP()
		m.report(ReasonUapStartFailed, name)
		return
	}
	m.setAP(state.APIPUp)
	m.apLog().WithField("channel", ev.Channel).Info("Soft-AP up")
	m.report(ReasonUapSuccess, name)
}

func (m *Manager) configureAPAddress() error {
	iface := m.opts.UAPIface
	ipc := m.ap.prof.IP
	if err := m.ip.Up(iface); err != nil {
		return err
	}
	switch ipc.Type {
	case profile.AddrBridge:
		return m.ip.AttachBridge(iface, ipc.Bridge)
	case profile.AddrStatic:
		if err := m.ip.ApplyStatic(iface, ipc); err != nil {
			return err
		}
		m.ap.addr = ipc.Address
		if err := m.ip.StartDHCPServer(iface, ipc.Address); err != nil {
			m.apLog().WithError(err).Warn("DHCP server not started, clients need static addresses")
		}
	}
	return nil
}

func (m *Manager) stopNetwork(name string) error {
	if m.ap.state == state.APInitializing {
		return fmt.Errorf("%w: soft-AP is not running", ErrState)
	}
	if name != m.ap.active {
		return fmt.Errorf("%w: soft-AP is running %s", ErrInvalidProfile, m.ap.active)
	}
	if err := m.retry("stop-ap", m.radio.StopAP); err != nil {
		m.report(ReasonUapStopFailed, name)
		return err
	}
	m.teardownAP()
	m.ap.stopping = name
	logger.WithField("uap", name).Info("Soft-AP stopping")
	return nil
}

func (m *Manager) handleAPStopped(ev radio.APStopped) {
	name := m.ap.stopping
	if name == "" {
		return
	}
	m.ap.stopping = ""
	if !ev.OK {
		m.report(ReasonUapStopFailed, name)
		return
	}
	m.report(ReasonUapStopped, name)
}

// teardownAP releases the soft-AP's IP resources and restores defaults
func (m *Manager) teardownAP() {
	iface := m.opts.UAPIface
	if m.ap.state == state.APStarted || m.ap.state == state.APIPUp {
		m.ip.StopDHCPServer(iface)
		if err := m.ip.Flush(iface); err != nil {
			logger.WithError(err).Warn("Failed to flush soft-AP addresses")
		}
		if err := m.ip.Down(iface); err != nil {
			logger.WithError(err).Warn("Failed to bring soft-AP interface down")
		}
	}
	m.ap.active = ""
	m.ap.prof = profile.Profile{}
	m.ap.channel = 0
	m.ap.addr = netip.Prefix{}
	m.ap.clients = nil
	m.ap.overrides = m.defaultOverrides()
	m.setAP(state.APInitializing)
}

func (m *Manager) handleClient(mac string, joined bool) {
	if m.ap.state != state.APStarted && m.ap.state != state.APIPUp {
		return
	}
	if joined {
		m.ap.clients[mac] = struct{}{}
		m.apLog().WithField("client", mac).Info("Client associated")
		m.report(ReasonUapClientAssoc, m.ap.active)
		return
	}
	delete(m.ap.clients, mac)
	m.apLog().WithField("client", mac).Info("Client disassociated")
	m.report(ReasonUapClientDissoc, m.ap.active)
}

package wlcmgr

import (
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"

	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
)

type hostSleepState int

const (
	hostSleepOff hostSleepState = iota
	hostSleepArmed
	hostSleepSuspending
	hostSleepActivated
)

func (s hostSleepState) String() string {
	switch s {
	case hostSleepArmed:
		return "armed"
	case hostSleepSuspending:
		return "suspending"
	case hostSleepActivated:
		return "activated"
	}
	return "disabled"
}

// powerContext tracks power-save modes and the host-sleep handshake.
// requested is what was asked for, active what the firmware confirmed.
type powerContext struct {
	requested radio.PowerMode
	active    radio.PowerMode
	mode      HostSleepMode
	wake      radio.WakeConditions
	hs        hostSleepState
	suspend   errReply
	wakelocks int
}

var powerModes = []radio.PowerMode{radio.PowerIEEE, radio.PowerDeepSleep, radio.PowerWNM}

func (p powerContext) activeNames() []string {
	var names []string
	for _, mode := range powerModes {
		if p.active&mode != 0 {
			names = append(names, mode.String())
		}
	}
	return names
}

func (m *Manager) setPowerMode(mode radio.PowerMode, enable bool) error {
	switch mode {
	case radio.PowerIEEE, radio.PowerDeepSleep:
	case radio.PowerWNM:
		if !m.caps.WNM {
			return fmt.Errorf("%w: %s", ErrUnsupported, mode)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, mode)
	}

	if enable {
		if m.power.requested&mode != 0 {
			return nil
		}
		if mode == radio.PowerDeepSleep && (m.sta.state != state.StationIdle || m.ap.state != state.APInitializing) {
			return fmt.Errorf("%w: deep sleep needs both roles idle", ErrState)
		}
	} else if m.power.requested&mode == 0 {
		return nil
	}

	if err := m.retry("power", func() error { return m.radio.SetPowerMode(mode, enable) }); err != nil {
		return err
	}
	if enable {
		m.power.requested |= mode
	} else {
		m.power.requested &^= mode
	}
	logger.WithFields(logrus.Fields{
		"mode":   mode,
		"enable": enable,
	}).Info("Power save updated")
	return nil
}

func (m *Manager) handlePowerModeChanged(ev radio.PowerModeChanged) {
	if ev.Entered {
		if m.power.active&ev.Mode != 0 {
			return
		}
		m.power.active |= ev.Mode
		m.report(ReasonPsEnter, "")
		return
	}
	if m.power.active&ev.Mode == 0 {
		return
	}
	m.power.active &^= ev.Mode
	m.report(ReasonPsExit, "")
}

func (m *Manager) configureHostSleep(mode HostSleepMode, wake radio.WakeConditions) error {
	if mode != HostSleepDisabled && !m.caps.HostSleep {
		return fmt.Errorf("%w: host sleep", ErrUnsupported)
	}
	if m.power.hs == hostSleepSuspending || m.power.hs == hostSleepActivated {
		return fmt.Errorf("%w: host is suspended", ErrState)
	}
	m.power.mode = mode
	if wake != 0 {
		m.power.wake = wake
	}
	if mode == HostSleepDisabled {
		m.power.hs = hostSleepOff
	} else {
		m.power.hs = hostSleepArmed
	}
	logger.WithFields(logrus.Fields{
		"mode": mode,
		"wake": fmt.Sprintf("%#x", uint32(m.power.wake)),
	}).Info("Host sleep configured")
	return nil
}

// suspendRefusal explains why the host may not sleep right now
func (m *Manager) suspendRefusal() error {
	switch {
	case m.power.hs == hostSleepOff:
		return fmt.Errorf("%w: host sleep is disabled", ErrSuspendRefused)
	case m.power.hs != hostSleepArmed:
		return fmt.Errorf("%w: suspend already in progress", ErrState)
	case m.sta.state.Connecting() || m.sta.state == state.StationUserScanning:
		return fmt.Errorf("%w: station is %s", ErrSuspendRefused, m.sta.state)
	case m.ap.state == state.APConfigured:
		return fmt.Errorf("%w: soft-AP is starting", ErrSuspendRefused)
	case m.permit.Held():
		return fmt.Errorf("%w: scan in progress", ErrSuspendRefused)
	case m.power.wakelocks > 0:
		return fmt.Errorf("%w: %d wakelocks held", ErrSuspendRefused, m.power.wakelocks)
	}
	return nil
}

// prepareSuspend arms host sleep in the firmware. reply is answered when
// the firmware acknowledges or the acknowledgement times out.
func (m *Manager) prepareSuspend(reply errReply) {
	if err := m.suspendRefusal(); err != nil {
		logger.WithError(err).Info("Suspend refused")
		reply <- err
		return
	}

	var addr netip.Addr
	switch {
	case m.sta.addr.IsValid():
		addr = m.sta.addr.Addr()
	case m.ap.addr.IsValid():
		addr = m.ap.addr.Addr()
	}
	req := radio.HostSleepRequest{Addr: addr, Wake: m.power.wake, Activate: true}
	if err := m.retry("host-sleep", func() error { return m.radio.ConfigureHostSleep(req) }); err != nil {
		reply <- err
		return
	}
	m.power.hs = hostSleepSuspending
	m.power.suspend = reply
	m.stopTimer(timerStatusPoll)
	m.startTimer(timerHostSleepAck, m.opts.HostSleepAck)
	logger.WithField("address", addr).Debug("Waiting for host sleep acknowledgement")
}

func (m *Manager) handleHostSleepActivated(ev radio.HostSleepActivated) {
	if m.power.hs != hostSleepSuspending {
		return
	}
	m.stopTimer(timerHostSleepAck)
	if !ev.OK {
		m.failSuspend(fmt.Errorf("%w: firmware rejected host sleep", ErrSuspendRefused))
		return
	}
	m.power.hs = hostSleepActivated
	if m.power.suspend != nil {
		m.power.suspend <- nil
		m.power.suspend = nil
	}
	logger.Info("Host sleep activated")
	m.report(ReasonHostSleepActivated, "")
}

func (m *Manager) handleHostSleepTimeout() {
	if m.power.hs != hostSleepSuspending {
		return
	}
	logger.Warn("Host sleep acknowledgement timed out")
	if err := m.radio.ConfigureHostSleep(radio.HostSleepRequest{}); err != nil {
		logger.WithError(err).Warn("Failed to cancel host sleep")
	}
	m.failSuspend(ErrHostSleepTimeout)
}

// failSuspend answers a waiting suspend with err and re-arms monitoring
func (m *Manager) failSuspend(err error) {
	if m.power.suspend != nil {
		m.power.suspend <- err
		m.power.suspend = nil
	}
	if m.power.hs == hostSleepSuspending {
		m.power.hs = hostSleepArmed
		m.rearmStatusPoll()
	}
}

func (m *Manager) resume() error {
	switch m.power.hs {
	case hostSleepSuspending:
		m.stopTimer(timerHostSleepAck)
		m.failSuspend(fmt.Errorf("%w: resumed before acknowledgement", ErrSuspendRefused))
	case hostSleepActivated:
	default:
		return nil
	}

	if err := m.retry("host-sleep", func() error {
		return m.radio.ConfigureHostSleep(radio.HostSleepRequest{})
	}); err != nil {
		logger.WithError(err).Warn("Failed to cancel host sleep")
	}
	if m.power.mode == HostSleepOneshot {
		m.power.mode = HostSleepDisabled
		m.power.hs = hostSleepOff
	} else {
		m.power.hs = hostSleepArmed
	}
	logger.WithField("mode", m.power.mode).Info("Resumed from host sleep")
	m.pollStatus()
	return nil
}

func (m *Manager) wakelock(acquire bool) error {
	if acquire {
		m.power.wakelocks++
		return nil
	}
	if m.power.wakelocks == 0 {
		return fmt.Errorf("%w: no wakelock held", ErrState)
	}
	m.power.wakelocks--
	return nil
}

func (m *Manager) rearmStatusPoll() {
	if m.opts.StatusPoll > 0 && m.sta.state == state.StationConnected {
		m.startTimer(timerStatusPoll, m.opts.StatusPoll)
	}
}

// pollStatus refreshes the station address and notices a lease that
// vanished underneath us
func (m *Manager) pollStatus() {
	if m.sta.state != state.StationConnected || m.power.hs == hostSleepActivated {
		return
	}
	if addr, ok := m.ip.Address(m.opts.StationIface); ok {
		m.sta.addr = addr
	} else if m.sta.ipUp {
		m.stationLog().Warn("Station address disappeared")
		m.attemptFailed(ReasonAddressFailed, true)
		return
	}
	m.rearmStatusPoll()
}

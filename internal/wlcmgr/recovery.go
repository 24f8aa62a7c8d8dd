package wlcmgr

import (
	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
)

// handleFirmwareHang forces both roles back to Initializing, releases
// every resource and re-initializes the radio in the background
func (m *Manager) handleFirmwareHang(ev radio.FirmwareHang) {
	logger.WithField("reason", ev.Reason).Error("Firmware hang detected")
	m.report(ReasonFwHang, "")

	for kind := range m.timers {
		m.stopTimer(kind)
	}
	m.resetReconnect()

	// the firmware lost its associations, nothing to deauthenticate
	m.sta.linked = false
	m.setStation(state.StationInitializing)
	m.releaseStation()
	m.sta.active = ""

	m.scans = nil
	if m.userScan != nil {
		m.finishUserScan(nil, ErrFirmwareReset)
	}

	m.teardownAP()
	m.ap.stopping = ""

	m.power.requested = 0
	m.power.active = 0
	m.failSuspend(ErrFirmwareReset)
	if m.power.hs == hostSleepActivated {
		m.power.hs = hostSleepArmed
	}

	m.reinit()
}

func (m *Manager) reinit() {
	ctx := m.ctx
	go func() {
		err := m.radio.Init(ctx)
		if ctx.Err() != nil {
			return
		}
		if qerr := m.enqueue(reinitDone{err: err}); qerr != nil {
			logger.WithError(qerr).Error("Lost radio re-initialization result")
		}
	}()
}

func (m *Manager) handleReinitDone(err error) {
	if m.sta.state != state.StationInitializing {
		return
	}
	fw := m.radio.FirmwareVersion()
	if err == nil {
		err = m.applyFirmware(fw)
	}
	if err != nil {
		logger.WithError(err).Error("Radio re-initialization failed")
		m.report(ReasonInitializationFailed, "")
		m.startTimer(timerReinit, m.opts.ReinitBackoff)
		return
	}
	m.setStation(state.StationIdle)
	logger.WithField("firmware", fw).Info("Radio re-initialized")
	m.report(ReasonFwReset, "")
}

package wlcmgr

import (
	"wlcmgr/internal/scan"
	"wlcmgr/internal/state"
)

func (m *Manager) reconnectEnabled() bool {
	return m.opts.Reconnect && m.opts.ReconnectLimit > 0
}

// scheduleReconnect arms the backoff timer for the next attempt, or gives
// up once the limit is reached
func (m *Manager) scheduleReconnect() {
	if m.sta.reconnectCount >= m.opts.ReconnectLimit {
		m.giveUp()
		return
	}
	m.sta.reconnectCount++
	m.metrics.IncReconnects()
	m.stationLog().WithField("attempt", m.sta.reconnectCount).Info("Scheduling reconnect")
	m.startTimer(timerReconnect, m.opts.ReconnectBackoff)
}

// giveUp ends a reconnect sequence with ConnectFailed and leaves the
// station Idle with no active network
func (m *Manager) giveUp() {
	name := m.sta.active
	m.stationLog().WithField("attempts", m.sta.reconnectCount).Warn("Reconnect limit reached")
	m.resetReconnect()
	m.teardownStation()
	m.sta.active = ""
	m.report(ReasonConnectFailed, name)
}

func (m *Manager) reconnectNow() {
	if !m.sta.reconnecting || m.sta.state != state.StationIdle || m.sta.active == "" {
		return
	}
	p, ok := m.store.Get(m.sta.active)
	if !ok {
		m.giveUp()
		return
	}
	if !m.permit.TryAcquire() {
		m.stationLog().Debug("Scan permit busy, reconnect deferred")
		m.sta.pendingReconnect = true
		return
	}
	m.sta.holdsPermit = true
	m.beginAttempt(p.Reset(), scan.Preference{Hint: m.sta.lastBSSID})
}

func (m *Manager) resetReconnect() {
	m.sta.reconnecting = false
	m.sta.reconnectCount = 0
	m.sta.pendingReconnect = false
	m.stopTimer(timerReconnect)
}

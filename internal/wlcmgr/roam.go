package wlcmgr

import (
	"github.com/sirupsen/logrus"

	"wlcmgr/internal/radio"
	"wlcmgr/internal/scan"
	"wlcmgr/internal/state"
)

// Roamer decides when and where the station moves within its ESS
type Roamer interface {
	// Threshold is the RSSI at or below which a roam scan starts
	Threshold() int
	UseNeighborReport() bool
	// Accept reports whether c is worth leaving the current BSS for
	Accept(currentRSSI int, c scan.Candidate) bool
}

// RSSIRoamer roams to a stronger BSS of the same network
type RSSIRoamer struct {
	threshold  int
	hysteresis int
	neighbor   bool
}

// NewRSSIRoamer creates a roamer that requires a candidate to beat the
// current signal by 5 dB
func NewRSSIRoamer(threshold int, neighborReport bool) *RSSIRoamer {
	return &RSSIRoamer{threshold: threshold, hysteresis: 5, neighbor: neighborReport}
}

func (r *RSSIRoamer) Threshold() int          { return r.threshold }
func (r *RSSIRoamer) UseNeighborReport() bool { return r.neighbor }

func (r *RSSIRoamer) Accept(currentRSSI int, c scan.Candidate) bool {
	return c.Result.RSSI >= currentRSSI+r.hysteresis
}

func (m *Manager) handleRSSILow(ev radio.RSSILow) {
	m.sta.rssi = ev.RSSI
	m.report(ReasonRssiLow, m.sta.active)
	if m.roamer == nil || m.sta.state != state.StationConnected || m.sta.roaming {
		return
	}
	if ev.RSSI > m.roamer.Threshold() {
		return
	}
	m.startRoam()
}

func (m *Manager) startRoam() {
	if !m.permit.TryAcquire() {
		m.stationLog().Debug("Scan permit busy, roam skipped")
		return
	}
	m.sta.holdsPermit = true
	m.sta.roaming = true

	if m.roamer.UseNeighborReport() {
		err := m.radio.RequestNeighborReport(m.sta.prof.SSID)
		if err == nil {
			m.startTimer(timerNeighborReport, m.opts.NeighborReport)
			return
		}
		m.stationLog().WithError(err).Warn("Neighbor report request failed")
	}
	m.roamScan(nil)
}

func (m *Manager) handleNeighborReport(ev radio.NeighborReport) {
	if _, waiting := m.timers[timerNeighborReport]; !waiting || !m.sta.roaming {
		return
	}
	m.stopTimer(timerNeighborReport)
	m.roamScan(ev.Channels)
}

func (m *Manager) handleNeighborTimeout() {
	if !m.sta.roaming || m.sta.state != state.StationConnected {
		return
	}
	m.stationLog().Debug("No neighbor report, scanning all channels")
	m.roamScan(nil)
}

func (m *Manager) roamScan(channels []int) {
	req := scan.Request(m.sta.base)
	if len(channels) > 0 && !m.sta.base.ChannelSpecific {
		req.Channels = channels
	}
	if err := m.issueScan(req, scanRoam); err != nil {
		m.stationLog().WithError(err).Warn("Roam scan failed")
		m.endRoam()
	}
}

func (m *Manager) endRoam() {
	m.sta.roaming = false
	m.releaseStationPermit()
	m.resumePending()
}

func (m *Manager) handleRoamScan(p scanPurpose, ev radio.ScanResults) {
	if p.gen != m.sta.gen || !m.sta.roaming || m.sta.state != state.StationConnected {
		return
	}
	cand, ok := scan.Select(m.sta.base, ev.Results, scan.Preference{Avoid: m.sta.bssid})
	if !ok || cand.Result.BSSID == m.sta.bssid || !m.roamer.Accept(m.sta.rssi, cand) {
		m.stationLog().WithField("rssi", m.sta.rssi).Debug("No better BSS to roam to")
		m.endRoam()
		return
	}

	m.releaseStationPermit()
	m.stationLog().WithFields(logrus.Fields{
		"from": m.sta.bssid,
		"to":   cand.Result.BSSID,
		"rssi": cand.Result.RSSI,
	}).Info("Roaming")
	m.sta.gen++
	m.sta.reassoc = true
	m.associate(cand)
}

package wlcmgr

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wlcmgr/internal/ipstack"
	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/scan"
	"wlcmgr/internal/state"
)

type scanKind int

const (
	scanConnect scanKind = iota
	scanUser
	scanRoam
)

func (k scanKind) String() string {
	switch k {
	case scanUser:
		return "user"
	case scanRoam:
		return "roam"
	}
	return "connect"
}

// scanPurpose tags an issued scan. The radio answers scans in order, so
// results are matched to purposes first in, first out.
type scanPurpose struct {
	kind scanKind
	gen  uint64
}

// stationContext is the station role's loop-owned state. gen changes with
// every attempt so events belonging to an abandoned attempt can be dropped.
type stationContext struct {
	state state.StationState
	gen   uint64

	active  string          // profile name, empty when no attempt is active
	base    profile.Profile // stored profile with wildcards intact
	prof    profile.Profile // base resolved against the chosen BSS
	cand    scan.Candidate
	pref    scan.Preference
	attempt uuid.UUID
	started time.Time

	scanCount     int
	assocFailures int
	hiddenProbed  bool
	holdsPermit   bool
	pendingScan   bool
	reassoc       bool
	roaming       bool

	linked  bool
	bssid   radio.BSSID
	channel int
	rssi    int
	ipUp    bool
	dhcp    ipstack.Session // exchange whose result is awaited, zero when none
	addr    netip.Prefix
	gateway netip.Addr

	reconnecting     bool
	reconnectCount   int
	pendingReconnect bool
	lastBSSID        radio.BSSID
}

func (m *Manager) stationLog() *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"network": m.sta.active,
		"attempt": m.sta.attempt.String(),
	})
}

func (m *Manager) addNetwork(p profile.Profile) error {
	if err := m.store.Add(p); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"network": p.Name,
		"role":    p.Role,
	}).Info("Network added")
	return nil
}

func (m *Manager) removeNetwork(name string) error {
	if name == m.sta.active || name == m.ap.active {
		return fmt.Errorf("%w: %s", ErrNetworkInUse, name)
	}
	if err := m.store.Remove(name); err != nil {
		return err
	}
	logger.WithField("network", name).Info("Network removed")
	return nil
}

// connect starts an attempt. The caller has already taken the scan permit.
func (m *Manager) connect(name string) error {
	p, ok := m.store.Get(name)
	if !ok || p.Role != profile.RoleStation {
		m.permit.Release()
		return fmt.Errorf("%w: %s is not a known station network", ErrInvalidProfile, name)
	}
	if m.power.hs == hostSleepSuspending || m.power.hs == hostSleepActivated {
		m.permit.Release()
		return fmt.Errorf("%w: host is suspended", ErrState)
	}

	if m.sta.active != "" || m.sta.state.Connecting() || m.sta.state.Linked() {
		prev := m.sta.active
		m.teardownStation()
		m.sta.active = ""
		m.report(ReasonUserDisconnect, prev)
	}
	m.resetReconnect()
	m.sta.holdsPermit = true
	m.beginAttempt(p.Reset(), scan.Preference{})
	return nil
}

// beginAttempt starts scanning for p. The loop must hold the permit.
func (m *Manager) beginAttempt(p profile.Profile, pref scan.Preference) {
	if m.power.requested&radio.PowerDeepSleep != 0 {
		if err := m.setPowerMode(radio.PowerDeepSleep, false); err != nil {
			logger.WithError(err).Warn("Failed to leave deep sleep before connecting")
		}
	}

	m.sta.gen++
	m.sta.active = p.Name
	m.sta.base = p
	m.sta.prof = p
	m.sta.cand = scan.Candidate{}
	m.sta.pref = pref
	m.sta.attempt = uuid.New()
	m.sta.started = time.Now()
	m.sta.scanCount = 0
	m.sta.assocFailures = 0
	m.sta.hiddenProbed = false
	m.sta.reassoc = false
	m.sta.roaming = false

	m.setStation(state.StationScanning)
	m.stationLog().WithField("reconnect", m.sta.reconnectCount).Info("Starting connection attempt")
	m.issueConnectScan(scan.Request(p))
}

func (m *Manager) issueScan(req radio.ScanRequest, kind scanKind) error {
	if err := m.retry("scan", func() error { return m.radio.Scan(req) }); err != nil {
		return err
	}
	m.scans = append(m.scans, scanPurpose{kind: kind, gen: m.sta.gen})
	m.metrics.ObserveScan(kind.String())
	return nil
}

// issueConnectScan issues a scan counted against the attempt's rescan limit
func (m *Manager) issueConnectScan(req radio.ScanRequest) {
	m.sta.scanCount++
	if err := m.issueScan(req, scanConnect); err != nil {
		m.commandFailed(err)
	}
}

// issueHiddenProbe issues the one directed scan of a hidden network. It
// is not counted against the rescan limit.
func (m *Manager) issueHiddenProbe(req radio.ScanRequest) {
	m.sta.hiddenProbed = true
	if err := m.issueScan(req, scanConnect); err != nil {
		m.commandFailed(err)
	}
}

// rescan issues another connect scan, waiting for the permit if a user
// scan currently owns it
func (m *Manager) rescan() {
	if !m.sta.holdsPermit {
		if !m.permit.TryAcquire() {
			m.stationLog().Debug("Scan permit busy, rescan deferred")
			m.sta.pendingScan = true
			return
		}
		m.sta.holdsPermit = true
	}
	m.issueConnectScan(scan.Request(m.sta.base))
}

func (m *Manager) releaseStationPermit() {
	if m.sta.holdsPermit {
		m.sta.holdsPermit = false
		m.permit.Release()
	}
}

// resumePending restarts work that waited for the permit
func (m *Manager) resumePending() {
	switch {
	case m.sta.pendingScan && m.sta.state == state.StationScanning:
		m.sta.pendingScan = false
		m.rescan()
	case m.sta.pendingReconnect:
		m.sta.pendingReconnect = false
		m.reconnectNow()
	}
}

// commandFailed ends the attempt after the radio refused a command
func (m *Manager) commandFailed(err error) {
	name := m.sta.active
	m.stationLog().WithError(err).Error("Giving up on connection attempt")
	m.resetReconnect()
	m.teardownStation()
	m.sta.active = ""
	m.report(ReasonConnectFailed, name)
}

func (m *Manager) handleScanResults(ev radio.ScanResults) {
	if len(m.scans) == 0 {
		logger.Warn("Unsolicited scan results dropped")
		return
	}
	p := m.scans[0]
	m.scans = m.scans[1:]

	switch p.kind {
	case scanUser:
		m.finishUserScan(ev.Results, ev.Err)
	case scanRoam:
		m.handleRoamScan(p, ev)
	default:
		m.handleConnectScan(p, ev)
	}
}

func (m *Manager) handleConnectScan(p scanPurpose, ev radio.ScanResults) {
	if p.gen != m.sta.gen || m.sta.state != state.StationScanning {
		logger.Debug("Results of an abandoned scan dropped")
		return
	}
	if ev.Err != nil {
		m.stationLog().WithError(ev.Err).Warn("Scan completed with error")
	}

	if cand, ok := scan.Select(m.sta.base, ev.Results, m.sta.pref); ok {
		m.releaseStationPermit()
		m.associate(cand)
		return
	}

	if !m.sta.hiddenProbed {
		if probe, ok := scan.HiddenProbe(m.sta.base, ev.Results); ok {
			m.stationLog().WithField("channels", probe.Channels).Debug("Hidden network not found, probing directly")
			m.issueHiddenProbe(probe)
			return
		}
	}
	if m.sta.scanCount < m.opts.RescanLimit {
		m.stationLog().WithFields(logrus.Fields{
			"scan":  m.sta.scanCount,
			"limit": m.opts.RescanLimit,
		}).Debug("Network not found, rescanning")
		m.issueConnectScan(scan.Request(m.sta.base))
		return
	}

	m.releaseStationPermit()
	if m.sta.reassoc {
		m.stationLog().Warn("Reassociation target not found, staying on current BSS")
		m.sta.reassoc = false
		m.sta.pref = scan.Preference{}
		m.setStation(state.StationConnected)
		return
	}
	m.attemptFailed(ReasonNetworkNotFound, false)
}

func (m *Manager) associate(cand scan.Candidate) {
	m.sta.cand = cand
	m.sta.prof = m.sta.base.Resolve(cand.Result)
	m.sta.channel = cand.Result.Channel
	m.sta.rssi = cand.Result.RSSI

	req := m.negotiator.AssociateRequest(m.sta.prof, cand)
	if err := m.retry("associate", func() error { return m.radio.Associate(req) }); err != nil {
		m.commandFailed(err)
		return
	}
	m.stationLog().WithFields(logrus.Fields{
		"bssid":    cand.Result.BSSID,
		"channel":  cand.Result.Channel,
		"rssi":     cand.Result.RSSI,
		"security": cand.Security,
	}).Info("Associating")
	m.setStation(state.StationAssociating)
}

func (m *Manager) handleAssociation(ev radio.Association) {
	if m.sta.state != state.StationAssociating || ev.BSSID != m.sta.cand.Result.BSSID {
		logger.WithField("bssid", ev.BSSID).Debug("Stale association event dropped")
		return
	}
	if ev.OK {
		m.sta.linked = true
		m.sta.bssid = ev.BSSID
		m.setStation(state.StationAssociated)
		return
	}

	m.stationLog().WithFields(logrus.Fields{
		"bssid":  ev.BSSID,
		"status": ev.Status,
	}).Warn("Association rejected")
	m.sta.linked = false

	if m.sta.reassoc {
		m.attemptFailed(ReasonLinkLost, true)
		return
	}
	m.sta.assocFailures++
	if m.sta.assocFailures < m.negotiator.AssocRetryLimit() && m.sta.scanCount < m.opts.RescanLimit {
		m.sta.pref.Avoid = ev.BSSID
		m.setStation(state.StationScanning)
		m.rescan()
		return
	}
	m.attemptFailed(ReasonNetworkAuthFailed, true)
}

func (m *Manager) handleAuthentication(ev radio.Authentication) {
	if m.sta.state != state.StationAssociated || ev.BSSID != m.sta.cand.Result.BSSID {
		logger.WithField("bssid", ev.BSSID).Debug("Stale authentication event dropped")
		return
	}

	var err error
	if !ev.OK {
		err = fmt.Errorf("key exchange failed, reason %d", ev.Reason)
	} else {
		err = m.negotiator.VerifyAuthentication(m.sta.prof, ev)
	}
	if err != nil {
		m.stationLog().WithError(err).Warn("Authentication failed")
		m.attemptFailed(ReasonNetworkAuthFailed, true)
		return
	}

	m.setStation(state.StationAuthenticated)
	if m.sta.reassoc && m.sta.ipUp {
		m.connected()
		return
	}
	m.configureAddress()
}

func (m *Manager) configureAddress() {
	iface := m.opts.StationIface
	ipc := m.sta.prof.IP
	m.setStation(state.StationRequestingAddress)

	if err := m.ip.Up(iface); err != nil {
		m.addressSetupFailed(err)
		return
	}
	if ipc.Type == profile.AddrStatic {
		if err := m.ip.ApplyStatic(iface, ipc); err != nil {
			m.addressSetupFailed(err)
			return
		}
		m.sta.ipUp = true
		m.sta.addr = ipc.Address
		m.sta.gateway = ipc.Gateway
		m.connected()
		return
	}
	session, err := m.ip.StartDHCP(iface)
	if err != nil {
		m.addressSetupFailed(err)
		return
	}
	m.sta.dhcp = session
	m.sta.ipUp = true
	m.setStation(state.StationObtainingAddress)
}

func (m *Manager) addressSetupFailed(err error) {
	m.stationLog().WithError(err).Warn("Address configuration failed")
	m.attemptFailed(ReasonAddressFailed, true)
}

func (m *Manager) handleAddressAcquired(ev ipstack.AddressAcquired) {
	if ev.Session == 0 || ev.Session != m.sta.dhcp {
		logger.WithField("address", ev.Prefix).Debug("Address from a stopped DHCP exchange dropped")
		return
	}
	switch m.sta.state {
	case state.StationObtainingAddress:
		m.sta.addr = ev.Prefix
		m.sta.gateway = ev.Gateway
		m.connected()
	case state.StationConnected:
		m.sta.addr = ev.Prefix
		m.sta.gateway = ev.Gateway
		m.report(ReasonAddressSuccess, m.sta.active)
	default:
		logger.WithField("address", ev.Prefix).Debug("Stale address event dropped")
	}
}

func (m *Manager) handleAddressFailed(ev ipstack.AddressFailed) {
	if ev.Session == 0 || ev.Session != m.sta.dhcp {
		logger.WithError(ev.Err).Debug("Failure of a stopped DHCP exchange dropped")
		return
	}
	if m.sta.state != state.StationObtainingAddress && m.sta.state != state.StationConnected {
		return
	}
	m.addressSetupFailed(ev.Err)
}

func (m *Manager) connected() {
	m.sta.reassoc = false
	m.sta.roaming = false
	m.sta.pref = scan.Preference{}
	m.sta.lastBSSID = m.sta.bssid
	m.resetReconnect()
	m.setStation(state.StationConnected)

	if err := m.store.Update(m.sta.prof); err != nil {
		m.stationLog().WithError(err).Warn("Failed to record resolved network")
	}
	elapsed := time.Since(m.sta.started)
	m.metrics.ObserveConnectDuration(elapsed.Seconds())
	m.stationLog().WithFields(logrus.Fields{
		"bssid":   m.sta.bssid,
		"address": m.sta.addr,
		"elapsed": elapsed,
	}).Info("Connected")
	m.report(ReasonSuccess, m.sta.active)

	if m.opts.StatusPoll > 0 {
		m.startTimer(timerStatusPoll, m.opts.StatusPoll)
	}
}

// attemptFailed tears the attempt down and either hands it to the
// reconnection policy or reports the failure to the user
func (m *Manager) attemptFailed(reason Reason, eligible bool) {
	name := m.sta.active
	m.teardownStation()

	if m.sta.reconnecting || (eligible && m.reconnectEnabled()) {
		if !m.sta.reconnecting {
			m.report(reason, name)
			m.sta.reconnecting = true
		} else {
			m.stationLog().WithField("reason", reason).Debug("Reconnect attempt failed")
		}
		m.scheduleReconnect()
		return
	}
	m.sta.active = ""
	m.report(reason, name)
}

func (m *Manager) handleLinkDown(bssid radio.BSSID, code int, what string) {
	if !m.sta.linked || (!bssid.IsZero() && bssid != m.sta.bssid) {
		logger.WithField("bssid", bssid).Debug("Link event for a BSS we are not on")
		return
	}
	m.stationLog().WithFields(logrus.Fields{
		"bssid":  bssid,
		"reason": code,
	}).Warn("Link down: " + what)

	m.sta.linked = false
	if m.sta.ipUp && (m.sta.state == state.StationConnected || m.sta.reassoc) {
		m.attemptFailed(ReasonLinkLost, true)
		return
	}
	m.attemptFailed(ReasonNetworkAuthFailed, true)
}

func (m *Manager) handleChannelSwitch(ev radio.ChannelSwitch) {
	if !m.sta.linked {
		return
	}
	m.sta.channel = ev.Channel
	m.report(ReasonChanSwitch, m.sta.active)
	if m.ap.state != state.APInitializing && m.ap.channel != ev.Channel {
		logger.WithFields(logrus.Fields{
			"station": ev.Channel,
			"uap":     m.ap.channel,
		}).Warn("Station moved off the soft-AP channel")
	}
}

func (m *Manager) disconnect() error {
	if m.sta.active == "" && !m.sta.state.Connecting() && !m.sta.state.Linked() {
		return ErrNotConnected
	}
	name := m.sta.active
	m.resetReconnect()
	m.teardownStation()
	m.sta.active = ""
	m.report(ReasonUserDisconnect, name)
	return nil
}

// reassociate rescans for the current network preferring the current BSS.
// The caller has already taken the scan permit.
func (m *Manager) reassociate() error {
	if m.sta.state != state.StationConnected {
		m.permit.Release()
		return ErrNotConnected
	}
	m.sta.holdsPermit = true
	m.sta.gen++
	m.sta.reassoc = true
	m.sta.scanCount = 0
	m.sta.hiddenProbed = false
	m.sta.pref = scan.Preference{Hint: m.sta.bssid}
	m.sta.started = time.Now()
	m.setStation(state.StationScanning)
	m.stationLog().Info("Reassociating")
	m.issueConnectScan(scan.Request(m.sta.base))
	return nil
}

// teardownStation releases everything the current attempt holds and
// leaves the station Idle. The active profile is kept for the caller to
// clear.
func (m *Manager) teardownStation() {
	m.releaseStation()
	m.setStation(state.StationIdle)
}

// releaseStation undoes the current attempt without changing the station
// state
func (m *Manager) releaseStation() {
	iface := m.opts.StationIface
	m.stopTimer(timerStatusPoll)
	m.stopTimer(timerNeighborReport)

	if m.sta.state == state.StationAssociating || m.sta.linked {
		target := m.sta.bssid
		if !m.sta.linked {
			target = m.sta.cand.Result.BSSID
		}
		if err := m.radio.Deauthenticate(target); err != nil {
			logger.WithError(err).Warn("Deauthenticate failed")
		}
	}
	if m.sta.ipUp {
		m.ip.StopDHCP(iface)
		if err := m.ip.Flush(iface); err != nil {
			logger.WithError(err).Warn("Failed to flush station addresses")
		}
	}
	m.releaseStationPermit()

	if m.sta.active != "" {
		if p, ok := m.store.Get(m.sta.active); ok {
			m.store.Update(p.Reset())
		}
	}

	m.sta.gen++
	m.sta.pendingScan = false
	m.sta.reassoc = false
	m.sta.roaming = false
	m.sta.linked = false
	m.sta.bssid = radio.BSSID{}
	m.sta.channel = 0
	m.sta.rssi = 0
	m.sta.ipUp = false
	m.sta.dhcp = 0
	m.sta.addr = netip.Prefix{}
	m.sta.gateway = netip.Addr{}
}

// startUserScan issues the filtered scan. The caller holds the permit,
// which stays held until the results have been delivered.
func (m *Manager) startUserScan(req userScanReq) {
	for _, ch := range req.filter.Channels {
		if !m.channelAllowed(ch) {
			m.permit.Release()
			req.errReply <- fmt.Errorf("%w: %d", ErrChannelNotAllowed, ch)
			return
		}
	}
	if err := m.issueScan(req.filter.request(), scanUser); err != nil {
		m.permit.Release()
		req.errReply <- err
		return
	}
	m.userScan = &req
	if m.sta.state == state.StationIdle {
		m.setStation(state.StationUserScanning)
	}
	req.errReply <- nil
}

func (m *Manager) finishUserScan(results []radio.ScanResult, err error) {
	us := m.userScan
	if us == nil {
		return
	}
	m.userScan = nil
	m.permit.Release()
	if m.sta.state == state.StationUserScanning {
		m.setStation(state.StationIdle)
	}
	if err == nil {
		m.networks = toNetworks(results)
	}
	if cb := us.cb; cb != nil {
		m.notifier.post(func() { cb(results, err) })
	}
	if err == nil {
		m.report(ReasonScanDone, "")
	}
	m.resumePending()
}

func toNetworks(results []radio.ScanResult) []state.Network {
	out := make([]state.Network, 0, len(results))
	for _, r := range results {
		out = append(out, state.Network{
			SSID:      r.SSID,
			BSSID:     r.BSSID.String(),
			Security:  r.Security.String(),
			SignalDBm: int16(r.RSSI),
			Signal:    state.DBmToPercent(int16(r.RSSI)),
			Channel:   r.Channel,
			Frequency: state.ChannelToFrequency(r.Channel),
		})
	}
	return out
}

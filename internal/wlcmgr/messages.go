package wlcmgr

import (
	"wlcmgr/internal/ipstack"
	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
)

// message is anything the event loop consumes
type message interface{}

type radioMsg struct {
	ev radio.Event
}

type ipMsg struct {
	ev ipstack.Event
}

type timerKind int

const (
	timerReconnect timerKind = iota
	timerNeighborReport
	timerHostSleepAck
	timerStatusPoll
	timerReinit
)

type timerMsg struct {
	kind timerKind
	gen  uint64
}

type reinitDone struct {
	err error
}

// request is an API call waiting for the loop. Replies are buffered so the
// loop never blocks on a caller that has gone away.
type request interface {
	fail(err error)
	// holdsPermit reports whether the caller acquired the scan permit
	// and handed it to the loop with this request
	holdsPermit() bool
	allowedDuringInit() bool
}

type errReply chan error

func newReply() errReply {
	return make(errReply, 1)
}

func (r errReply) fail(err error) {
	r <- err
}

func (r errReply) holdsPermit() bool       { return false }
func (r errReply) allowedDuringInit() bool { return false }

type addNetworkReq struct {
	errReply
	p profile.Profile
}

type removeNetworkReq struct {
	errReply
	name string
}

type getNetworkResp struct {
	p   profile.Profile
	err error
}

type getNetworkReq struct {
	name  string
	reply chan getNetworkResp
}

func (r getNetworkReq) fail(err error)          { r.reply <- getNetworkResp{err: err} }
func (r getNetworkReq) holdsPermit() bool       { return false }
func (r getNetworkReq) allowedDuringInit() bool { return false }

type listNetworksReq struct {
	reply chan []profile.Profile
}

func (r listNetworksReq) fail(error)              { r.reply <- nil }
func (r listNetworksReq) holdsPermit() bool       { return false }
func (r listNetworksReq) allowedDuringInit() bool { return true }

type connectReq struct {
	errReply
	name string
}

func (connectReq) holdsPermit() bool { return true }

type disconnectReq struct {
	errReply
}

func (disconnectReq) allowedDuringInit() bool { return true }

type reassociateReq struct {
	errReply
}

func (reassociateReq) holdsPermit() bool { return true }

// ScanCallback receives the results of a user scan
type ScanCallback func(results []radio.ScanResult, err error)

// ScanFilter narrows a user scan. The zero filter scans every channel for
// every network.
type ScanFilter struct {
	SSID     string // directed probe when set
	BSSID    radio.BSSID
	Channels []int
}

func (f ScanFilter) request() radio.ScanRequest {
	return radio.ScanRequest{SSID: f.SSID, BSSID: f.BSSID, Channels: f.Channels}
}

type userScanReq struct {
	errReply
	filter ScanFilter
	cb     ScanCallback
}

func (userScanReq) holdsPermit() bool { return true }

type startNetworkReq struct {
	errReply
	name string
}

type stopNetworkReq struct {
	errReply
	name string
}

type apOverridesReq struct {
	errReply
	ov APOverrides
}

type powerReq struct {
	errReply
	mode   radio.PowerMode
	enable bool
}

type hostSleepReq struct {
	errReply
	mode HostSleepMode
	wake radio.WakeConditions
}

type suspendReq struct {
	errReply
}

type resumeReq struct {
	errReply
}

func (resumeReq) allowedDuringInit() bool { return true }

type wakelockReq struct {
	errReply
	acquire bool
}

func (wakelockReq) allowedDuringInit() bool { return true }

func (m *Manager) handleRequest(req request) {
	switch req := req.(type) {
	case addNetworkReq:
		req.errReply <- m.addNetwork(req.p)
	case removeNetworkReq:
		req.errReply <- m.removeNetwork(req.name)
	case getNetworkReq:
		p, ok := m.store.Get(req.name)
		if !ok {
			req.reply <- getNetworkResp{err: profile.ErrNotFound}
			return
		}
		req.reply <- getNetworkResp{p: p}
	case listNetworksReq:
		if m.store == nil {
			req.reply <- nil
			return
		}
		req.reply <- m.store.List()
	case connectReq:
		req.errReply <- m.connect(req.name)
	case disconnectReq:
		req.errReply <- m.disconnect()
	case reassociateReq:
		req.errReply <- m.reassociate()
	case userScanReq:
		m.startUserScan(req)
	case startNetworkReq:
		req.errReply <- m.startNetwork(req.name)
	case stopNetworkReq:
		req.errReply <- m.stopNetwork(req.name)
	case apOverridesReq:
		req.errReply <- m.setAPOverrides(req.ov)
	case powerReq:
		req.errReply <- m.setPowerMode(req.mode, req.enable)
	case hostSleepReq:
		req.errReply <- m.configureHostSleep(req.mode, req.wake)
	case suspendReq:
		m.prepareSuspend(req.errReply)
	case resumeReq:
		req.errReply <- m.resume()
	case wakelockReq:
		req.errReply <- m.wakelock(req.acquire)
	}
}
